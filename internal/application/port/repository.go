package port

import (
	"context"
	"time"

	"github.com/garyjia/expense-reconciler/internal/domain/entity"
)

// ReimbursementRepository defines persistence operations for Reimbursement.
// Create always stores the reimbursement as pending; the status columns are
// only written through ReconciliationStore.
type ReimbursementRepository interface {
	Create(ctx context.Context, r *entity.Reimbursement) error
	GetByID(ctx context.Context, id int64) (*entity.Reimbursement, error)
	GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*entity.Reimbursement, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Reimbursement, error)
	SetExternalStatus(ctx context.Context, id int64, label string) error
	TouchLastUpdate(ctx context.Context, id int64, at time.Time) error
}

// WorkOrderRepository defines persistence operations for WorkOrder
type WorkOrderRepository interface {
	Create(ctx context.Context, wo *entity.WorkOrder) error
	GetByID(ctx context.Context, id int64) (*entity.WorkOrder, error)

	// GetBySourceID returns the audit spawned from the given receipt intake order
	GetBySourceID(ctx context.Context, sourceWorkOrderID int64) (*entity.WorkOrder, error)

	GetByReimbursementID(ctx context.Context, reimbursementID int64) ([]*entity.WorkOrder, error)

	// Update writes status, opinion, audit result and attribution fields
	Update(ctx context.Context, wo *entity.WorkOrder) error

	// Delete removes the work order and, by cascade, its selections
	Delete(ctx context.Context, id int64) error
}

// LineItemRepository defines persistence operations for FeeLineItem.
// Create always stores the item as pending.
type LineItemRepository interface {
	Create(ctx context.Context, item *entity.FeeLineItem) error
	GetByID(ctx context.Context, id int64) (*entity.FeeLineItem, error)
	GetByExternalID(ctx context.Context, externalID string) (*entity.FeeLineItem, error)
	GetByDocumentNumber(ctx context.Context, documentNumber string) ([]*entity.FeeLineItem, error)
}

// SelectionRepository defines persistence operations for the work order to
// line item join
type SelectionRepository interface {
	// Create inserts the pairing. It returns false when the pair already exists.
	Create(ctx context.Context, sel *entity.Selection) (bool, error)

	// Delete removes the pairing. It returns false when no row matched.
	Delete(ctx context.Context, workOrderID, lineItemID int64) (bool, error)

	GetByWorkOrderID(ctx context.Context, workOrderID int64) ([]*entity.Selection, error)
}

// ReconciliationStore is the persistence contract of the reconcilers. The
// Persist methods are the only writers of the derived status columns.
type ReconciliationStore interface {
	// LoadWorkOrdersForLineItem returns the work orders selected for the line item, ordered by id
	LoadWorkOrdersForLineItem(ctx context.Context, lineItemID int64) ([]entity.WorkOrderSnapshot, error)

	// LoadWorkOrdersForReimbursement returns every work order of the reimbursement, ordered by id
	LoadWorkOrdersForReimbursement(ctx context.Context, reimbursementID int64) ([]entity.WorkOrderSnapshot, error)

	// LoadLineItemStatuses returns the verification status of every line item of the reimbursement
	LoadLineItemStatuses(ctx context.Context, reimbursementID int64) ([]entity.LineItemStatus, error)

	IsReimbursementClosed(ctx context.Context, reimbursementID int64) (bool, error)

	PersistLineItemStatus(ctx context.Context, lineItemID int64, status entity.VerificationStatus) error
	PersistReimbursementStatus(ctx context.Context, reimbursementID int64, status entity.ReimbursementStatus, manualOverride bool, overrideAt *time.Time) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
