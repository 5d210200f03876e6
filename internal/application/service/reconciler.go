package service

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-reconciler/internal/application/dispatcher"
	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	"github.com/garyjia/expense-reconciler/internal/domain/event"
)

// Reconciler derives fee line item verification status
type Reconciler interface {
	// Recompute derives the line item status from scratch, persists it when it
	// changed, and settles the owning reimbursement.
	Recompute(ctx context.Context, lineItemID int64) (entity.VerificationStatus, error)
}

type reconcilerImpl struct {
	run            runner
	store          port.ReconciliationStore
	lineItems      port.LineItemRepository
	reimbursements port.ReimbursementRepository
	resolver       Resolver
	logger         Logger
}

// NewReconciler creates a new Reconciler
func NewReconciler(
	store port.ReconciliationStore,
	lineItems port.LineItemRepository,
	reimbursements port.ReimbursementRepository,
	resolver Resolver,
	txManager port.TransactionManager,
	locker port.Locker,
	d dispatcher.Dispatcher,
	logger Logger,
) Reconciler {
	return &reconcilerImpl{
		run:            runner{txManager: txManager, locker: locker, dispatcher: d, logger: logger},
		store:          store,
		lineItems:      lineItems,
		reimbursements: reimbursements,
		resolver:       resolver,
		logger:         logger,
	}
}

// Recompute derives and persists the status of one line item
func (s *reconcilerImpl) Recompute(ctx context.Context, lineItemID int64) (entity.VerificationStatus, error) {
	item, err := s.lineItems.GetByID(ctx, lineItemID)
	if err != nil {
		return "", fmt.Errorf("get line item: %w", err)
	}
	if item == nil {
		return "", notFound("line item", lineItemID)
	}

	r, err := s.reimbursements.GetByInvoiceNumber(ctx, item.DocumentNumber)
	if err != nil {
		return "", fmt.Errorf("get reimbursement: %w", err)
	}
	if r == nil {
		return "", fmt.Errorf("%w: reimbursement for document %s", ErrNotFound, item.DocumentNumber)
	}

	var status entity.VerificationStatus
	err = s.run.run(ctx, lockKeys(r.ID, lineItemID), func(ctx context.Context) error {
		var err error
		status, err = s.recomputeLine(ctx, r.ID, lineItemID)
		if err != nil {
			return err
		}
		_, err = s.resolver.Settle(ctx, r.ID)
		return err
	})
	if err != nil {
		return "", err
	}

	return status, nil
}

// recomputeLine runs inside the caller's unit, which must hold the line item lock
func (s *reconcilerImpl) recomputeLine(ctx context.Context, reimbursementID, lineItemID int64) (entity.VerificationStatus, error) {
	item, err := s.lineItems.GetByID(ctx, lineItemID)
	if err != nil {
		return "", fmt.Errorf("get line item: %w", err)
	}
	if item == nil {
		return "", notFound("line item", lineItemID)
	}

	orders, err := s.store.LoadWorkOrdersForLineItem(ctx, lineItemID)
	if err != nil {
		return "", fmt.Errorf("load work orders for line item %d: %w", lineItemID, err)
	}

	status := DeriveVerification(orders)
	if status == item.VerificationStatus {
		return status, nil
	}

	if err := s.store.PersistLineItemStatus(ctx, lineItemID, status); err != nil {
		s.logger.Error("Failed to persist line item status", "error", err, "line_item_id", lineItemID)
		return "", fmt.Errorf("persist line item status: %w", err)
	}

	s.logger.Info("Line item reconciled",
		"line_item_id", lineItemID,
		"previous_status", item.VerificationStatus,
		"new_status", status,
		"work_orders", len(orders),
	)

	emit(ctx, event.NewEvent(event.TypeLineItemReconciled, reimbursementID, map[string]interface{}{
		event.KeyLineItemID:     lineItemID,
		event.KeyPreviousStatus: string(item.VerificationStatus),
		event.KeyNewStatus:      string(status),
	}))

	return status, nil
}
