package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-reconciler/internal/application/dispatcher"
	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
)

// CreateLineItemInput describes a new fee line item
type CreateLineItemInput struct {
	ExternalID  string          `json:"external_id" validate:"required,max=64"`
	Description string          `json:"description" validate:"max=500"`
	Amount      decimal.Decimal `json:"amount"`
}

// Summary is a reimbursement with its work orders and line items
type Summary struct {
	Reimbursement *entity.Reimbursement             `json:"reimbursement"`
	WorkOrders    []*entity.WorkOrder               `json:"work_orders"`
	LineItems     []*entity.FeeLineItem             `json:"line_items"`
	Total         decimal.Decimal                   `json:"total"`
	Counts        map[entity.VerificationStatus]int `json:"counts"`
}

// ReimbursementService manages reimbursements and their line items
type ReimbursementService interface {
	Create(ctx context.Context, invoiceNumber string) (*entity.Reimbursement, error)
	Get(ctx context.Context, id int64) (*entity.Reimbursement, error)
	GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*entity.Reimbursement, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Reimbursement, error)
	AddLineItem(ctx context.Context, reimbursementID int64, input CreateLineItemInput) (*entity.FeeLineItem, error)
	Summary(ctx context.Context, id int64) (*Summary, error)
}

type reimbursementServiceImpl struct {
	reimbursements port.ReimbursementRepository
	lineItems      port.LineItemRepository
	workOrders     WorkOrderService
	txManager      port.TransactionManager
	run            runner
	validate       *validator.Validate
	logger         Logger
}

// NewReimbursementService creates a new ReimbursementService
func NewReimbursementService(
	reimbursements port.ReimbursementRepository,
	lineItems port.LineItemRepository,
	workOrders WorkOrderService,
	txManager port.TransactionManager,
	locker port.Locker,
	d dispatcher.Dispatcher,
	logger Logger,
) ReimbursementService {
	return &reimbursementServiceImpl{
		reimbursements: reimbursements,
		lineItems:      lineItems,
		workOrders:     workOrders,
		txManager:      txManager,
		run:            runner{txManager: txManager, locker: locker, dispatcher: d, logger: logger},
		validate:       validator.New(),
		logger:         logger,
	}
}

// Create inserts a pending reimbursement
func (s *reimbursementServiceImpl) Create(ctx context.Context, invoiceNumber string) (*entity.Reimbursement, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return nil, fmt.Errorf("%w: invoice number is required", ErrValidation)
	}

	var r *entity.Reimbursement
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.reimbursements.GetByInvoiceNumber(ctx, invoiceNumber)
		if err != nil {
			return fmt.Errorf("get reimbursement: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: invoice number %s already exists", ErrValidation, invoiceNumber)
		}

		r = &entity.Reimbursement{InvoiceNumber: invoiceNumber}
		if err := s.reimbursements.Create(ctx, r); err != nil {
			return fmt.Errorf("create reimbursement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reimbursement created", "reimbursement_id", r.ID, "invoice_number", r.InvoiceNumber)
	return r, nil
}

// Get returns a reimbursement
func (s *reimbursementServiceImpl) Get(ctx context.Context, id int64) (*entity.Reimbursement, error) {
	r, err := s.reimbursements.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reimbursement: %w", err)
	}
	if r == nil {
		return nil, notFound("reimbursement", id)
	}
	return r, nil
}

// GetByInvoiceNumber returns a reimbursement by its invoice number
func (s *reimbursementServiceImpl) GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*entity.Reimbursement, error) {
	r, err := s.reimbursements.GetByInvoiceNumber(ctx, invoiceNumber)
	if err != nil {
		return nil, fmt.Errorf("get reimbursement: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: reimbursement %s", ErrNotFound, invoiceNumber)
	}
	return r, nil
}

// List returns reimbursements ordered by id
func (s *reimbursementServiceImpl) List(ctx context.Context, limit, offset int) ([]*entity.Reimbursement, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.reimbursements.List(ctx, limit, offset)
}

// AddLineItem creates a pending line item on the reimbursement's document
func (s *reimbursementServiceImpl) AddLineItem(ctx context.Context, reimbursementID int64, input CreateLineItemInput) (*entity.FeeLineItem, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err)
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}

	var (
		r    *entity.Reimbursement
		item *entity.FeeLineItem
	)
	// The closed check and the insert run under the reimbursement lock
	err := s.run.run(ctx, lockKeys(reimbursementID), func(ctx context.Context) error {
		var err error
		r, err = s.Get(ctx, reimbursementID)
		if err != nil {
			return err
		}
		if r.IsClosed() {
			return fmt.Errorf("%w: reimbursement %d", ErrReimbursementClosed, r.ID)
		}

		existing, err := s.lineItems.GetByExternalID(ctx, input.ExternalID)
		if err != nil {
			return fmt.Errorf("get line item: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: external id %s already exists", ErrValidation, input.ExternalID)
		}

		item = &entity.FeeLineItem{
			DocumentNumber: r.InvoiceNumber,
			ExternalID:     input.ExternalID,
			Description:    input.Description,
			Amount:         input.Amount,
		}
		return s.lineItems.Create(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Line item created",
		"line_item_id", item.ID,
		"reimbursement_id", r.ID,
		"amount", item.Amount.StringFixed(2),
	)
	return item, nil
}

// Summary returns the reimbursement with totals per verification status
func (s *reimbursementServiceImpl) Summary(ctx context.Context, id int64) (*Summary, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	items, err := s.lineItems.GetByDocumentNumber(ctx, r.InvoiceNumber)
	if err != nil {
		return nil, fmt.Errorf("get line items: %w", err)
	}

	orders, err := s.workOrders.ListByReimbursement(ctx, id)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Reimbursement: r,
		WorkOrders:    orders,
		LineItems:     items,
		Total:         decimal.Zero,
		Counts:        make(map[entity.VerificationStatus]int),
	}
	for _, item := range items {
		summary.Total = summary.Total.Add(item.Amount)
		summary.Counts[item.VerificationStatus]++
	}

	return summary, nil
}
