package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/garyjia/expense-reconciler/internal/application/dispatcher"
	"github.com/garyjia/expense-reconciler/internal/application/port"
	appwf "github.com/garyjia/expense-reconciler/internal/application/workflow"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	"github.com/garyjia/expense-reconciler/internal/domain/event"
	domainwf "github.com/garyjia/expense-reconciler/internal/domain/workflow"
)

// DefaultCommunicationMinContent is the minimum content length of a communication work order
const DefaultCommunicationMinContent = 10

// CreateWorkOrderInput describes a new work order
type CreateWorkOrderInput struct {
	Kind                entity.WorkOrderKind `json:"kind" validate:"required,oneof=RECEIPT_INTAKE AUDIT COMMUNICATION"`
	ReimbursementID     int64                `json:"reimbursement_id" validate:"required,gt=0"`
	LineItemIDs         []int64              `json:"line_item_ids" validate:"dive,gt=0"`
	CommunicationMethod string               `json:"communication_method,omitempty"`
	Content             string               `json:"content,omitempty"`

	// SourceWorkOrderID links a spawned audit to its receipt intake order
	SourceWorkOrderID *int64 `json:"-"`
}

// WorkOrderService is the mutation boundary for work orders. Every mutation
// is refused with ErrReimbursementClosed once the reimbursement is closed.
type WorkOrderService interface {
	Create(ctx context.Context, input CreateWorkOrderInput, actor entity.Actor) (*entity.WorkOrder, error)
	Get(ctx context.Context, id int64) (*entity.WorkOrder, error)
	ListByReimbursement(ctx context.Context, reimbursementID int64) ([]*entity.WorkOrder, error)

	// Transition fires a trigger against the work order's table
	Transition(ctx context.Context, id int64, trigger domainwf.Trigger, actor entity.Actor) (domainwf.State, error)

	// SetOpinion records a processing opinion and moves the order accordingly
	SetOpinion(ctx context.Context, id int64, opinion entity.Opinion, actor entity.Actor) (domainwf.State, error)

	Associate(ctx context.Context, workOrderID, lineItemID int64, note string, actor entity.Actor) error
	Disassociate(ctx context.Context, workOrderID, lineItemID int64, actor entity.Actor) error

	// Destroy deletes the work order and recomputes the line items it referenced
	Destroy(ctx context.Context, id int64, actor entity.Actor) error
}

// WorkOrderOption configures the work order service
type WorkOrderOption func(*workOrderServiceImpl)

// WithClock overrides the time source used for updated_at and audit dates
func WithClock(now func() time.Time) WorkOrderOption {
	return func(s *workOrderServiceImpl) {
		s.now = now
	}
}

// WithCommunicationMinContent sets the minimum communication content length
func WithCommunicationMinContent(n int) WorkOrderOption {
	return func(s *workOrderServiceImpl) {
		s.minContent = n
	}
}

type workOrderServiceImpl struct {
	run            runner
	workOrders     port.WorkOrderRepository
	selections     port.SelectionRepository
	lineItems      port.LineItemRepository
	reimbursements port.ReimbursementRepository
	store          port.ReconciliationStore
	reconciler     Reconciler
	resolver       Resolver
	validate       *validator.Validate
	logger         Logger
	now            func() time.Time
	minContent     int
}

// NewWorkOrderService creates a new WorkOrderService
func NewWorkOrderService(
	workOrders port.WorkOrderRepository,
	selections port.SelectionRepository,
	lineItems port.LineItemRepository,
	reimbursements port.ReimbursementRepository,
	store port.ReconciliationStore,
	reconciler Reconciler,
	resolver Resolver,
	txManager port.TransactionManager,
	locker port.Locker,
	d dispatcher.Dispatcher,
	logger Logger,
	opts ...WorkOrderOption,
) WorkOrderService {
	s := &workOrderServiceImpl{
		run:            runner{txManager: txManager, locker: locker, dispatcher: d, logger: logger},
		workOrders:     workOrders,
		selections:     selections,
		lineItems:      lineItems,
		reimbursements: reimbursements,
		store:          store,
		reconciler:     reconciler,
		resolver:       resolver,
		validate:       validator.New(),
		logger:         logger,
		now:            time.Now,
		minContent:     DefaultCommunicationMinContent,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create validates the input and inserts the work order in its kind's initial state
func (s *workOrderServiceImpl) Create(ctx context.Context, input CreateWorkOrderInput, actor entity.Actor) (*entity.WorkOrder, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	initial, err := appwf.InitialState(input.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var wo *entity.WorkOrder
	err = s.run.run(ctx, lockKeys(input.ReimbursementID, input.LineItemIDs...), func(ctx context.Context) error {
		r, err := s.openReimbursement(ctx, input.ReimbursementID)
		if err != nil {
			return err
		}

		items, err := s.ownedLineItems(ctx, r, input.LineItemIDs)
		if err != nil {
			return err
		}

		now := s.now()
		wo = &entity.WorkOrder{
			Kind:                input.Kind,
			Status:              initial.String(),
			ReimbursementID:     r.ID,
			CommunicationMethod: input.CommunicationMethod,
			Content:             input.Content,
			SourceWorkOrderID:   input.SourceWorkOrderID,
			CreatorID:           actor.ID,
			UpdatedBy:           actor.ID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := s.workOrders.Create(ctx, wo); err != nil {
			s.logger.Error("Failed to create work order", "error", err, "reimbursement_id", r.ID, "kind", input.Kind)
			return fmt.Errorf("create work order: %w", err)
		}

		for _, item := range items {
			if _, err := s.selections.Create(ctx, &entity.Selection{
				WorkOrderID: wo.ID,
				LineItemID:  item.ID,
				CreatedBy:   actor.ID,
				CreatedAt:   now,
			}); err != nil {
				return fmt.Errorf("create selection: %w", err)
			}
			wo.LineItemIDs = append(wo.LineItemIDs, item.ID)
		}

		if err := s.reconcile(ctx, r.ID, wo.LineItemIDs); err != nil {
			return err
		}

		s.logger.Info("Work order created",
			"work_order_id", wo.ID,
			"kind", wo.Kind,
			"status", wo.Status,
			"reimbursement_id", r.ID,
			"line_items", len(wo.LineItemIDs),
			"actor", actor.String(),
		)

		emit(ctx, event.NewEvent(event.TypeWorkOrderCreated, r.ID, map[string]interface{}{
			event.KeyWorkOrderID: wo.ID,
			event.KeyNewStatus:   wo.Status,
			event.KeyActor:       actor.String(),
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return wo, nil
}

// Get returns the work order with its line item ids
func (s *workOrderServiceImpl) Get(ctx context.Context, id int64) (*entity.WorkOrder, error) {
	wo, err := s.workOrders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get work order: %w", err)
	}
	if wo == nil {
		return nil, notFound("work order", id)
	}

	if err := s.attachLineItems(ctx, wo); err != nil {
		return nil, err
	}
	return wo, nil
}

// ListByReimbursement returns the work orders of a reimbursement
func (s *workOrderServiceImpl) ListByReimbursement(ctx context.Context, reimbursementID int64) ([]*entity.WorkOrder, error) {
	orders, err := s.workOrders.GetByReimbursementID(ctx, reimbursementID)
	if err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}
	for _, wo := range orders {
		if err := s.attachLineItems(ctx, wo); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Transition fires trigger against the work order's table
func (s *workOrderServiceImpl) Transition(ctx context.Context, id int64, trigger domainwf.Trigger, actor entity.Actor) (domainwf.State, error) {
	return s.fire(ctx, id, actor, func(wo *entity.WorkOrder) (domainwf.Trigger, error) {
		return trigger, nil
	})
}

// SetOpinion records the opinion through the opinion triggers of the table
func (s *workOrderServiceImpl) SetOpinion(ctx context.Context, id int64, opinion entity.Opinion, actor entity.Actor) (domainwf.State, error) {
	return s.fire(ctx, id, actor, func(wo *entity.WorkOrder) (domainwf.Trigger, error) {
		if wo.Kind == entity.KindReceiptIntake {
			return "", fmt.Errorf("%w: %s work orders carry no opinion", ErrInvalidTransition, wo.Kind)
		}
		trigger, err := appwf.OpinionTrigger(opinion)
		if err != nil {
			return "", err
		}
		wo.Opinion = opinion
		return trigger, nil
	})
}

// fire loads the order under lock, fires the trigger picked by pick, and
// persists the result together with the reconciliation it causes.
func (s *workOrderServiceImpl) fire(ctx context.Context, id int64, actor entity.Actor, pick func(wo *entity.WorkOrder) (domainwf.Trigger, error)) (domainwf.State, error) {
	wo, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	var state domainwf.State
	err = s.run.run(ctx, lockKeys(wo.ReimbursementID, wo.LineItemIDs...), func(ctx context.Context) error {
		wo, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.openReimbursement(ctx, wo.ReimbursementID); err != nil {
			return err
		}

		trigger, err := pick(wo)
		if err != nil {
			return err
		}

		now := s.now()
		machine, err := appwf.MachineFor(wo.Kind, wo.Status, s.hooks(wo, actor, now))
		if err != nil {
			return fmt.Errorf("build machine for work order %d: %w", wo.ID, err)
		}

		previous := wo.Status
		if _, err := machine.Fire(ctx, trigger); err != nil {
			return fmt.Errorf("work order %d: %w", wo.ID, err)
		}
		state = machine.State()

		// Leaving a decision for an undecided state withdraws it, so a later
		// COMPLETED cannot read it back.
		if !state.IsDecided() && state != domainwf.StateCompleted {
			wo.AuditResult = ""
			wo.AuditDate = nil
		}

		wo.Status = state.String()
		wo.UpdatedBy = actor.ID
		wo.UpdatedAt = now
		if err := s.workOrders.Update(ctx, wo); err != nil {
			s.logger.Error("Failed to update work order", "error", err, "work_order_id", wo.ID)
			return fmt.Errorf("update work order: %w", err)
		}

		s.logger.Info("Work order transitioned",
			"work_order_id", wo.ID,
			"kind", wo.Kind,
			"previous_status", previous,
			"new_status", wo.Status,
			"trigger", trigger,
			"actor", actor.String(),
		)

		emit(ctx, event.NewEvent(event.TypeWorkOrderStatusChanged, wo.ReimbursementID, map[string]interface{}{
			event.KeyWorkOrderID:    wo.ID,
			event.KeyPreviousStatus: previous,
			event.KeyNewStatus:      wo.Status,
			event.KeyTrigger:        trigger.String(),
			event.KeyActor:          actor.String(),
		}))

		return s.reconcile(ctx, wo.ReimbursementID, wo.LineItemIDs)
	})
	if err != nil {
		return "", err
	}

	return state, nil
}

// hooks stamps the audit result on decisions and announces completed receipts
func (s *workOrderServiceImpl) hooks(wo *entity.WorkOrder, actor entity.Actor, now time.Time) appwf.Hooks {
	return appwf.Hooks{
		OnDecided: func(_ context.Context, t domainwf.Transition) {
			if !t.Changed() && wo.AuditResult == t.To.String() {
				return
			}
			wo.AuditResult = t.To.String()
			stamped := now
			wo.AuditDate = &stamped
		},
		OnCompleted: func(ctx context.Context, _ domainwf.Transition) {
			if wo.Kind == entity.KindReceiptIntake {
				emit(ctx, event.ReceiptCompleted(wo.ReimbursementID, wo.ID, actor.String()))
			}
		},
	}
}

// Associate selects a line item for the work order
func (s *workOrderServiceImpl) Associate(ctx context.Context, workOrderID, lineItemID int64, note string, actor entity.Actor) error {
	wo, err := s.Get(ctx, workOrderID)
	if err != nil {
		return err
	}

	return s.run.run(ctx, lockKeys(wo.ReimbursementID, lineItemID), func(ctx context.Context) error {
		r, err := s.openReimbursement(ctx, wo.ReimbursementID)
		if err != nil {
			return err
		}
		if _, err := s.ownedLineItems(ctx, r, []int64{lineItemID}); err != nil {
			return err
		}

		created, err := s.selections.Create(ctx, &entity.Selection{
			WorkOrderID: workOrderID,
			LineItemID:  lineItemID,
			Note:        note,
			CreatedBy:   actor.ID,
			CreatedAt:   s.now(),
		})
		if err != nil {
			return fmt.Errorf("create selection: %w", err)
		}
		if !created {
			return nil
		}

		s.logger.Info("Line item associated",
			"work_order_id", workOrderID,
			"line_item_id", lineItemID,
			"actor", actor.String(),
		)
		emit(ctx, s.selectionChanged(wo, lineItemID, "associated", actor))

		return s.reconcile(ctx, wo.ReimbursementID, []int64{lineItemID})
	})
}

// Disassociate removes a line item from the work order
func (s *workOrderServiceImpl) Disassociate(ctx context.Context, workOrderID, lineItemID int64, actor entity.Actor) error {
	wo, err := s.Get(ctx, workOrderID)
	if err != nil {
		return err
	}

	return s.run.run(ctx, lockKeys(wo.ReimbursementID, lineItemID), func(ctx context.Context) error {
		if _, err := s.openReimbursement(ctx, wo.ReimbursementID); err != nil {
			return err
		}

		removed, err := s.selections.Delete(ctx, workOrderID, lineItemID)
		if err != nil {
			return fmt.Errorf("delete selection: %w", err)
		}
		if !removed {
			return nil
		}

		s.logger.Info("Line item disassociated",
			"work_order_id", workOrderID,
			"line_item_id", lineItemID,
			"actor", actor.String(),
		)
		emit(ctx, s.selectionChanged(wo, lineItemID, "disassociated", actor))

		return s.reconcile(ctx, wo.ReimbursementID, []int64{lineItemID})
	})
}

// Destroy deletes the work order and recomputes what it referenced
func (s *workOrderServiceImpl) Destroy(ctx context.Context, id int64, actor entity.Actor) error {
	wo, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	return s.run.run(ctx, lockKeys(wo.ReimbursementID, wo.LineItemIDs...), func(ctx context.Context) error {
		wo, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.openReimbursement(ctx, wo.ReimbursementID); err != nil {
			return err
		}

		if err := s.workOrders.Delete(ctx, id); err != nil {
			s.logger.Error("Failed to delete work order", "error", err, "work_order_id", id)
			return fmt.Errorf("delete work order: %w", err)
		}

		s.logger.Info("Work order destroyed",
			"work_order_id", id,
			"kind", wo.Kind,
			"reimbursement_id", wo.ReimbursementID,
			"line_items", formatIDs(wo.LineItemIDs),
			"actor", actor.String(),
		)
		emit(ctx, event.NewEvent(event.TypeWorkOrderDestroyed, wo.ReimbursementID, map[string]interface{}{
			event.KeyWorkOrderID:    id,
			event.KeyPreviousStatus: wo.Status,
			event.KeyActor:          actor.String(),
		}))

		return s.reconcile(ctx, wo.ReimbursementID, wo.LineItemIDs)
	})
}

// reconcile recomputes every listed line item, then settles the reimbursement
func (s *workOrderServiceImpl) reconcile(ctx context.Context, reimbursementID int64, lineItemIDs []int64) error {
	for _, id := range uniqueSorted(lineItemIDs) {
		if _, err := s.reconciler.Recompute(ctx, id); err != nil {
			return fmt.Errorf("recompute line item %d: %w", id, err)
		}
	}
	if _, err := s.resolver.Settle(ctx, reimbursementID); err != nil {
		return fmt.Errorf("settle reimbursement %d: %w", reimbursementID, err)
	}
	return nil
}

// openReimbursement loads the reimbursement and refuses closed ones
func (s *workOrderServiceImpl) openReimbursement(ctx context.Context, id int64) (*entity.Reimbursement, error) {
	closed, err := s.store.IsReimbursementClosed(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check reimbursement %d: %w", id, err)
	}
	if closed {
		return nil, fmt.Errorf("%w: reimbursement %d", ErrReimbursementClosed, id)
	}

	r, err := s.reimbursements.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reimbursement: %w", err)
	}
	if r == nil {
		return nil, notFound("reimbursement", id)
	}
	return r, nil
}

// ownedLineItems loads the line items and checks they belong to r
func (s *workOrderServiceImpl) ownedLineItems(ctx context.Context, r *entity.Reimbursement, ids []int64) ([]*entity.FeeLineItem, error) {
	items := make([]*entity.FeeLineItem, 0, len(ids))
	for _, id := range uniqueSorted(ids) {
		item, err := s.lineItems.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get line item: %w", err)
		}
		if item == nil {
			return nil, notFound("line item", id)
		}
		if item.DocumentNumber != r.InvoiceNumber {
			return nil, fmt.Errorf("%w: line item %d is on %s, reimbursement %d is %s",
				ErrLineItemMismatch, id, item.DocumentNumber, r.ID, r.InvoiceNumber)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *workOrderServiceImpl) attachLineItems(ctx context.Context, wo *entity.WorkOrder) error {
	selections, err := s.selections.GetByWorkOrderID(ctx, wo.ID)
	if err != nil {
		return fmt.Errorf("get selections: %w", err)
	}
	wo.LineItemIDs = wo.LineItemIDs[:0]
	for _, sel := range selections {
		wo.LineItemIDs = append(wo.LineItemIDs, sel.LineItemID)
	}
	return nil
}

func (s *workOrderServiceImpl) selectionChanged(wo *entity.WorkOrder, lineItemID int64, change string, actor entity.Actor) *event.Event {
	return event.NewEvent(event.TypeSelectionChanged, wo.ReimbursementID, map[string]interface{}{
		event.KeyWorkOrderID: wo.ID,
		event.KeyLineItemID:  lineItemID,
		event.KeyNewStatus:   change,
		event.KeyActor:       actor.String(),
	})
}

func (s *workOrderServiceImpl) validateInput(input CreateWorkOrderInput) error {
	if err := s.validate.Struct(input); err != nil {
		return validationError(err)
	}

	if input.Kind != entity.KindCommunication {
		return nil
	}

	methods := fmt.Sprintf("required,oneof=%s %s %s %s",
		entity.CommunicationMethodPhone,
		entity.CommunicationMethodEmail,
		entity.CommunicationMethodMessage,
		entity.CommunicationMethodInPerson,
	)
	if err := s.validate.Var(input.CommunicationMethod, methods); err != nil {
		return fmt.Errorf("%w: communication_method: %v", ErrValidation, err)
	}
	if err := s.validate.Var(input.Content, fmt.Sprintf("min=%d", s.minContent)); err != nil {
		return fmt.Errorf("%w: content must be at least %d characters", ErrValidation, s.minContent)
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%w: %s failed on %s", ErrValidation, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
