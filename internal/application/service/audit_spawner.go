package service

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-reconciler/internal/application/dispatcher"
	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	"github.com/garyjia/expense-reconciler/internal/domain/event"
)

// AuditSpawner creates the audit work order that follows a completed receipt intake
type AuditSpawner interface {
	// Spawn creates the audit for the receipt, or returns the one already spawned
	Spawn(ctx context.Context, receiptID int64, actor entity.Actor) (*entity.WorkOrder, error)

	// Register subscribes the spawner to ReceiptCompleted
	Register(d dispatcher.Dispatcher)
}

type auditSpawnerImpl struct {
	run        runner
	workOrders port.WorkOrderRepository
	selections port.SelectionRepository
	service    WorkOrderService
	logger     Logger
}

// NewAuditSpawner creates a new AuditSpawner
func NewAuditSpawner(
	workOrders port.WorkOrderRepository,
	selections port.SelectionRepository,
	service WorkOrderService,
	txManager port.TransactionManager,
	locker port.Locker,
	d dispatcher.Dispatcher,
	logger Logger,
) AuditSpawner {
	return &auditSpawnerImpl{
		run:        runner{txManager: txManager, locker: locker, dispatcher: d, logger: logger},
		workOrders: workOrders,
		selections: selections,
		service:    service,
		logger:     logger,
	}
}

// Register subscribes the spawner to ReceiptCompleted
func (s *auditSpawnerImpl) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeReceiptCompleted, "audit-spawner", s.handle)
}

func (s *auditSpawnerImpl) handle(ctx context.Context, evt *event.Event) error {
	receiptID := evt.GetPayloadInt(event.KeyIdempotencyKey)
	if receiptID == 0 {
		return fmt.Errorf("%w: %s event %s has no idempotency key", ErrValidation, evt.Type, evt.ID)
	}

	actor := entity.SystemActor
	if id := evt.GetPayloadString(event.KeyActor); id != "" {
		actor = entity.Actor{ID: id}
	}

	_, err := s.Spawn(ctx, receiptID, actor)
	return err
}

// Spawn is idempotent on the receipt id
func (s *auditSpawnerImpl) Spawn(ctx context.Context, receiptID int64, actor entity.Actor) (*entity.WorkOrder, error) {
	receipt, err := s.workOrders.GetByID(ctx, receiptID)
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	if receipt == nil {
		return nil, notFound("work order", receiptID)
	}
	if receipt.Kind != entity.KindReceiptIntake || receipt.Status != entity.WorkOrderStatusCompleted {
		return nil, fmt.Errorf("%w: work order %d is %s %s, want a completed receipt intake",
			ErrInvalidTransition, receiptID, receipt.Kind, receipt.Status)
	}

	var audit *entity.WorkOrder
	err = s.run.run(ctx, lockKeys(receipt.ReimbursementID), func(ctx context.Context) error {
		existing, err := s.workOrders.GetBySourceID(ctx, receiptID)
		if err != nil {
			return fmt.Errorf("get spawned audit: %w", err)
		}
		if existing != nil {
			audit = existing
			s.logger.Info("Audit already spawned", "receipt_id", receiptID, "audit_id", existing.ID)
			return nil
		}

		selections, err := s.selections.GetByWorkOrderID(ctx, receiptID)
		if err != nil {
			return fmt.Errorf("get receipt selections: %w", err)
		}
		lineItemIDs := make([]int64, 0, len(selections))
		for _, sel := range selections {
			lineItemIDs = append(lineItemIDs, sel.LineItemID)
		}

		source := receiptID
		audit, err = s.service.Create(ctx, CreateWorkOrderInput{
			Kind:              entity.KindAudit,
			ReimbursementID:   receipt.ReimbursementID,
			LineItemIDs:       lineItemIDs,
			SourceWorkOrderID: &source,
		}, actor)
		if err != nil {
			return fmt.Errorf("spawn audit for receipt %d: %w", receiptID, err)
		}

		s.logger.Info("Audit spawned",
			"receipt_id", receiptID,
			"audit_id", audit.ID,
			"reimbursement_id", receipt.ReimbursementID,
			"actor", actor.String(),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return audit, nil
}
