package service

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-reconciler/internal/application/dispatcher"
	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/domain/event"
)

// NotificationObserver keeps the "last update" bookkeeping of reimbursements
// current and logs every derived status change.
type NotificationObserver struct {
	reimbursements port.ReimbursementRepository
	logger         Logger
}

// NewNotificationObserver creates a new NotificationObserver
func NewNotificationObserver(reimbursements port.ReimbursementRepository, logger Logger) *NotificationObserver {
	return &NotificationObserver{
		reimbursements: reimbursements,
		logger:         logger,
	}
}

// Register subscribes the observer to the events that change what a reviewer sees
func (o *NotificationObserver) Register(d dispatcher.Dispatcher) {
	for _, t := range []event.Type{
		event.TypeWorkOrderCreated,
		event.TypeWorkOrderStatusChanged,
		event.TypeLineItemReconciled,
		event.TypeReimbursementStatusChanged,
		event.TypeExternalStatusIngested,
	} {
		d.SubscribeNamed(t, "notification-observer", o.Handle)
	}
}

// Handle touches the reimbursement's last update timestamp
func (o *NotificationObserver) Handle(ctx context.Context, evt *event.Event) error {
	if evt.ReimbursementID == 0 {
		return nil
	}

	if err := o.reimbursements.TouchLastUpdate(ctx, evt.ReimbursementID, evt.Timestamp); err != nil {
		return fmt.Errorf("touch reimbursement %d: %w", evt.ReimbursementID, err)
	}

	switch evt.Type {
	case event.TypeReimbursementStatusChanged:
		o.logger.Info("Reimbursement status changed",
			"reimbursement_id", evt.ReimbursementID,
			"previous_status", evt.GetPayloadString(event.KeyPreviousStatus),
			"new_status", evt.GetPayloadString(event.KeyNewStatus),
			"manual_override", evt.GetPayloadBool(event.KeyManualOverride),
			"actor", evt.GetPayloadString(event.KeyActor),
		)
	case event.TypeLineItemReconciled:
		o.logger.Info("Line item status changed",
			"reimbursement_id", evt.ReimbursementID,
			"line_item_id", evt.GetPayloadInt(event.KeyLineItemID),
			"new_status", evt.GetPayloadString(event.KeyNewStatus),
		)
	}
	return nil
}
