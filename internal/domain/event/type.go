package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkOrderCreated           Type = "work_order.created"
	TypeWorkOrderStatusChanged     Type = "work_order.status_changed"
	TypeWorkOrderDestroyed         Type = "work_order.destroyed"
	TypeSelectionChanged           Type = "selection.changed"
	TypeReceiptCompleted           Type = "receipt.completed"
	TypeLineItemReconciled         Type = "line_item.reconciled"
	TypeReimbursementStatusChanged Type = "reimbursement.status_changed"
	TypeExternalStatusIngested     Type = "reimbursement.external_status_ingested"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkOrderCreated,
		TypeWorkOrderStatusChanged,
		TypeWorkOrderDestroyed,
		TypeSelectionChanged,
		TypeReceiptCompleted,
		TypeLineItemReconciled,
		TypeReimbursementStatusChanged,
		TypeExternalStatusIngested:
		return true
	default:
		return false
	}
}
