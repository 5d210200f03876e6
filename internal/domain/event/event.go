package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys shared by producers and consumers
const (
	KeyWorkOrderID    = "work_order_id"
	KeyLineItemID     = "line_item_id"
	KeyPreviousStatus = "previous_status"
	KeyNewStatus      = "new_status"
	KeyTrigger        = "trigger"
	KeyActor          = "actor"
	KeyExternalStatus = "external_status"
	KeyManualOverride = "manual_override"
	KeyIdempotencyKey = "idempotency_key"
)

// Event represents a domain event
type Event struct {
	ID              string                 `json:"id"`
	Type            Type                   `json:"type"`
	ReimbursementID int64                  `json:"reimbursement_id"`
	Payload         map[string]interface{} `json:"payload"`
	Timestamp       time.Time              `json:"timestamp"`
	CorrelationID   string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with a fresh id and correlation id
func NewEvent(eventType Type, reimbursementID int64, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, reimbursementID, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, reimbursementID int64, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:              uuid.NewString(),
		Type:            eventType,
		ReimbursementID: reimbursementID,
		Payload:         payload,
		Timestamp:       time.Now(),
		CorrelationID:   correlationID,
	}
}

// ReceiptCompleted builds the event consumed by the audit spawner. The
// receipt id doubles as the idempotency key of the spawned audit.
func ReceiptCompleted(reimbursementID, receiptID int64, actor string) *Event {
	return NewEvent(TypeReceiptCompleted, reimbursementID, map[string]interface{}{
		KeyWorkOrderID:    receiptID,
		KeyIdempotencyKey: receiptID,
		KeyActor:          actor,
	})
}

// WithPayload returns a copy of the event with an added payload entry
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	return &Event{
		ID:              e.ID,
		Type:            e.Type,
		ReimbursementID: e.ReimbursementID,
		Payload:         newPayload,
		Timestamp:       e.Timestamp,
		CorrelationID:   e.CorrelationID,
	}
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
