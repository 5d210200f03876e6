package entity

import (
	"strings"
	"time"
)

// WorkOrderKind identifies one of the three work-order tables
type WorkOrderKind string

const (
	KindReceiptIntake WorkOrderKind = "RECEIPT_INTAKE"
	KindAudit         WorkOrderKind = "AUDIT"
	KindCommunication WorkOrderKind = "COMMUNICATION"
)

// IsValid returns true for the three supported kinds
func (k WorkOrderKind) IsValid() bool {
	switch k {
	case KindReceiptIntake, KindAudit, KindCommunication:
		return true
	default:
		return false
	}
}

// Work order status constants. Each kind uses a subset (see application/workflow).
const (
	WorkOrderStatusReceived           = "RECEIVED"
	WorkOrderStatusProcessed          = "PROCESSED"
	WorkOrderStatusPending            = "PENDING"
	WorkOrderStatusProcessing         = "PROCESSING"
	WorkOrderStatusAuditing           = "AUDITING"
	WorkOrderStatusNeedsCommunication = "NEEDS_COMMUNICATION"
	WorkOrderStatusApproved           = "APPROVED"
	WorkOrderStatusRejected           = "REJECTED"
	WorkOrderStatusCompleted          = "COMPLETED"
)

// Opinion is the processing opinion recorded on an audit or communication
// work order. The zero value means no opinion has been set.
type Opinion string

const (
	OpinionNone    Opinion = ""
	OpinionApprove Opinion = "approve"
	OpinionReject  Opinion = "reject"
	OpinionOther   Opinion = "other"
)

// ParseOpinion accepts the English values as well as the labels used by the
// operations team ("可以通过" / "无法通过"). Anything else non-empty is OpinionOther.
func ParseOpinion(label string) Opinion {
	switch strings.TrimSpace(strings.ToLower(label)) {
	case "":
		return OpinionNone
	case "approve", "可以通过":
		return OpinionApprove
	case "reject", "无法通过":
		return OpinionReject
	default:
		return OpinionOther
	}
}

// Communication methods accepted for communication work orders
const (
	CommunicationMethodPhone    = "phone"
	CommunicationMethodEmail    = "email"
	CommunicationMethodMessage  = "message"
	CommunicationMethodInPerson = "in_person"
)

// WorkOrder is a unit of processing work attached to one reimbursement and
// zero or more fee line items (through selections).
type WorkOrder struct {
	ID                  int64         `json:"id"`
	Kind                WorkOrderKind `json:"kind"`
	Status              string        `json:"status"`
	ReimbursementID     int64         `json:"reimbursement_id"`
	Opinion             Opinion       `json:"opinion,omitempty"`
	AuditResult         string        `json:"audit_result,omitempty"`
	AuditDate           *time.Time    `json:"audit_date,omitempty"`
	CommunicationMethod string        `json:"communication_method,omitempty"`
	Content             string        `json:"content,omitempty"`
	SourceWorkOrderID   *int64        `json:"source_work_order_id,omitempty"`
	CreatorID           string        `json:"creator_id"`
	UpdatedBy           string        `json:"updated_by,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`

	// LineItemIDs is populated by services from the selection table; it is not a column.
	LineItemIDs []int64 `json:"line_item_ids,omitempty"`
}

// Snapshot returns the reconciliation view of the work order
func (w *WorkOrder) Snapshot() WorkOrderSnapshot {
	return WorkOrderSnapshot{
		ID:          w.ID,
		Kind:        w.Kind,
		Status:      w.Status,
		Opinion:     w.Opinion,
		AuditResult: w.AuditResult,
		UpdatedAt:   w.UpdatedAt,
	}
}

// WorkOrderSnapshot is the subset of a work order the reconcilers read
type WorkOrderSnapshot struct {
	ID          int64         `json:"id"`
	Kind        WorkOrderKind `json:"kind"`
	Status      string        `json:"status"`
	Opinion     Opinion       `json:"opinion,omitempty"`
	AuditResult string        `json:"audit_result,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// IsTerminal reports whether the work order finished. Every kind ends in COMPLETED.
func (s WorkOrderSnapshot) IsTerminal() bool {
	return s.Status == WorkOrderStatusCompleted
}

// Outcome returns APPROVED or REJECTED when the order carries a decision, and
// "" otherwise. A completed order keeps the decision stamped when it was
// approved or rejected.
func (s WorkOrderSnapshot) Outcome() string {
	switch s.Status {
	case WorkOrderStatusApproved, WorkOrderStatusRejected:
		return s.Status
	case WorkOrderStatusCompleted:
		if s.AuditResult == WorkOrderStatusApproved || s.AuditResult == WorkOrderStatusRejected {
			return s.AuditResult
		}
	}
	return ""
}
