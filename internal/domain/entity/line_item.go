package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerificationStatus is the derived state of a fee line item
type VerificationStatus string

const (
	VerificationPending     VerificationStatus = "pending"
	VerificationProblematic VerificationStatus = "problematic"
	VerificationVerified    VerificationStatus = "verified"
	VerificationRejected    VerificationStatus = "rejected"
)

// IsValid returns true for the four verification states
func (v VerificationStatus) IsValid() bool {
	switch v {
	case VerificationPending, VerificationProblematic, VerificationVerified, VerificationRejected:
		return true
	default:
		return false
	}
}

// FeeLineItem is a single expense entry belonging to a reimbursement.
//
// VerificationStatus is derived by the reconciler from the associated work
// orders. Repositories ignore it on Create/Update.
type FeeLineItem struct {
	ID                 int64              `json:"id"`
	DocumentNumber     string             `json:"document_number"`
	ExternalID         string             `json:"external_id"`
	Description        string             `json:"description,omitempty"`
	Amount             decimal.Decimal    `json:"amount"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// LineItemStatus pairs a line item id with its verification status
type LineItemStatus struct {
	LineItemID int64              `json:"line_item_id"`
	Status     VerificationStatus `json:"status"`
}

// Selection links a work order to a fee line item and carries the
// verification note recorded for that pairing.
type Selection struct {
	ID          int64     `json:"id"`
	WorkOrderID int64     `json:"work_order_id"`
	LineItemID  int64     `json:"line_item_id"`
	Note        string    `json:"note,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}
