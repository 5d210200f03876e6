package entity

import (
	"strings"
	"time"
)

// ReimbursementStatus is the internal lifecycle status of a reimbursement
type ReimbursementStatus string

const (
	ReimbursementPending    ReimbursementStatus = "pending"
	ReimbursementProcessing ReimbursementStatus = "processing"
	ReimbursementClosed     ReimbursementStatus = "closed"
)

// IsValid returns true for the three lifecycle states
func (s ReimbursementStatus) IsValid() bool {
	switch s {
	case ReimbursementPending, ReimbursementProcessing, ReimbursementClosed:
		return true
	default:
		return false
	}
}

// Reimbursement is an expense claim identified by its invoice number.
// Status, ManualOverride and ManualOverrideAt are written only by the resolver.
type Reimbursement struct {
	ID               int64               `json:"id"`
	InvoiceNumber    string              `json:"invoice_number"`
	Status           ReimbursementStatus `json:"status"`
	ExternalStatus   string              `json:"external_status,omitempty"`
	ManualOverride   bool                `json:"manual_override"`
	ManualOverrideAt *time.Time          `json:"manual_override_at,omitempty"`
	LastUpdateAt     *time.Time          `json:"last_update_at,omitempty"`
	LastViewedAt     *time.Time          `json:"last_viewed_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// IsClosed reports whether the reimbursement is closed
func (r *Reimbursement) IsClosed() bool {
	return r.Status == ReimbursementClosed
}

// External returns the parsed external status
func (r *Reimbursement) External() ExternalStatus {
	return ParseExternalStatus(r.ExternalStatus)
}

type externalKind int

const (
	externalOther externalKind = iota
	externalPaid
	externalPendingPayment
)

// ExternalStatus is the status label ingested from the upstream system of
// record, reduced to the two values the resolver cares about.
type ExternalStatus struct {
	kind  externalKind
	label string
}

var (
	// ExternalPaid is the upstream "paid" status (已付款)
	ExternalPaid = ExternalStatus{kind: externalPaid, label: "paid"}

	// ExternalPendingPayment is the upstream "pending payment" status (待付款)
	ExternalPendingPayment = ExternalStatus{kind: externalPendingPayment, label: "pending-payment"}
)

// ExternalOther wraps any label that is not one of the closing values
func ExternalOther(label string) ExternalStatus {
	return ExternalStatus{kind: externalOther, label: label}
}

// ParseExternalStatus maps a free-text upstream label to an ExternalStatus
func ParseExternalStatus(label string) ExternalStatus {
	switch strings.TrimSpace(strings.ToLower(label)) {
	case "paid", "已付款":
		return ExternalPaid
	case "pending-payment", "pending_payment", "待付款":
		return ExternalPendingPayment
	default:
		return ExternalOther(label)
	}
}

// IsClosing reports whether the upstream status forces the reimbursement closed
func (s ExternalStatus) IsClosing() bool {
	return s.kind == externalPaid || s.kind == externalPendingPayment
}

// String returns the label
func (s ExternalStatus) String() string {
	return s.label
}
