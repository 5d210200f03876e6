package service

import (
	"errors"
	"fmt"

	domainwf "github.com/garyjia/expense-reconciler/internal/domain/workflow"
)

var (
	// ErrInvalidTransition is returned when a work order has no edge for the requested trigger
	ErrInvalidTransition = domainwf.ErrInvalidTransition

	// ErrReimbursementClosed is returned for any mutation against a closed reimbursement
	ErrReimbursementClosed = errors.New("reimbursement is closed")

	// ErrCannotClose is returned when an explicit close is requested but not allowed
	ErrCannotClose = errors.New("reimbursement cannot be closed")

	// ErrNotFound is returned when a referenced row does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input fails validation
	ErrValidation = errors.New("validation failed")

	// ErrLineItemMismatch is returned when a line item belongs to another reimbursement
	ErrLineItemMismatch = errors.New("line item does not belong to reimbursement")
)

// CannotCloseError carries the line items that block closing
type CannotCloseError struct {
	ReimbursementID int64
	BlockingIDs     []int64
}

func (e *CannotCloseError) Error() string {
	if len(e.BlockingIDs) == 0 {
		return fmt.Sprintf("reimbursement %d cannot be closed: not processing or no line items", e.ReimbursementID)
	}
	return fmt.Sprintf("reimbursement %d cannot be closed: line items %v are not verified", e.ReimbursementID, e.BlockingIDs)
}

// Is makes errors.Is(err, ErrCannotClose) match
func (e *CannotCloseError) Is(target error) bool {
	return target == ErrCannotClose
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
}
