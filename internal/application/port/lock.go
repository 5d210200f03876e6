package port

import (
	"context"
	"errors"
	"fmt"
)

// ErrLockNotObtained is returned when a key stays locked past the retry budget
var ErrLockNotObtained = errors.New("lock not obtained")

// Lease is a held lock
type Lease interface {
	Release(ctx context.Context) error
}

// Locker provides mutual exclusion per key
type Locker interface {
	Obtain(ctx context.Context, key string) (Lease, error)
}

// ReimbursementLockKey returns the lock key of a reimbursement
func ReimbursementLockKey(id int64) string {
	return fmt.Sprintf("reimbursement:%d", id)
}

// LineItemLockKey returns the lock key of a fee line item
func LineItemLockKey(id int64) string {
	return fmt.Sprintf("line_item:%d", id)
}
