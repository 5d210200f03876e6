package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/garyjia/expense-reconciler/internal/application/dispatcher"
	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/domain/event"
)

type unitKey struct{}

// unit is the lock set and event outbox of one top-level mutation. Nested
// service calls find it in the context and join it instead of locking again.
type unit struct {
	held   map[string]port.Lease
	order  []string
	events []*event.Event
}

// runner executes a mutation under its locks and one transaction, releases
// the locks, then dispatches the events recorded by the mutation.
type runner struct {
	txManager  port.TransactionManager
	locker     port.Locker
	dispatcher dispatcher.Dispatcher
	logger     Logger
}

func (r runner) run(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if u, ok := ctx.Value(unitKey{}).(*unit); ok {
		if err := u.obtain(ctx, r.locker, keys); err != nil {
			return err
		}
		return r.txManager.WithTransaction(ctx, fn)
	}

	u := &unit{held: make(map[string]port.Lease)}
	uctx := context.WithValue(ctx, unitKey{}, u)

	err := u.obtain(uctx, r.locker, keys)
	if err == nil {
		err = r.txManager.WithTransaction(uctx, fn)
	}
	u.release(ctx, r.logger)
	if err != nil {
		return err
	}

	return r.dispatch(ctx, u.events)
}

// dispatch delivers ReceiptCompleted synchronously so spawn failures reach the
// caller. Everything else goes to the asynchronous observers.
func (r runner) dispatch(ctx context.Context, events []*event.Event) error {
	if r.dispatcher == nil {
		return nil
	}

	var errs []error
	for _, evt := range events {
		if evt.Type == event.TypeReceiptCompleted {
			if err := r.dispatcher.Dispatch(ctx, evt); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		r.dispatcher.DispatchAsync(ctx, evt)
	}
	return errors.Join(errs...)
}

func (u *unit) obtain(ctx context.Context, locker port.Locker, keys []string) error {
	for _, key := range keys {
		if _, ok := u.held[key]; ok {
			continue
		}
		lease, err := locker.Obtain(ctx, key)
		if err != nil {
			return fmt.Errorf("obtain %s: %w", key, err)
		}
		u.held[key] = lease
		u.order = append(u.order, key)
	}
	return nil
}

func (u *unit) release(ctx context.Context, logger Logger) {
	for i := len(u.order) - 1; i >= 0; i-- {
		key := u.order[i]
		if err := u.held[key].Release(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to release lock", "key", key, "error", err)
		}
	}
	u.held = nil
	u.order = nil
}

// emit records an event on the unit in ctx. It is dispatched after commit.
func emit(ctx context.Context, evt *event.Event) {
	if u, ok := ctx.Value(unitKey{}).(*unit); ok {
		u.events = append(u.events, evt)
	}
}

// lockKeys returns the reimbursement key followed by the line item keys in
// ascending id order. This is the only order locks are taken in.
func lockKeys(reimbursementID int64, lineItemIDs ...int64) []string {
	ids := uniqueSorted(lineItemIDs)

	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, port.ReimbursementLockKey(reimbursementID))
	for _, id := range ids {
		keys = append(keys, port.LineItemLockKey(id))
	}
	return keys
}

func uniqueSorted(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
