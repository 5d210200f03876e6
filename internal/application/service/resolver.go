package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-reconciler/internal/application/dispatcher"
	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	"github.com/garyjia/expense-reconciler/internal/domain/event"
)

// Resolver derives and applies reimbursement lifecycle status
type Resolver interface {
	// Resolve returns the status the precedence rules yield for the stored data. Nothing is written.
	Resolve(ctx context.Context, reimbursementID int64) (entity.ReimbursementStatus, error)

	// CanClose reports whether Close would succeed, with the blocking line items
	CanClose(ctx context.Context, reimbursementID int64) (bool, []int64, error)

	// Settle applies automatic settlement and returns the resulting status
	Settle(ctx context.Context, reimbursementID int64) (entity.ReimbursementStatus, error)

	// Close closes a processing reimbursement whose line items are all verified
	Close(ctx context.Context, reimbursementID int64, actor entity.Actor) error

	// ForceStatus sets the status unconditionally and activates manual override
	ForceStatus(ctx context.Context, reimbursementID int64, status entity.ReimbursementStatus, actor entity.Actor) error

	// ResetOverride clears manual override and applies automatic settlement
	ResetOverride(ctx context.Context, reimbursementID int64, actor entity.Actor) (entity.ReimbursementStatus, error)

	// IngestExternalStatus stores the upstream label and settles
	IngestExternalStatus(ctx context.Context, reimbursementID int64, label string, actor entity.Actor) (entity.ReimbursementStatus, error)
}

// ResolverOption configures the resolver
type ResolverOption func(*resolverImpl)

// WithResolverClock overrides the time source used for override timestamps
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(s *resolverImpl) {
		s.now = now
	}
}

type resolverImpl struct {
	run            runner
	store          port.ReconciliationStore
	reimbursements port.ReimbursementRepository
	logger         Logger
	now            func() time.Time
}

// NewResolver creates a new Resolver
func NewResolver(
	store port.ReconciliationStore,
	reimbursements port.ReimbursementRepository,
	txManager port.TransactionManager,
	locker port.Locker,
	d dispatcher.Dispatcher,
	logger Logger,
	opts ...ResolverOption,
) Resolver {
	s := &resolverImpl{
		run:            runner{txManager: txManager, locker: locker, dispatcher: d, logger: logger},
		store:          store,
		reimbursements: reimbursements,
		logger:         logger,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Resolve evaluates the precedence rules against the stored data
func (s *resolverImpl) Resolve(ctx context.Context, reimbursementID int64) (entity.ReimbursementStatus, error) {
	r, err := s.load(ctx, reimbursementID)
	if err != nil {
		return "", err
	}

	orders, err := s.store.LoadWorkOrdersForReimbursement(ctx, reimbursementID)
	if err != nil {
		return "", fmt.Errorf("load work orders: %w", err)
	}

	return Resolve(r, r.External(), orders), nil
}

// CanClose evaluates the close precondition against the stored data
func (s *resolverImpl) CanClose(ctx context.Context, reimbursementID int64) (bool, []int64, error) {
	r, err := s.load(ctx, reimbursementID)
	if err != nil {
		return false, nil, err
	}

	items, err := s.store.LoadLineItemStatuses(ctx, reimbursementID)
	if err != nil {
		return false, nil, fmt.Errorf("load line item statuses: %w", err)
	}

	ok, blocking := CanClose(r, items)
	return ok, blocking, nil
}

// Settle applies automatic settlement under the reimbursement lock
func (s *resolverImpl) Settle(ctx context.Context, reimbursementID int64) (entity.ReimbursementStatus, error) {
	var status entity.ReimbursementStatus
	err := s.run.run(ctx, lockKeys(reimbursementID), func(ctx context.Context) error {
		r, err := s.load(ctx, reimbursementID)
		if err != nil {
			return err
		}
		status, err = s.settle(ctx, r, entity.SystemActor)
		return err
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// settle runs inside a unit holding the reimbursement lock
func (s *resolverImpl) settle(ctx context.Context, r *entity.Reimbursement, actor entity.Actor) (entity.ReimbursementStatus, error) {
	orders, err := s.store.LoadWorkOrdersForReimbursement(ctx, r.ID)
	if err != nil {
		return "", fmt.Errorf("load work orders: %w", err)
	}

	items, err := s.store.LoadLineItemStatuses(ctx, r.ID)
	if err != nil {
		return "", fmt.Errorf("load line item statuses: %w", err)
	}

	next := Settle(r, orders, items)
	if next == r.Status {
		return next, nil
	}

	if err := s.persist(ctx, r, next, r.ManualOverride, r.ManualOverrideAt, actor); err != nil {
		return "", err
	}
	return next, nil
}

// Close closes the reimbursement when CanClose holds
func (s *resolverImpl) Close(ctx context.Context, reimbursementID int64, actor entity.Actor) error {
	return s.run.run(ctx, lockKeys(reimbursementID), func(ctx context.Context) error {
		r, err := s.load(ctx, reimbursementID)
		if err != nil {
			return err
		}

		items, err := s.store.LoadLineItemStatuses(ctx, reimbursementID)
		if err != nil {
			return fmt.Errorf("load line item statuses: %w", err)
		}

		if ok, blocking := CanClose(r, items); !ok {
			s.logger.Info("Close refused",
				"reimbursement_id", reimbursementID,
				"status", r.Status,
				"blocking_line_items", formatIDs(blocking),
				"actor", actor.String(),
			)
			return &CannotCloseError{ReimbursementID: reimbursementID, BlockingIDs: blocking}
		}

		return s.persist(ctx, r, entity.ReimbursementClosed, false, nil, actor)
	})
}

// ForceStatus sets the status and activates manual override. Any status may
// be forced from any other.
func (s *resolverImpl) ForceStatus(ctx context.Context, reimbursementID int64, status entity.ReimbursementStatus, actor entity.Actor) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown reimbursement status %q", ErrValidation, status)
	}

	return s.run.run(ctx, lockKeys(reimbursementID), func(ctx context.Context) error {
		r, err := s.load(ctx, reimbursementID)
		if err != nil {
			return err
		}

		now := s.now()
		return s.persist(ctx, r, status, true, &now, actor)
	})
}

// ResetOverride clears manual override then settles with the current data
func (s *resolverImpl) ResetOverride(ctx context.Context, reimbursementID int64, actor entity.Actor) (entity.ReimbursementStatus, error) {
	var status entity.ReimbursementStatus
	err := s.run.run(ctx, lockKeys(reimbursementID), func(ctx context.Context) error {
		r, err := s.load(ctx, reimbursementID)
		if err != nil {
			return err
		}

		if r.ManualOverride {
			if err := s.persist(ctx, r, r.Status, false, nil, actor); err != nil {
				return err
			}
			r.ManualOverride = false
			r.ManualOverrideAt = nil
		}

		status, err = s.settle(ctx, r, actor)
		return err
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// IngestExternalStatus stores the upstream label and settles
func (s *resolverImpl) IngestExternalStatus(ctx context.Context, reimbursementID int64, label string, actor entity.Actor) (entity.ReimbursementStatus, error) {
	var status entity.ReimbursementStatus
	err := s.run.run(ctx, lockKeys(reimbursementID), func(ctx context.Context) error {
		r, err := s.load(ctx, reimbursementID)
		if err != nil {
			return err
		}

		if r.ExternalStatus != label {
			if err := s.reimbursements.SetExternalStatus(ctx, reimbursementID, label); err != nil {
				return fmt.Errorf("set external status: %w", err)
			}
			r.ExternalStatus = label

			emit(ctx, event.NewEvent(event.TypeExternalStatusIngested, reimbursementID, map[string]interface{}{
				event.KeyExternalStatus: label,
				event.KeyActor:          actor.String(),
			}))
		}

		status, err = s.settle(ctx, r, actor)
		return err
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

func (s *resolverImpl) load(ctx context.Context, reimbursementID int64) (*entity.Reimbursement, error) {
	r, err := s.reimbursements.GetByID(ctx, reimbursementID)
	if err != nil {
		return nil, fmt.Errorf("get reimbursement: %w", err)
	}
	if r == nil {
		return nil, notFound("reimbursement", reimbursementID)
	}
	return r, nil
}

func (s *resolverImpl) persist(ctx context.Context, r *entity.Reimbursement, status entity.ReimbursementStatus, override bool, overrideAt *time.Time, actor entity.Actor) error {
	if err := s.store.PersistReimbursementStatus(ctx, r.ID, status, override, overrideAt); err != nil {
		s.logger.Error("Failed to persist reimbursement status", "error", err, "reimbursement_id", r.ID)
		return fmt.Errorf("persist reimbursement status: %w", err)
	}

	s.logger.Info("Reimbursement status applied",
		"reimbursement_id", r.ID,
		"previous_status", r.Status,
		"new_status", status,
		"manual_override", override,
		"actor", actor.String(),
	)

	if status != r.Status || override != r.ManualOverride {
		emit(ctx, event.NewEvent(event.TypeReimbursementStatusChanged, r.ID, map[string]interface{}{
			event.KeyPreviousStatus: string(r.Status),
			event.KeyNewStatus:      string(status),
			event.KeyManualOverride: override,
			event.KeyActor:          actor.String(),
		}))
	}

	r.Status = status
	r.ManualOverride = override
	r.ManualOverrideAt = overrideAt
	return nil
}
