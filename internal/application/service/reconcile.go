package service

import "github.com/garyjia/expense-reconciler/internal/domain/entity"

// DeriveVerification returns the verification status implied by the work
// orders selected for a line item. The most recently updated order wins and
// a tie on UpdatedAt goes to the higher id, so enumeration order never
// matters. Communication orders only take part once they carry an opinion
// or a decision.
func DeriveVerification(orders []entity.WorkOrderSnapshot) entity.VerificationStatus {
	var latest *entity.WorkOrderSnapshot
	for i := range orders {
		o := &orders[i]
		if !participates(o) {
			continue
		}
		if latest == nil ||
			o.UpdatedAt.After(latest.UpdatedAt) ||
			(o.UpdatedAt.Equal(latest.UpdatedAt) && o.ID > latest.ID) {
			latest = o
		}
	}

	if latest == nil {
		return entity.VerificationPending
	}

	switch latest.Outcome() {
	case entity.WorkOrderStatusApproved:
		return entity.VerificationVerified
	case entity.WorkOrderStatusRejected:
		return entity.VerificationProblematic
	default:
		return entity.VerificationPending
	}
}

func participates(o *entity.WorkOrderSnapshot) bool {
	if o.Kind != entity.KindCommunication {
		return true
	}
	return o.Opinion != entity.OpinionNone || o.Outcome() != ""
}

// Resolve computes the internal status of a reimbursement. Precedence:
// manual override keeps the stored status, a closing external status closes,
// any unfinished work order means processing, otherwise pending.
func Resolve(r *entity.Reimbursement, external entity.ExternalStatus, orders []entity.WorkOrderSnapshot) entity.ReimbursementStatus {
	if r.ManualOverride {
		return r.Status
	}
	if external.IsClosing() {
		return entity.ReimbursementClosed
	}
	for _, o := range orders {
		if !o.IsTerminal() {
			return entity.ReimbursementProcessing
		}
	}
	return entity.ReimbursementPending
}

// CanClose reports whether an explicit close is allowed: the reimbursement is
// processing and it has line items, all verified. The ids of the line items
// that are not verified are returned in input order.
func CanClose(r *entity.Reimbursement, items []entity.LineItemStatus) (bool, []int64) {
	var blocking []int64
	for _, item := range items {
		if item.Status != entity.VerificationVerified {
			blocking = append(blocking, item.LineItemID)
		}
	}

	ok := r.Status == entity.ReimbursementProcessing && len(items) > 0 && len(blocking) == 0
	return ok, blocking
}

// Settle is the automatic settlement run after every reconciliation. On top
// of Resolve it closes a reimbursement whose work produced only verified line
// items, and reopens a closed one as soon as a line item turns problematic.
func Settle(r *entity.Reimbursement, orders []entity.WorkOrderSnapshot, items []entity.LineItemStatus) entity.ReimbursementStatus {
	if r.ManualOverride {
		return r.Status
	}

	resolved := Resolve(r, r.External(), orders)
	if resolved == entity.ReimbursementClosed {
		return resolved
	}

	if len(orders) > 0 && allVerified(items) {
		return entity.ReimbursementClosed
	}

	if r.Status == entity.ReimbursementClosed && anyProblematic(items) {
		return entity.ReimbursementProcessing
	}

	return resolved
}

func allVerified(items []entity.LineItemStatus) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if item.Status != entity.VerificationVerified {
			return false
		}
	}
	return true
}

func anyProblematic(items []entity.LineItemStatus) bool {
	for _, item := range items {
		if item.Status == entity.VerificationProblematic {
			return true
		}
	}
	return false
}
