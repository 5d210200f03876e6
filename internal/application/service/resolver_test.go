package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/garyjia/expense-reconciler/internal/domain/entity"
)

func TestResolver_ForcedStatusSurvivesExternalPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, items := h.seed("INV-101", 1)
	h.createAudit(r, items[0])

	if err := h.resolver.ForceStatus(ctx, r.ID, entity.ReimbursementPending, clerk); err != nil {
		t.Fatalf("ForceStatus() error = %v", err)
	}
	stored := h.reimbursement(r.ID)
	if !stored.ManualOverride || stored.ManualOverrideAt == nil {
		t.Fatalf("override not recorded: %+v", stored)
	}

	for _, label := range []string{"paid", "已付款", "待付款", "submitted"} {
		status, err := h.resolver.IngestExternalStatus(ctx, r.ID, label, clerk)
		if err != nil {
			t.Fatalf("IngestExternalStatus(%s) error = %v", label, err)
		}
		if status != entity.ReimbursementPending {
			t.Errorf("IngestExternalStatus(%s) = %v, want pending", label, status)
		}
	}

	if _, err := h.resolver.IngestExternalStatus(ctx, r.ID, "paid", clerk); err != nil {
		t.Fatalf("IngestExternalStatus() error = %v", err)
	}
	resolved, err := h.resolver.Resolve(ctx, r.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved != entity.ReimbursementPending {
		t.Errorf("Resolve() under override = %v, want pending", resolved)
	}

	status, err := h.resolver.ResetOverride(ctx, r.ID, clerk)
	if err != nil {
		t.Fatalf("ResetOverride() error = %v", err)
	}
	if status != entity.ReimbursementClosed {
		t.Errorf("ResetOverride() = %v, want closed", status)
	}

	stored = h.reimbursement(r.ID)
	if stored.ManualOverride || stored.ManualOverrideAt != nil {
		t.Errorf("override not cleared: %+v", stored)
	}
	if resolved, _ := h.resolver.Resolve(ctx, r.ID); resolved != entity.ReimbursementClosed {
		t.Errorf("Resolve() after reset = %v, want closed", resolved)
	}
}

func TestResolver_OverrideInertUnderActivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, items := h.seed("INV-102", 2)
	wo := h.createAudit(r, items[0], items[1])

	if err := h.resolver.ForceStatus(ctx, r.ID, entity.ReimbursementProcessing, clerk); err != nil {
		t.Fatalf("ForceStatus() error = %v", err)
	}

	h.opinion(wo, entity.OpinionApprove)
	if got := h.reimbursement(r.ID).Status; got != entity.ReimbursementProcessing {
		t.Errorf("all verified under override moved status to %v", got)
	}

	h.opinion(wo, entity.OpinionReject)
	if _, err := h.reconciler.Recompute(ctx, items[0].ID); err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if got := h.reimbursement(r.ID).Status; got != entity.ReimbursementProcessing {
		t.Errorf("status moved under override: %v", got)
	}
}

func TestResolver_CanCloseReportsBlocking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, items := h.seed("INV-103", 2)

	h.opinion(h.createAudit(r, items[0]), entity.OpinionApprove)
	h.opinion(h.createAudit(r, items[1]), entity.OpinionReject)

	ok, blocking, err := h.resolver.CanClose(ctx, r.ID)
	if err != nil {
		t.Fatalf("CanClose() error = %v", err)
	}
	if ok {
		t.Error("CanClose() = true with a problematic line item")
	}
	if !reflect.DeepEqual(blocking, []int64{items[1].ID}) {
		t.Errorf("blocking = %v, want [%d]", blocking, items[1].ID)
	}

	err = h.resolver.Close(ctx, r.ID, clerk)
	if !errors.Is(err, ErrCannotClose) {
		t.Fatalf("Close() error = %v, want ErrCannotClose", err)
	}
	var cce *CannotCloseError
	if !errors.As(err, &cce) || !reflect.DeepEqual(cce.BlockingIDs, []int64{items[1].ID}) {
		t.Errorf("CannotCloseError = %+v", cce)
	}
	if got := h.reimbursement(r.ID).Status; got != entity.ReimbursementProcessing {
		t.Errorf("failed close changed status to %v", got)
	}

	if err := h.resolver.ForceStatus(ctx, r.ID, entity.ReimbursementClosed, clerk); err != nil {
		t.Fatalf("ForceStatus() error = %v", err)
	}
	if got := h.reimbursement(r.ID); got.Status != entity.ReimbursementClosed || !got.ManualOverride {
		t.Errorf("forced close = %+v", got)
	}
}

func TestResolver_Close(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, items := h.seed("INV-104", 1)
	wo := h.createAudit(r, items[0])

	// Hold the reimbursement open with an override, verify, then release and close explicitly.
	if err := h.resolver.ForceStatus(ctx, r.ID, entity.ReimbursementProcessing, clerk); err != nil {
		t.Fatalf("ForceStatus() error = %v", err)
	}
	h.opinion(wo, entity.OpinionApprove)

	if err := h.resolver.Close(ctx, r.ID, clerk); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	got := h.reimbursement(r.ID)
	if got.Status != entity.ReimbursementClosed || got.ManualOverride {
		t.Errorf("after Close() = %+v", got)
	}

	if err := h.resolver.Close(ctx, r.ID, clerk); !errors.Is(err, ErrCannotClose) {
		t.Errorf("Close() on closed reimbursement error = %v, want ErrCannotClose", err)
	}
}

func TestResolver_ReopenOnRegression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, items := h.seed("INV-105", 1)
	wo := h.createAudit(r, items[0])
	h.opinion(wo, entity.OpinionApprove)

	if got := h.reimbursement(r.ID).Status; got != entity.ReimbursementClosed {
		t.Fatalf("setup: reimbursement = %v, want closed", got)
	}

	// An upstream correction rejects the audit behind the boundary's back.
	h.db.mu.Lock()
	stored := h.db.workOrders[wo.ID]
	stored.Status = entity.WorkOrderStatusRejected
	stored.AuditResult = entity.WorkOrderStatusRejected
	stored.UpdatedAt = stored.UpdatedAt.Add(time.Minute)
	h.db.mu.Unlock()

	status, err := h.reconciler.Recompute(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if status != entity.VerificationProblematic {
		t.Fatalf("Recompute() = %v, want problematic", status)
	}
	if got := h.reimbursement(r.ID).Status; got != entity.ReimbursementProcessing {
		t.Errorf("reimbursement = %v, want processing", got)
	}
}

func TestResolver_IngestExternalStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, items := h.seed("INV-106", 1)
	h.createAudit(r, items[0])

	status, err := h.resolver.IngestExternalStatus(ctx, r.ID, "待付款", clerk)
	if err != nil {
		t.Fatalf("IngestExternalStatus() error = %v", err)
	}
	if status != entity.ReimbursementClosed {
		t.Errorf("closing external status = %v, want closed", status)
	}
	if got := h.reimbursement(r.ID).ExternalStatus; got != "待付款" {
		t.Errorf("stored label = %q", got)
	}

	status, err = h.resolver.IngestExternalStatus(ctx, r.ID, "returned", clerk)
	if err != nil {
		t.Fatalf("IngestExternalStatus() error = %v", err)
	}
	if status != entity.ReimbursementProcessing {
		t.Errorf("after upstream reopened = %v, want processing", status)
	}

	if _, err := h.resolver.IngestExternalStatus(ctx, 999, "paid", clerk); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown reimbursement error = %v, want ErrNotFound", err)
	}
}

func TestResolver_ForceStatusValidation(t *testing.T) {
	h := newHarness(t)
	r, _ := h.seed("INV-107", 1)

	if err := h.resolver.ForceStatus(context.Background(), r.ID, "archived", clerk); !errors.Is(err, ErrValidation) {
		t.Errorf("ForceStatus() error = %v, want ErrValidation", err)
	}
}

func TestReconciler_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, items := h.seed("INV-108", 2)
	h.opinion(h.createAudit(r, items[0]), entity.OpinionApprove)

	first, err := h.reconciler.Recompute(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	lineWrites, reimbursementWrites := h.db.lineItemWrites, h.db.reimbursementWrites

	second, err := h.reconciler.Recompute(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}

	if first != second {
		t.Errorf("Recompute() not stable: %v then %v", first, second)
	}
	if h.db.lineItemWrites != lineWrites || h.db.reimbursementWrites != reimbursementWrites {
		t.Errorf("second Recompute() wrote: line %d -> %d, reimbursement %d -> %d",
			lineWrites, h.db.lineItemWrites, reimbursementWrites, h.db.reimbursementWrites)
	}
}

func TestReconciler_NotFound(t *testing.T) {
	h := newHarness(t)
	if _, err := h.reconciler.Recompute(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("Recompute() error = %v, want ErrNotFound", err)
	}
}
