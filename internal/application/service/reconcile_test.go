package service

import (
	"reflect"
	"testing"
	"time"

	"github.com/garyjia/expense-reconciler/internal/domain/entity"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

func audit(id int64, status string, updated time.Time) entity.WorkOrderSnapshot {
	return entity.WorkOrderSnapshot{ID: id, Kind: entity.KindAudit, Status: status, UpdatedAt: updated}
}

func TestDeriveVerification(t *testing.T) {
	tests := []struct {
		name   string
		orders []entity.WorkOrderSnapshot
		want   entity.VerificationStatus
	}{
		{
			name: "no work orders",
			want: entity.VerificationPending,
		},
		{
			name:   "single approved",
			orders: []entity.WorkOrderSnapshot{audit(1, entity.WorkOrderStatusApproved, at(1))},
			want:   entity.VerificationVerified,
		},
		{
			name:   "single rejected",
			orders: []entity.WorkOrderSnapshot{audit(1, entity.WorkOrderStatusRejected, at(1))},
			want:   entity.VerificationProblematic,
		},
		{
			name:   "single active",
			orders: []entity.WorkOrderSnapshot{audit(1, entity.WorkOrderStatusAuditing, at(1))},
			want:   entity.VerificationPending,
		},
		{
			name: "rejected later wins",
			orders: []entity.WorkOrderSnapshot{
				audit(1, entity.WorkOrderStatusApproved, at(1)),
				audit(2, entity.WorkOrderStatusRejected, at(2)),
			},
			want: entity.VerificationProblematic,
		},
		{
			name: "approved later wins with lower id",
			orders: []entity.WorkOrderSnapshot{
				audit(1, entity.WorkOrderStatusApproved, at(3)),
				audit(2, entity.WorkOrderStatusRejected, at(2)),
			},
			want: entity.VerificationVerified,
		},
		{
			name: "active latest clears forcing",
			orders: []entity.WorkOrderSnapshot{
				audit(1, entity.WorkOrderStatusApproved, at(1)),
				audit(2, entity.WorkOrderStatusPending, at(2)),
			},
			want: entity.VerificationPending,
		},
		{
			name: "tie goes to higher id",
			orders: []entity.WorkOrderSnapshot{
				audit(7, entity.WorkOrderStatusRejected, at(5)),
				audit(3, entity.WorkOrderStatusApproved, at(5)),
			},
			want: entity.VerificationProblematic,
		},
		{
			name: "completed audit keeps its decision",
			orders: []entity.WorkOrderSnapshot{
				{ID: 1, Kind: entity.KindAudit, Status: entity.WorkOrderStatusCompleted, AuditResult: entity.WorkOrderStatusApproved, UpdatedAt: at(1)},
			},
			want: entity.VerificationVerified,
		},
		{
			name: "communication without opinion is inert",
			orders: []entity.WorkOrderSnapshot{
				audit(1, entity.WorkOrderStatusApproved, at(1)),
				{ID: 2, Kind: entity.KindCommunication, Status: entity.WorkOrderStatusCompleted, UpdatedAt: at(9)},
				{ID: 3, Kind: entity.KindCommunication, Status: entity.WorkOrderStatusProcessing, UpdatedAt: at(10)},
			},
			want: entity.VerificationVerified,
		},
		{
			name: "communication with reject opinion counts",
			orders: []entity.WorkOrderSnapshot{
				audit(1, entity.WorkOrderStatusApproved, at(1)),
				{ID: 2, Kind: entity.KindCommunication, Status: entity.WorkOrderStatusRejected, Opinion: entity.OpinionReject, UpdatedAt: at(2)},
			},
			want: entity.VerificationProblematic,
		},
		{
			name: "communication with other opinion counts as pending",
			orders: []entity.WorkOrderSnapshot{
				audit(1, entity.WorkOrderStatusApproved, at(1)),
				{ID: 2, Kind: entity.KindCommunication, Status: entity.WorkOrderStatusProcessing, Opinion: entity.OpinionOther, UpdatedAt: at(2)},
			},
			want: entity.VerificationPending,
		},
		{
			name: "receipt intake counts as activity",
			orders: []entity.WorkOrderSnapshot{
				audit(1, entity.WorkOrderStatusApproved, at(1)),
				{ID: 2, Kind: entity.KindReceiptIntake, Status: entity.WorkOrderStatusProcessed, UpdatedAt: at(2)},
			},
			want: entity.VerificationPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveVerification(tt.orders); got != tt.want {
				t.Errorf("DeriveVerification() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeriveVerification_OrderIndependent(t *testing.T) {
	orders := []entity.WorkOrderSnapshot{
		audit(1, entity.WorkOrderStatusApproved, at(1)),
		audit(2, entity.WorkOrderStatusRejected, at(4)),
		audit(3, entity.WorkOrderStatusAuditing, at(2)),
		audit(4, entity.WorkOrderStatusApproved, at(3)),
	}
	want := entity.VerificationProblematic

	permute(orders, 0, func(p []entity.WorkOrderSnapshot) {
		if got := DeriveVerification(p); got != want {
			t.Fatalf("DeriveVerification(%v) = %v, want %v", ids(p), got, want)
		}
	})
}

func permute(orders []entity.WorkOrderSnapshot, k int, visit func([]entity.WorkOrderSnapshot)) {
	if k == len(orders) {
		visit(orders)
		return
	}
	for i := k; i < len(orders); i++ {
		orders[k], orders[i] = orders[i], orders[k]
		permute(orders, k+1, visit)
		orders[k], orders[i] = orders[i], orders[k]
	}
}

func ids(orders []entity.WorkOrderSnapshot) []int64 {
	out := make([]int64, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestResolve(t *testing.T) {
	active := []entity.WorkOrderSnapshot{audit(1, entity.WorkOrderStatusAuditing, at(1))}
	done := []entity.WorkOrderSnapshot{audit(1, entity.WorkOrderStatusCompleted, at(1))}

	tests := []struct {
		name     string
		r        entity.Reimbursement
		external entity.ExternalStatus
		orders   []entity.WorkOrderSnapshot
		want     entity.ReimbursementStatus
	}{
		{"override keeps pending over paid", entity.Reimbursement{Status: entity.ReimbursementPending, ManualOverride: true}, entity.ExternalPaid, active, entity.ReimbursementPending},
		{"override keeps closed", entity.Reimbursement{Status: entity.ReimbursementClosed, ManualOverride: true}, entity.ExternalOther("draft"), active, entity.ReimbursementClosed},
		{"paid closes with active work", entity.Reimbursement{Status: entity.ReimbursementProcessing}, entity.ExternalPaid, active, entity.ReimbursementClosed},
		{"pending payment closes", entity.Reimbursement{Status: entity.ReimbursementPending}, entity.ExternalPendingPayment, nil, entity.ReimbursementClosed},
		{"active work is processing", entity.Reimbursement{Status: entity.ReimbursementPending}, entity.ExternalOther("submitted"), active, entity.ReimbursementProcessing},
		{"finished work is pending", entity.Reimbursement{Status: entity.ReimbursementProcessing}, entity.ExternalOther(""), done, entity.ReimbursementPending},
		{"no work is pending", entity.Reimbursement{Status: entity.ReimbursementPending}, entity.ExternalOther(""), nil, entity.ReimbursementPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(&tt.r, tt.external, tt.orders); got != tt.want {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve_OverrideInert(t *testing.T) {
	externals := []entity.ExternalStatus{entity.ExternalPaid, entity.ExternalPendingPayment, entity.ExternalOther("x"), entity.ExternalOther("")}
	activity := [][]entity.WorkOrderSnapshot{
		nil,
		{audit(1, entity.WorkOrderStatusPending, at(1))},
		{audit(1, entity.WorkOrderStatusCompleted, at(1))},
	}

	for _, forced := range []entity.ReimbursementStatus{entity.ReimbursementPending, entity.ReimbursementProcessing, entity.ReimbursementClosed} {
		r := &entity.Reimbursement{Status: forced, ManualOverride: true}
		for _, ext := range externals {
			for _, orders := range activity {
				if got := Resolve(r, ext, orders); got != forced {
					t.Errorf("Resolve(forced=%s, ext=%s) = %s", forced, ext, got)
				}
				if got := Settle(r, orders, []entity.LineItemStatus{{LineItemID: 1, Status: entity.VerificationProblematic}}); got != forced {
					t.Errorf("Settle(forced=%s, ext=%s) = %s", forced, ext, got)
				}
			}
		}
	}
}

func TestCanClose(t *testing.T) {
	tests := []struct {
		name         string
		status       entity.ReimbursementStatus
		items        []entity.LineItemStatus
		want         bool
		wantBlocking []int64
	}{
		{
			name:   "processing all verified",
			status: entity.ReimbursementProcessing,
			items:  []entity.LineItemStatus{{LineItemID: 1, Status: entity.VerificationVerified}, {LineItemID: 2, Status: entity.VerificationVerified}},
			want:   true,
		},
		{
			name:         "one problematic blocks",
			status:       entity.ReimbursementProcessing,
			items:        []entity.LineItemStatus{{LineItemID: 1, Status: entity.VerificationVerified}, {LineItemID: 2, Status: entity.VerificationProblematic}},
			want:         false,
			wantBlocking: []int64{2},
		},
		{
			name:         "rejected blocks",
			status:       entity.ReimbursementProcessing,
			items:        []entity.LineItemStatus{{LineItemID: 4, Status: entity.VerificationRejected}, {LineItemID: 5, Status: entity.VerificationPending}},
			want:         false,
			wantBlocking: []int64{4, 5},
		},
		{
			name:   "pending reimbursement",
			status: entity.ReimbursementPending,
			items:  []entity.LineItemStatus{{LineItemID: 1, Status: entity.VerificationVerified}},
			want:   false,
		},
		{
			name:   "no line items",
			status: entity.ReimbursementProcessing,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, blocking := CanClose(&entity.Reimbursement{Status: tt.status}, tt.items)
			if got != tt.want {
				t.Errorf("CanClose() = %v, want %v", got, tt.want)
			}
			if !reflect.DeepEqual(blocking, tt.wantBlocking) {
				t.Errorf("blocking = %v, want %v", blocking, tt.wantBlocking)
			}
		})
	}
}

func TestSettle(t *testing.T) {
	verified := []entity.LineItemStatus{{LineItemID: 1, Status: entity.VerificationVerified}}
	problematic := []entity.LineItemStatus{{LineItemID: 1, Status: entity.VerificationProblematic}}
	mixed := []entity.LineItemStatus{{LineItemID: 1, Status: entity.VerificationVerified}, {LineItemID: 2, Status: entity.VerificationPending}}
	approved := []entity.WorkOrderSnapshot{audit(1, entity.WorkOrderStatusApproved, at(1))}
	rejected := []entity.WorkOrderSnapshot{audit(1, entity.WorkOrderStatusRejected, at(1))}
	completed := []entity.WorkOrderSnapshot{audit(1, entity.WorkOrderStatusCompleted, at(1))}

	tests := []struct {
		name   string
		r      entity.Reimbursement
		orders []entity.WorkOrderSnapshot
		items  []entity.LineItemStatus
		want   entity.ReimbursementStatus
	}{
		{"all verified closes", entity.Reimbursement{Status: entity.ReimbursementProcessing}, approved, verified, entity.ReimbursementClosed},
		{"partially verified stays processing", entity.Reimbursement{Status: entity.ReimbursementProcessing}, approved, mixed, entity.ReimbursementProcessing},
		{"verified without work stays pending", entity.Reimbursement{Status: entity.ReimbursementPending}, nil, verified, entity.ReimbursementPending},
		{"closed reopens on problematic", entity.Reimbursement{Status: entity.ReimbursementClosed}, rejected, problematic, entity.ReimbursementProcessing},
		{"closed reopens on problematic after work finished", entity.Reimbursement{Status: entity.ReimbursementClosed}, completed, problematic, entity.ReimbursementProcessing},
		{"external closing wins over problematic", entity.Reimbursement{Status: entity.ReimbursementClosed, ExternalStatus: "paid"}, rejected, problematic, entity.ReimbursementClosed},
		{"new work moves pending to processing", entity.Reimbursement{Status: entity.ReimbursementPending}, []entity.WorkOrderSnapshot{audit(1, entity.WorkOrderStatusPending, at(1))}, mixed, entity.ReimbursementProcessing},
		{"override is inert", entity.Reimbursement{Status: entity.ReimbursementPending, ManualOverride: true, ExternalStatus: "paid"}, approved, verified, entity.ReimbursementPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Settle(&tt.r, tt.orders, tt.items); got != tt.want {
				t.Errorf("Settle() = %v, want %v", got, tt.want)
			}
		})
	}
}
