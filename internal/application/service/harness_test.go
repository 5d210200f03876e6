package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-reconciler/internal/application/dispatcher"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
)

// fakeClock advances one second on every read so successive mutations get
// strictly increasing timestamps
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	t          *testing.T
	db         *memDB
	locker     *recordingLocker
	tx         *mockTxManager
	dispatcher dispatcher.Dispatcher
	logger     *recordingLogger
	clock      *fakeClock

	resolver       Resolver
	reconciler     Reconciler
	workOrders     WorkOrderService
	spawner        AuditSpawner
	reimbursements ReimbursementService
}

var clerk = entity.Actor{ID: "clerk-1", Name: "Clerk"}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:          t,
		db:         newMemDB(),
		locker:     newRecordingLocker(),
		tx:         &mockTxManager{},
		dispatcher: dispatcher.NewDispatcher(),
		logger:     &recordingLogger{},
		clock:      &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}

	store := memStore{db: h.db}
	reimbursements := memReimbursements{db: h.db}
	workOrders := memWorkOrders{db: h.db}
	lineItems := memLineItems{db: h.db}
	selections := memSelections{db: h.db}

	h.resolver = NewResolver(store, reimbursements, h.tx, h.locker, h.dispatcher, h.logger,
		WithResolverClock(h.clock.Now))
	h.reconciler = NewReconciler(store, lineItems, reimbursements, h.resolver, h.tx, h.locker, h.dispatcher, h.logger)
	h.workOrders = NewWorkOrderService(workOrders, selections, lineItems, reimbursements, store,
		h.reconciler, h.resolver, h.tx, h.locker, h.dispatcher, h.logger,
		WithClock(h.clock.Now), WithCommunicationMinContent(10))
	h.spawner = NewAuditSpawner(workOrders, selections, h.workOrders, h.tx, h.locker, h.dispatcher, h.logger)
	h.spawner.Register(h.dispatcher)
	h.reimbursements = NewReimbursementService(reimbursements, lineItems, h.workOrders, h.tx, h.locker, h.dispatcher, h.logger)

	t.Cleanup(func() { _ = h.dispatcher.Close() })
	return h
}

// seed creates a reimbursement with n line items
func (h *harness) seed(invoice string, n int) (*entity.Reimbursement, []*entity.FeeLineItem) {
	h.t.Helper()
	ctx := context.Background()

	r, err := h.reimbursements.Create(ctx, invoice)
	if err != nil {
		h.t.Fatalf("create reimbursement: %v", err)
	}

	items := make([]*entity.FeeLineItem, 0, n)
	for i := 0; i < n; i++ {
		item, err := h.reimbursements.AddLineItem(ctx, r.ID, CreateLineItemInput{
			ExternalID: fmt.Sprintf("%s-%d", invoice, i+1),
			Amount:     decimal.RequireFromString("120.50"),
		})
		if err != nil {
			h.t.Fatalf("add line item: %v", err)
		}
		items = append(items, item)
	}
	return r, items
}

func (h *harness) createAudit(r *entity.Reimbursement, items ...*entity.FeeLineItem) *entity.WorkOrder {
	h.t.Helper()
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	wo, err := h.workOrders.Create(context.Background(), CreateWorkOrderInput{
		Kind:            entity.KindAudit,
		ReimbursementID: r.ID,
		LineItemIDs:     ids,
	}, clerk)
	if err != nil {
		h.t.Fatalf("create audit: %v", err)
	}
	return wo
}

func (h *harness) opinion(wo *entity.WorkOrder, opinion entity.Opinion) {
	h.t.Helper()
	if _, err := h.workOrders.SetOpinion(context.Background(), wo.ID, opinion, clerk); err != nil {
		h.t.Fatalf("set opinion %s on %d: %v", opinion, wo.ID, err)
	}
}

func (h *harness) reimbursement(id int64) *entity.Reimbursement {
	h.t.Helper()
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	cp := *h.db.reimbursements[id]
	return &cp
}

func (h *harness) lineStatus(id int64) entity.VerificationStatus {
	h.t.Helper()
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	return h.db.lineItems[id].VerificationStatus
}

func (h *harness) workOrder(id int64) *entity.WorkOrder {
	h.t.Helper()
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	cp := *h.db.workOrders[id]
	return &cp
}

func (h *harness) setUpdatedAt(workOrderID int64, at time.Time) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	h.db.workOrders[workOrderID].UpdatedAt = at
}
