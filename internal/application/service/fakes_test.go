package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
)

// memDB is an in-memory backing for the repository fakes
type memDB struct {
	mu             sync.Mutex
	nextID         int64
	reimbursements map[int64]*entity.Reimbursement
	workOrders     map[int64]*entity.WorkOrder
	lineItems      map[int64]*entity.FeeLineItem
	selections     map[int64]*entity.Selection

	lineItemWrites      int
	reimbursementWrites int
}

func newMemDB() *memDB {
	return &memDB{
		reimbursements: make(map[int64]*entity.Reimbursement),
		workOrders:     make(map[int64]*entity.WorkOrder),
		lineItems:      make(map[int64]*entity.FeeLineItem),
		selections:     make(map[int64]*entity.Selection),
	}
}

func (db *memDB) id() int64 {
	db.nextID++
	return db.nextID
}

type memReimbursements struct{ db *memDB }

func (m memReimbursements) Create(ctx context.Context, r *entity.Reimbursement) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r.ID = m.db.id()
	r.Status = entity.ReimbursementPending
	cp := *r
	m.db.reimbursements[r.ID] = &cp
	return nil
}

func (m memReimbursements) GetByID(ctx context.Context, id int64) (*entity.Reimbursement, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.reimbursements[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m memReimbursements) GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*entity.Reimbursement, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, r := range m.db.reimbursements {
		if r.InvoiceNumber == invoiceNumber {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m memReimbursements) List(ctx context.Context, limit, offset int) ([]*entity.Reimbursement, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*entity.Reimbursement
	for _, r := range m.db.reimbursements {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memReimbursements) SetExternalStatus(ctx context.Context, id int64, label string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if r, ok := m.db.reimbursements[id]; ok {
		r.ExternalStatus = label
	}
	return nil
}

func (m memReimbursements) TouchLastUpdate(ctx context.Context, id int64, at time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if r, ok := m.db.reimbursements[id]; ok {
		r.LastUpdateAt = &at
	}
	return nil
}

type memWorkOrders struct{ db *memDB }

func (m memWorkOrders) Create(ctx context.Context, wo *entity.WorkOrder) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	wo.ID = m.db.id()
	cp := *wo
	cp.LineItemIDs = nil
	m.db.workOrders[wo.ID] = &cp
	return nil
}

func (m memWorkOrders) GetByID(ctx context.Context, id int64) (*entity.WorkOrder, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	wo, ok := m.db.workOrders[id]
	if !ok {
		return nil, nil
	}
	cp := *wo
	return &cp, nil
}

func (m memWorkOrders) GetBySourceID(ctx context.Context, sourceWorkOrderID int64) (*entity.WorkOrder, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, wo := range m.db.workOrders {
		if wo.SourceWorkOrderID != nil && *wo.SourceWorkOrderID == sourceWorkOrderID {
			cp := *wo
			return &cp, nil
		}
	}
	return nil, nil
}

func (m memWorkOrders) GetByReimbursementID(ctx context.Context, reimbursementID int64) ([]*entity.WorkOrder, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*entity.WorkOrder
	for _, wo := range m.db.workOrders {
		if wo.ReimbursementID == reimbursementID {
			cp := *wo
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memWorkOrders) Update(ctx context.Context, wo *entity.WorkOrder) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	cp := *wo
	cp.LineItemIDs = nil
	m.db.workOrders[wo.ID] = &cp
	return nil
}

func (m memWorkOrders) Delete(ctx context.Context, id int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	delete(m.db.workOrders, id)
	for sid, sel := range m.db.selections {
		if sel.WorkOrderID == id {
			delete(m.db.selections, sid)
		}
	}
	return nil
}

type memLineItems struct{ db *memDB }

func (m memLineItems) Create(ctx context.Context, item *entity.FeeLineItem) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	item.ID = m.db.id()
	item.VerificationStatus = entity.VerificationPending
	cp := *item
	m.db.lineItems[item.ID] = &cp
	return nil
}

func (m memLineItems) GetByID(ctx context.Context, id int64) (*entity.FeeLineItem, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	item, ok := m.db.lineItems[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (m memLineItems) GetByExternalID(ctx context.Context, externalID string) (*entity.FeeLineItem, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, item := range m.db.lineItems {
		if item.ExternalID == externalID {
			cp := *item
			return &cp, nil
		}
	}
	return nil, nil
}

func (m memLineItems) GetByDocumentNumber(ctx context.Context, documentNumber string) ([]*entity.FeeLineItem, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.db.itemsFor(documentNumber), nil
}

func (db *memDB) itemsFor(documentNumber string) []*entity.FeeLineItem {
	var out []*entity.FeeLineItem
	for _, item := range db.lineItems {
		if item.DocumentNumber == documentNumber {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memSelections struct{ db *memDB }

func (m memSelections) Create(ctx context.Context, sel *entity.Selection) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, existing := range m.db.selections {
		if existing.WorkOrderID == sel.WorkOrderID && existing.LineItemID == sel.LineItemID {
			return false, nil
		}
	}
	sel.ID = m.db.id()
	cp := *sel
	m.db.selections[sel.ID] = &cp
	return true, nil
}

func (m memSelections) Delete(ctx context.Context, workOrderID, lineItemID int64) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for id, sel := range m.db.selections {
		if sel.WorkOrderID == workOrderID && sel.LineItemID == lineItemID {
			delete(m.db.selections, id)
			return true, nil
		}
	}
	return false, nil
}

func (m memSelections) GetByWorkOrderID(ctx context.Context, workOrderID int64) ([]*entity.Selection, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*entity.Selection
	for _, sel := range m.db.selections {
		if sel.WorkOrderID == workOrderID {
			cp := *sel
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineItemID < out[j].LineItemID })
	return out, nil
}

type memStore struct{ db *memDB }

func (m memStore) LoadWorkOrdersForLineItem(ctx context.Context, lineItemID int64) ([]entity.WorkOrderSnapshot, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []entity.WorkOrderSnapshot
	for _, sel := range m.db.selections {
		if sel.LineItemID != lineItemID {
			continue
		}
		if wo, ok := m.db.workOrders[sel.WorkOrderID]; ok {
			out = append(out, wo.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memStore) LoadWorkOrdersForReimbursement(ctx context.Context, reimbursementID int64) ([]entity.WorkOrderSnapshot, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []entity.WorkOrderSnapshot
	for _, wo := range m.db.workOrders {
		if wo.ReimbursementID == reimbursementID {
			out = append(out, wo.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memStore) LoadLineItemStatuses(ctx context.Context, reimbursementID int64) ([]entity.LineItemStatus, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.reimbursements[reimbursementID]
	if !ok {
		return nil, nil
	}
	var out []entity.LineItemStatus
	for _, item := range m.db.itemsFor(r.InvoiceNumber) {
		out = append(out, entity.LineItemStatus{LineItemID: item.ID, Status: item.VerificationStatus})
	}
	return out, nil
}

func (m memStore) IsReimbursementClosed(ctx context.Context, reimbursementID int64) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.reimbursements[reimbursementID]
	return ok && r.Status == entity.ReimbursementClosed, nil
}

func (m memStore) PersistLineItemStatus(ctx context.Context, lineItemID int64, status entity.VerificationStatus) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.lineItemWrites++
	if item, ok := m.db.lineItems[lineItemID]; ok {
		item.VerificationStatus = status
	}
	return nil
}

func (m memStore) PersistReimbursementStatus(ctx context.Context, reimbursementID int64, status entity.ReimbursementStatus, manualOverride bool, overrideAt *time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.reimbursementWrites++
	if r, ok := m.db.reimbursements[reimbursementID]; ok {
		r.Status = status
		r.ManualOverride = manualOverride
		r.ManualOverrideAt = overrideAt
	}
	return nil
}

type mockTxManager struct {
	calls int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

// recordingLocker hands out reentrancy-free leases and records the order keys were taken in
type recordingLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	obtained []string
}

func newRecordingLocker() *recordingLocker {
	return &recordingLocker{held: make(map[string]bool)}
}

type recordingLease struct {
	locker *recordingLocker
	key    string
}

func (l *recordingLocker) Obtain(ctx context.Context, key string) (port.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, port.ErrLockNotObtained
	}
	l.held[key] = true
	l.obtained = append(l.obtained, key)
	return &recordingLease{locker: l, key: key}, nil
}

func (l *recordingLease) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	return nil
}

func (l *recordingLocker) heldCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, keysAndValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Error(msg string, keysAndValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}
