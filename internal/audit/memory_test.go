package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	audits map[int64]Audit
	items  map[int64]Item
	nextID int64
	// failLink makes SetAdjustmentTransaction fail for the given audit item id.
	failLink int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{audits: map[int64]Audit{}, items: map[int64]Item{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	audits := make(map[int64]Audit, len(m.audits))
	for k, v := range m.audits {
		audits[k] = v
	}
	items := make(map[int64]Item, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	nextID := m.nextID
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.audits, m.items, m.nextID = audits, items, nextID
		return err
	}
	return nil
}

func (m *memoryRepo) GetAudit(_ context.Context, id int64) (Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audit(id)
}

func (m *memoryRepo) audit(id int64) (Audit, error) {
	a, ok := m.audits[id]
	if !ok {
		return Audit{}, fmt.Errorf("audit %d: %w", id, shared.ErrNotFound)
	}
	return a, nil
}

func (m *memoryRepo) ListItems(_ context.Context, auditID int64) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines(auditID), nil
}

func (m *memoryRepo) lines(auditID int64) []Item {
	var out []Item
	for _, it := range m.items {
		if it.AuditID == auditID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryRepo) ListAudits(_ context.Context, f Filter) ([]Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Audit
	for _, a := range m.audits {
		if (f.WarehouseType == "" || a.WarehouseType == f.WarehouseType) && (f.Status == "" || a.Status == f.Status) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memoryRepo) SetAdjustmentTransaction(_ context.Context, auditItemID, transactionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if auditItemID == m.failLink {
		return fmt.Errorf("link line %d: connection reset", auditItemID)
	}
	it := m.items[auditItemID]
	if it.AdjustmentTransactionID == 0 {
		it.AdjustmentTransactionID = transactionID
		m.items[auditItemID] = it
	}
	return nil
}

func (m *memoryRepo) MarkAdjustmentsApplied(_ context.Context, auditID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.audit(auditID)
	if err != nil {
		return err
	}
	if a.AdjustmentsAppliedAt != nil {
		return fmt.Errorf("%w: already applied", shared.ErrInvalidAuditState)
	}
	a.AdjustmentsAppliedAt = &at
	m.audits[auditID] = a
	return nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertAudit(_ context.Context, a Audit) (Audit, error) {
	t.repo.nextID++
	a.ID = t.repo.nextID
	t.repo.audits[a.ID] = a
	return a, nil
}

func (t *memoryTx) LockAudit(_ context.Context, id int64) (Audit, error) {
	return t.repo.audit(id)
}

func (t *memoryTx) UpdateAudit(_ context.Context, a Audit) error {
	t.repo.audits[a.ID] = a
	return nil
}

func (t *memoryTx) UpsertItem(_ context.Context, it Item) (Item, error) {
	for id, existing := range t.repo.items {
		if existing.AuditID == it.AuditID && existing.ItemID == it.ItemID && existing.LocationID == it.LocationID {
			it.ID = id
			t.repo.items[id] = it
			return it, nil
		}
	}
	t.repo.nextID++
	it.ID = t.repo.nextID
	t.repo.items[it.ID] = it
	return it, nil
}

func (t *memoryTx) ListItems(_ context.Context, auditID int64) ([]Item, error) {
	return t.repo.lines(auditID), nil
}

type fakeCatalog struct {
	items      map[int64]catalog.Item
	categories map[int64]catalog.Category
	locations  map[int64]catalog.Location
}

func (f fakeCatalog) GetItem(_ context.Context, id int64) (catalog.Item, error) {
	it, ok := f.items[id]
	if !ok {
		return catalog.Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return it, nil
}

func (f fakeCatalog) GetCategory(_ context.Context, id int64) (catalog.Category, error) {
	c, ok := f.categories[id]
	if !ok {
		return catalog.Category{}, fmt.Errorf("category %d: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

func (f fakeCatalog) GetLocation(_ context.Context, id int64) (catalog.Location, error) {
	l, ok := f.locations[id]
	if !ok {
		return catalog.Location{}, fmt.Errorf("location %d: %w", id, shared.ErrNotFound)
	}
	return l, nil
}
