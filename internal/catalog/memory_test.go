package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	categories map[int64]Category
	locations  map[int64]Location
	items      map[int64]Item
	stock      map[int64]decimal.Decimal
	nextID     int64
	// collisions forces the next N CreateItem calls to fail with a code clash.
	collisions int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		categories: map[int64]Category{},
		locations:  map[int64]Location{},
		items:      map[int64]Item{},
		stock:      map[int64]decimal.Decimal{},
	}
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) CreateCategory(_ context.Context, c Category) (Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.categories {
		if existing.WarehouseType == c.WarehouseType && existing.Code == c.Code {
			return Category{}, shared.ErrDuplicateCode
		}
	}
	c.ID, c.Active, c.CreatedAt = m.id(), true, time.Now()
	m.categories[c.ID] = c
	return c, nil
}

func (m *memoryRepo) GetCategory(_ context.Context, id int64) (Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return Category{}, fmt.Errorf("category %d: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

func (m *memoryRepo) ListCategories(_ context.Context, wt string) ([]Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Category
	for _, c := range m.categories {
		if c.Active && (wt == "" || c.WarehouseType == wt) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memoryRepo) CreateLocation(_ context.Context, l Location) (Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.locations {
		if existing.Code == l.Code {
			return Location{}, shared.ErrDuplicateCode
		}
	}
	l.ID, l.Active, l.CreatedAt = m.id(), true, time.Now()
	m.locations[l.ID] = l
	return l, nil
}

func (m *memoryRepo) GetLocation(_ context.Context, id int64) (Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locations[id]
	if !ok {
		return Location{}, fmt.Errorf("location %d: %w", id, shared.ErrNotFound)
	}
	return l, nil
}

func (m *memoryRepo) ListLocations(_ context.Context, wt string) ([]Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Location
	for _, l := range m.locations {
		if l.Active && (wt == "" || l.WarehouseType == wt) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memoryRepo) DeactivateLocation(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.locations[id]
	if !l.Active {
		return false, nil
	}
	l.Active = false
	m.locations[id] = l
	return true, nil
}

func (m *memoryRepo) ItemCodes(_ context.Context, wt, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, it := range m.items {
		if it.WarehouseType == wt && strings.HasPrefix(it.Code, prefix+"-") {
			out = append(out, it.Code)
		}
	}
	return out, nil
}

func (m *memoryRepo) CreateItem(_ context.Context, it Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collisions > 0 {
		m.collisions--
		return Item{}, fmt.Errorf("item code %s: %w", it.Code, shared.ErrDuplicateCode)
	}
	for _, existing := range m.items {
		if existing.WarehouseType == it.WarehouseType && existing.Code == it.Code {
			return Item{}, shared.ErrDuplicateCode
		}
		if it.Barcode != "" && existing.Active && existing.Barcode == it.Barcode {
			return Item{}, shared.ErrDuplicateBarcode
		}
	}
	now := time.Now()
	it.ID, it.Active, it.CreatedAt, it.UpdatedAt = m.id(), true, now, now
	m.items[it.ID] = it
	return it, nil
}

func (m *memoryRepo) UpdateItem(_ context.Context, it Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[it.ID]; !ok {
		return Item{}, shared.ErrNotFound
	}
	it.UpdatedAt = time.Now()
	m.items[it.ID] = it
	return it, nil
}

func (m *memoryRepo) DeactivateItem(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.items[id]
	if !it.Active {
		return false, nil
	}
	it.Active = false
	m.items[id] = it
	return true, nil
}

func (m *memoryRepo) GetItem(_ context.Context, id int64) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return it, nil
}

func (m *memoryRepo) GetItemByCode(_ context.Context, wt, code string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.WarehouseType == wt && it.Code == code {
			return it, nil
		}
	}
	return Item{}, shared.ErrNotFound
}

func (m *memoryRepo) GetItemByBarcode(_ context.Context, barcode string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.Active && it.Barcode == barcode {
			return it, nil
		}
	}
	return Item{}, shared.ErrNotFound
}

func (m *memoryRepo) BarcodeInUse(_ context.Context, barcode string, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.Active && it.Barcode == barcode && it.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) ListItems(_ context.Context, f ItemFilter) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fold := cases.Fold()
	var out []Item
	for _, it := range m.items {
		if !f.IncludeInactive && !it.Active {
			continue
		}
		if f.WarehouseType != "" && it.WarehouseType != f.WarehouseType {
			continue
		}
		if f.CategoryID > 0 && it.CategoryID != f.CategoryID {
			continue
		}
		if f.Query != "" && !strings.Contains(fold.String(it.Name), f.Query) && !strings.Contains(fold.String(it.Code), f.Query) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memoryRepo) LowStock(_ context.Context, wt string) ([]LowStockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LowStockItem
	for _, it := range m.items {
		if !it.Active || !it.MinQuantity.IsPositive() || (wt != "" && it.WarehouseType != wt) {
			continue
		}
		total := m.stock[it.ID]
		if total.LessThan(it.MinQuantity) {
			out = append(out, LowStockItem{ItemID: it.ID, WarehouseType: it.WarehouseType, Code: it.Code, Name: it.Name, MinQuantity: it.MinQuantity, Total: total})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type fakePoster struct {
	calls int
	err   error
}

func (p *fakePoster) PostOpeningStock(_ context.Context, _, _ int64, _, _ decimal.Decimal, _ int64) error {
	p.calls++
	return p.err
}
