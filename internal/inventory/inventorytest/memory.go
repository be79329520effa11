// Package inventorytest provides an in-memory inventory repository for tests.
package inventorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type stockKey struct {
	item     int64
	location int64
}

type state struct {
	items        map[int64]inventory.ItemRef
	locations    map[int64]inventory.LocationRef
	stock        map[stockKey]inventory.Stock
	sequences    map[inventory.NumberScope]int
	transactions []inventory.Transaction
}

func (s state) clone() state {
	out := state{
		items:        make(map[int64]inventory.ItemRef, len(s.items)),
		locations:    make(map[int64]inventory.LocationRef, len(s.locations)),
		stock:        make(map[stockKey]inventory.Stock, len(s.stock)),
		sequences:    make(map[inventory.NumberScope]int, len(s.sequences)),
		transactions: append([]inventory.Transaction(nil), s.transactions...),
	}
	for k, v := range s.items {
		out.items[k] = v
	}
	for k, v := range s.locations {
		out.locations[k] = v
	}
	for k, v := range s.stock {
		out.stock[k] = v
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	return out
}

// Store implements inventory.RepositoryPort in memory. WithTx runs callbacks one at a time and
// restores the previous state when the callback fails.
type Store struct {
	mu    sync.Mutex
	state state
	// FailInsert, when set, is returned by the next InsertTransaction call.
	FailInsert error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: state{
		items:     map[int64]inventory.ItemRef{},
		locations: map[int64]inventory.LocationRef{},
		stock:     map[stockKey]inventory.Stock{},
		sequences: map[inventory.NumberScope]int{},
	}}
}

// AddLocation seeds an active location.
func (s *Store) AddLocation(id int64, warehouseType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.locations[id] = inventory.LocationRef{ID: id, WarehouseType: warehouseType, Active: true}
}

// DeactivateLocation flags a seeded location inactive.
func (s *Store) DeactivateLocation(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.state.locations[id]
	loc.Active = false
	s.state.locations[id] = loc
}

// AddItem seeds an active item stored at locationID.
func (s *Store) AddItem(id int64, warehouseType string, locationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.items[id] = inventory.ItemRef{ID: id, WarehouseType: warehouseType, LocationID: locationID, Active: true}
}

// Item returns a seeded item.
func (s *Store) Item(id int64) inventory.ItemRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.items[id]
}

// SeedStock sets a stock quantity directly, bypassing the engine.
func (s *Store) SeedStock(itemID, locationID int64, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.stock[stockKey{itemID, locationID}] = inventory.Stock{ItemID: itemID, LocationID: locationID, Quantity: qty, UpdatedAt: time.Now()}
}

// Transactions returns a copy of the ledger in insertion order.
func (s *Store) Transactions() []inventory.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Transaction(nil), s.state.transactions...)
}

// WithTx implements inventory.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state.clone()
	err := fn(ctx, &txView{store: s})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// GetStock implements inventory.RepositoryPort.
func (s *Store) GetStock(_ context.Context, itemID, locationID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.stock[stockKey{itemID, locationID}].Quantity, nil
}

// ListStock implements inventory.RepositoryPort.
func (s *Store) ListStock(_ context.Context, itemID int64) ([]inventory.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Stock
	for k, v := range s.state.stock {
		if k.item == itemID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out, nil
}

// GetTransaction implements inventory.RepositoryPort.
func (s *Store) GetTransaction(_ context.Context, id int64) (inventory.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.byID(id)
}

// GetTransactionByNumber implements inventory.RepositoryPort.
func (s *Store) GetTransactionByNumber(_ context.Context, number string) (inventory.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.state.transactions {
		if t.Number == number {
			return t, nil
		}
	}
	return inventory.Transaction{}, fmt.Errorf("transaction %s: %w", number, shared.ErrNotFound)
}

// FindByIdempotencyKey implements inventory.RepositoryPort.
func (s *Store) FindByIdempotencyKey(_ context.Context, key string) (inventory.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.byKey(key)
	return t, ok, nil
}

// ListTransactions implements inventory.RepositoryPort.
func (s *Store) ListTransactions(_ context.Context, f inventory.TransactionFilter) ([]inventory.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Transaction
	for i := len(s.state.transactions) - 1; i >= 0; i-- {
		t := s.state.transactions[i]
		if f.WarehouseType != "" && t.WarehouseType != f.WarehouseType {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.ItemID > 0 && t.ItemID != f.ItemID {
			continue
		}
		if f.ActorID > 0 && t.ActorID != f.ActorID {
			continue
		}
		if f.LocationID > 0 && !touches(t, f.LocationID) {
			continue
		}
		if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && t.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, t)
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func touches(t inventory.Transaction, locationID int64) bool {
	if d, ok := t.Detail.(inventory.TransferDetail); ok {
		return d.FromLocationID == locationID || d.ToLocationID == locationID
	}
	return inventory.DetailLocation(t.Detail) == locationID
}

func (s state) byID(id int64) (inventory.Transaction, error) {
	for _, t := range s.transactions {
		if t.ID == id {
			return t, nil
		}
	}
	return inventory.Transaction{}, fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
}

func (s state) byKey(key string) (inventory.Transaction, bool) {
	if key == "" {
		return inventory.Transaction{}, false
	}
	for _, t := range s.transactions {
		if t.IdempotencyKey == key {
			return t, true
		}
	}
	return inventory.Transaction{}, false
}

// txView is handed to WithTx callbacks while the store mutex is held.
type txView struct {
	store *Store
}

func (v *txView) FindByIdempotencyKey(_ context.Context, key string) (inventory.Transaction, bool, error) {
	t, ok := v.store.state.byKey(key)
	return t, ok, nil
}

func (v *txView) GetItem(_ context.Context, id int64) (inventory.ItemRef, error) {
	it, ok := v.store.state.items[id]
	if !ok {
		return inventory.ItemRef{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return it, nil
}

func (v *txView) GetLocation(_ context.Context, id int64) (inventory.LocationRef, error) {
	loc, ok := v.store.state.locations[id]
	if !ok {
		return inventory.LocationRef{}, fmt.Errorf("location %d: %w", id, shared.ErrNotFound)
	}
	return loc, nil
}

func (v *txView) LockStock(_ context.Context, itemID, locationID int64, create bool) (decimal.Decimal, bool, error) {
	key := stockKey{itemID, locationID}
	st, ok := v.store.state.stock[key]
	if !ok {
		if !create {
			return decimal.Zero, false, nil
		}
		st = inventory.Stock{ItemID: itemID, LocationID: locationID, Quantity: decimal.Zero, UpdatedAt: time.Now()}
		v.store.state.stock[key] = st
	}
	return st.Quantity, true, nil
}

func (v *txView) SetStock(_ context.Context, itemID, locationID int64, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return fmt.Errorf("stock check violated for item %d at %d", itemID, locationID)
	}
	v.store.state.stock[stockKey{itemID, locationID}] = inventory.Stock{ItemID: itemID, LocationID: locationID, Quantity: qty, UpdatedAt: time.Now()}
	return nil
}

func (v *txView) SetItemLocation(_ context.Context, itemID, locationID int64) error {
	it := v.store.state.items[itemID]
	it.LocationID = locationID
	v.store.state.items[itemID] = it
	return nil
}

func (v *txView) LockIssue(_ context.Context, id int64) (inventory.Transaction, error) {
	return v.store.state.byID(id)
}

func (v *txView) ReturnedQuantity(_ context.Context, sourceIssueID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range v.store.state.transactions {
		if d, ok := t.Detail.(inventory.ReturnDetail); ok && d.SourceIssueID == sourceIssueID {
			total = total.Add(t.Quantity)
		}
	}
	return total, nil
}

func (v *txView) NextSequence(_ context.Context, scope inventory.NumberScope) (int, error) {
	seq, ok := v.store.state.sequences[scope]
	if !ok {
		for _, t := range v.store.state.transactions {
			if t.WarehouseType == scope.WarehouseType && t.Type == scope.Type && t.Period == scope.Period && t.Sequence > seq {
				seq = t.Sequence
			}
		}
	}
	seq++
	v.store.state.sequences[scope] = seq
	return seq, nil
}

func (v *txView) InsertTransaction(_ context.Context, t inventory.Transaction) (inventory.Transaction, error) {
	if err := v.store.FailInsert; err != nil {
		v.store.FailInsert = nil
		return inventory.Transaction{}, err
	}
	if _, dup := v.store.state.byKey(t.IdempotencyKey); dup {
		return inventory.Transaction{}, inventory.ErrDuplicateIdempotencyKey
	}
	for _, existing := range v.store.state.transactions {
		if existing.Number == t.Number {
			return inventory.Transaction{}, fmt.Errorf("duplicate number %s", t.Number)
		}
	}
	t.ID = int64(len(v.store.state.transactions) + 1)
	v.store.state.transactions = append(v.store.state.transactions, t)
	return t, nil
}
