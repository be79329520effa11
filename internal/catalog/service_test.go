package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type fixture struct {
	svc      *Service
	repo     *memoryRepo
	poster   *fakePoster
	category Category
	location Location
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := newMemoryRepo()
	poster := &fakePoster{}
	svc := NewService(repo, shared.WarehouseTypes{"OG", "SP"}, poster, nil, nil)
	ctx := context.Background()
	cat, err := svc.CreateCategory(ctx, CategoryInput{WarehouseType: "og", Code: "oil", Name: "Oils", ActorID: 1})
	require.NoError(t, err)
	loc, err := svc.CreateLocation(ctx, LocationInput{WarehouseType: "OG", Code: "rack-a", Name: "Rack A", ActorID: 1})
	require.NoError(t, err)
	return fixture{svc: svc, repo: repo, poster: poster, category: cat, location: loc}
}

func (f fixture) item(name string) ItemInput {
	return ItemInput{CategoryID: f.category.ID, LocationID: f.location.ID, Name: name, UnitPrice: decimal.NewFromInt(10), ActorID: 1}
}

func TestCreateCategoryNormalisesAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "OIL", f.category.Code)
	require.Equal(t, "OG", f.category.WarehouseType)

	_, err := f.svc.CreateCategory(context.Background(), CategoryInput{WarehouseType: "OG", Code: "OIL", Name: "Again"})
	require.ErrorIs(t, err, shared.ErrDuplicateCode)

	_, err = f.svc.CreateCategory(context.Background(), CategoryInput{WarehouseType: "SP", Code: "OIL", Name: "Other warehouse"})
	require.NoError(t, err)

	_, err = f.svc.CreateCategory(context.Background(), CategoryInput{WarehouseType: "ZZ", Code: "X", Name: "Unknown"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateLocationDuplicateCode(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "RACK-A", f.location.Code)
	_, err := f.svc.CreateLocation(context.Background(), LocationInput{WarehouseType: "SP", Code: "RACK-A", Name: "Clash"})
	require.ErrorIs(t, err, shared.ErrDuplicateCode)
}

func TestCreateItemGeneratesSequentialCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateItem(ctx, f.item("Engine oil"))
	require.NoError(t, err)
	second, err := f.svc.CreateItem(ctx, f.item("Gear oil"))
	require.NoError(t, err)

	require.Equal(t, "OIL-001", first.Code)
	require.Equal(t, "OIL-002", second.Code)
	require.Equal(t, "OG", first.WarehouseType)
	require.Equal(t, "pcs", first.Unit)

	// soft-deleted codes are never reused
	require.NoError(t, f.svc.SoftDeleteItem(ctx, second.ID, 1))
	third, err := f.svc.CreateItem(ctx, f.item("Brake fluid"))
	require.NoError(t, err)
	require.Equal(t, "OIL-003", third.Code)
}

func TestCreateItemRetriesCodeCollision(t *testing.T) {
	f := newFixture(t)
	f.repo.collisions = 2
	it, err := f.svc.CreateItem(context.Background(), f.item("Grease"))
	require.NoError(t, err)
	require.Equal(t, "OIL-001", it.Code)

	f.repo.collisions = 3
	_, err = f.svc.CreateItem(context.Background(), f.item("Grease 2"))
	require.ErrorIs(t, err, shared.ErrDuplicateCode)
}

func TestCreateItemValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.item("Bad price")
	in.UnitPrice = decimal.NewFromInt(-1)
	_, err := f.svc.CreateItem(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidPrice)

	in = f.item("Bad qty")
	in.InitialQuantity = decimal.NewFromInt(-5)
	_, err = f.svc.CreateItem(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	in = f.item("Bad min")
	in.MinQuantity = decimal.NewFromInt(-1)
	_, err = f.svc.CreateItem(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	in = f.item("No category")
	in.CategoryID = 999
	_, err = f.svc.CreateItem(ctx, in)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateItemDuplicateBarcode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.item("Scanned")
	in.Barcode = "8991234"
	first, err := f.svc.CreateItem(ctx, in)
	require.NoError(t, err)

	in.Name = "Scanned again"
	_, err = f.svc.CreateItem(ctx, in)
	require.ErrorIs(t, err, shared.ErrDuplicateBarcode)

	// an inactive holder frees the barcode
	require.NoError(t, f.svc.SoftDeleteItem(ctx, first.ID, 1))
	_, err = f.svc.CreateItem(ctx, in)
	require.NoError(t, err)
}

func TestCreateItemPostsOpeningStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.item("Opening")
	in.InitialQuantity = decimal.NewFromInt(12)
	it, err := f.svc.CreateItem(ctx, in)
	require.NoError(t, err)
	require.True(t, it.Active)
	require.Equal(t, 1, f.poster.calls)

	f.poster.err = errors.New("ledger down")
	in.Name = "Opening fails"
	_, err = f.svc.CreateItem(ctx, in)
	require.Error(t, err)

	items, err := f.svc.ListItems(ctx, ItemFilter{WarehouseType: "OG", IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.False(t, items[1].Active)
}

func TestUpdateItemKeepsCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it, err := f.svc.CreateItem(ctx, f.item("Old name"))
	require.NoError(t, err)

	name := "New name"
	price := decimal.RequireFromString("12.50")
	updated, err := f.svc.UpdateItem(ctx, it.ID, ItemPatch{Name: &name, UnitPrice: &price, ActorID: 2})
	require.NoError(t, err)
	require.Equal(t, it.Code, updated.Code)
	require.Equal(t, "New name", updated.Name)
	require.True(t, updated.UnitPrice.Equal(price))

	negative := decimal.NewFromInt(-3)
	_, err = f.svc.UpdateItem(ctx, it.ID, ItemPatch{UnitPrice: &negative})
	require.ErrorIs(t, err, shared.ErrInvalidPrice)
}

func TestUpdateItemBarcodeClash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.item("A")
	in.Barcode = "111"
	_, err := f.svc.CreateItem(ctx, in)
	require.NoError(t, err)
	other, err := f.svc.CreateItem(ctx, f.item("B"))
	require.NoError(t, err)

	barcode := "111"
	_, err = f.svc.UpdateItem(ctx, other.ID, ItemPatch{Barcode: &barcode})
	require.ErrorIs(t, err, shared.ErrDuplicateBarcode)
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it, err := f.svc.CreateItem(ctx, f.item("Temp"))
	require.NoError(t, err)

	require.NoError(t, f.svc.SoftDeleteItem(ctx, it.ID, 1))
	require.NoError(t, f.svc.SoftDeleteItem(ctx, it.ID, 1))
	require.ErrorIs(t, f.svc.SoftDeleteItem(ctx, 999, 1), shared.ErrNotFound)

	require.NoError(t, f.svc.SoftDeleteLocation(ctx, f.location.ID, 1))
	require.NoError(t, f.svc.SoftDeleteLocation(ctx, f.location.ID, 1))

	_, err = f.svc.CreateItem(ctx, f.item("At inactive location"))
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLookupsAndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.item("Hydraulic OIL 68")
	in.Barcode = "HX68"
	it, err := f.svc.CreateItem(ctx, in)
	require.NoError(t, err)

	byCode, err := f.svc.GetItemByCode(ctx, "og", "oil-001")
	require.NoError(t, err)
	require.Equal(t, it.ID, byCode.ID)

	byBarcode, err := f.svc.GetItemByBarcode(ctx, "HX68")
	require.NoError(t, err)
	require.Equal(t, it.ID, byBarcode.ID)

	found, err := f.svc.SearchItems(ctx, "OG", "hydraulic oil")
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = f.svc.SearchItems(ctx, "OG", "diesel")
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestLowStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.item("Threshold")
	in.MinQuantity = decimal.NewFromInt(5)
	low, err := f.svc.CreateItem(ctx, in)
	require.NoError(t, err)
	in.Name = "Plenty"
	plenty, err := f.svc.CreateItem(ctx, in)
	require.NoError(t, err)
	f.repo.stock[low.ID] = decimal.NewFromInt(2)
	f.repo.stock[plenty.ID] = decimal.NewFromInt(9)

	out, err := f.svc.LowStock(ctx, "OG")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, low.ID, out[0].ItemID)
}
