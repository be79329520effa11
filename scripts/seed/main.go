package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const seedActor = int64(1)

type seedItem struct {
	category string
	location string
	name     string
	barcode  string
	unit     string
	price    string
	min      string
	opening  string
}

var (
	categories = map[string][][2]string{
		"OG": {{"OIL", "Engine oils"}, {"GRS", "Greases"}},
		"SP": {{"FLT", "Filters"}, {"BLT", "Belts"}},
	}
	locations = map[string][][2]string{
		"OG": {{"OG-A", "Oil store rack A"}, {"OG-B", "Oil store rack B"}},
		"SP": {{"SP-1", "Spare parts aisle 1"}},
	}
	items = map[string][]seedItem{
		"OG": {
			{"OIL", "OG-A", "SAE 15W-40 drum", "8991000000011", "L", "4.20", "50", "200"},
			{"OIL", "OG-A", "Hydraulic oil ISO 46", "8991000000028", "L", "3.10", "40", "120"},
			{"GRS", "OG-B", "Lithium grease EP2", "8991000000035", "KG", "6.50", "10", "8"},
		},
		"SP": {
			{"FLT", "SP-1", "Fuel filter FF5052", "8991000000042", "PCS", "12.00", "6", "24"},
			{"BLT", "SP-1", "V-belt B-52", "8991000000059", "PCS", "9.75", "4", "2"},
		},
	}
)

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	services, err := app.NewServices(cfg, pool, nil, nil, slog.Default())
	if err != nil {
		log.Fatalf("init services: %v", err)
	}

	for _, wt := range cfg.Warehouses() {
		fmt.Printf("→ Seeding warehouse %s...\n", wt)
		if err := seedWarehouse(ctx, services, wt); err != nil {
			log.Fatalf("seed %s: %v", wt, err)
		}
	}
	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedWarehouse(ctx context.Context, s *app.Services, wt string) error {
	for _, c := range categories[wt] {
		_, err := s.Catalog.CreateCategory(ctx, catalog.CategoryInput{WarehouseType: wt, Code: c[0], Name: c[1], ActorID: seedActor})
		if err != nil && !errors.Is(err, shared.ErrDuplicateCode) {
			return fmt.Errorf("category %s: %w", c[0], err)
		}
	}
	for _, l := range locations[wt] {
		_, err := s.Catalog.CreateLocation(ctx, catalog.LocationInput{WarehouseType: wt, Code: l[0], Name: l[1], ActorID: seedActor})
		if err != nil && !errors.Is(err, shared.ErrDuplicateCode) {
			return fmt.Errorf("location %s: %w", l[0], err)
		}
	}

	catIDs, locIDs, err := lookups(ctx, s.Catalog, wt)
	if err != nil {
		return err
	}
	for _, it := range items[wt] {
		created, err := s.Catalog.CreateItem(ctx, catalog.ItemInput{
			CategoryID:      catIDs[it.category],
			LocationID:      locIDs[it.location],
			Name:            it.name,
			Barcode:         it.barcode,
			Unit:            it.unit,
			UnitPrice:       decimal.RequireFromString(it.price),
			MinQuantity:     decimal.RequireFromString(it.min),
			InitialQuantity: decimal.RequireFromString(it.opening),
			ActorID:         seedActor,
		})
		if errors.Is(err, shared.ErrDuplicateBarcode) {
			continue
		}
		if err != nil {
			return fmt.Errorf("item %s: %w", it.name, err)
		}
		fmt.Printf("  %s %s\n", created.Code, created.Name)
	}
	return topUp(ctx, s.Inventory, s.Catalog, wt)
}

func lookups(ctx context.Context, svc *catalog.Service, wt string) (map[string]int64, map[string]int64, error) {
	cats, err := svc.ListCategories(ctx, wt)
	if err != nil {
		return nil, nil, err
	}
	locs, err := svc.ListLocations(ctx, wt)
	if err != nil {
		return nil, nil, err
	}
	catIDs := make(map[string]int64, len(cats))
	for _, c := range cats {
		catIDs[c.Code] = c.ID
	}
	locIDs := make(map[string]int64, len(locs))
	for _, l := range locs {
		locIDs[l.Code] = l.ID
	}
	return catIDs, locIDs, nil
}

// topUp posts one receipt per item, keyed so reruns are no-ops.
func topUp(ctx context.Context, inv *inventory.Service, svc *catalog.Service, wt string) error {
	for _, it := range items[wt] {
		item, err := svc.GetItemByBarcode(ctx, it.barcode)
		if err != nil {
			return err
		}
		_, err = inv.PostPurchase(ctx, inventory.PurchaseInput{
			ItemID:         item.ID,
			LocationID:     item.LocationID,
			Quantity:       decimal.NewFromInt(10),
			UnitPrice:      item.UnitPrice,
			Supplier:       getenv("SEED_SUPPLIER", "PT Sumber Teknik"),
			ActorID:        seedActor,
			IdempotencyKey: "seed:topup:" + it.barcode,
		})
		if err != nil {
			return fmt.Errorf("top up %s: %w", item.Code, err)
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
