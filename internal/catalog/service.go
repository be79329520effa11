package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts persistence for the catalog service.
type RepositoryPort interface {
	CreateCategory(ctx context.Context, c Category) (Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	ListCategories(ctx context.Context, warehouseType string) ([]Category, error)
	CreateLocation(ctx context.Context, l Location) (Location, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
	ListLocations(ctx context.Context, warehouseType string) ([]Location, error)
	DeactivateLocation(ctx context.Context, id int64) (bool, error)
	ItemCodes(ctx context.Context, warehouseType, prefix string) ([]string, error)
	CreateItem(ctx context.Context, it Item) (Item, error)
	UpdateItem(ctx context.Context, it Item) (Item, error)
	DeactivateItem(ctx context.Context, id int64) (bool, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	GetItemByCode(ctx context.Context, warehouseType, code string) (Item, error)
	GetItemByBarcode(ctx context.Context, barcode string) (Item, error)
	BarcodeInUse(ctx context.Context, barcode string, excludeID int64) (bool, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
	LowStock(ctx context.Context, warehouseType string) ([]LowStockItem, error)
}

// OpeningStockPoster posts the initial quantity of a freshly created item.
type OpeningStockPoster interface {
	PostOpeningStock(ctx context.Context, itemID, locationID int64, quantity, unitPrice decimal.Decimal, actorID int64) error
}

// ActivityPort abstracts activity logging.
type ActivityPort interface {
	Record(ctx context.Context, log shared.ActivityLog) error
}

const codeAttempts = 3

// Service manages categories, locations and items.
type Service struct {
	repo       RepositoryPort
	warehouses shared.WarehouseTypes
	opening    OpeningStockPoster
	activity   ActivityPort
	logger     *slog.Logger
}

// NewService builds Service. opening and activity may be nil.
func NewService(repo RepositoryPort, warehouses shared.WarehouseTypes, opening OpeningStockPoster, activity ActivityPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, warehouses: warehouses, opening: opening, activity: activity, logger: logger}
}

// CreateCategory registers a category under a warehouse type.
func (s *Service) CreateCategory(ctx context.Context, input CategoryInput) (Category, error) {
	wt, err := s.warehouses.Normalize(input.WarehouseType)
	if err != nil {
		return Category{}, err
	}
	code, err := normalizeCategoryCode(input.Code)
	if err != nil {
		return Category{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: category name is required", shared.ErrValidation)
	}
	created, err := s.repo.CreateCategory(ctx, Category{WarehouseType: wt, Code: code, Name: name})
	if err != nil {
		return Category{}, err
	}
	s.record(ctx, input.ActorID, "catalog:category.create", "category", created.ID, map[string]any{"code": code})
	return created, nil
}

// GetCategory returns a category.
func (s *Service) GetCategory(ctx context.Context, id int64) (Category, error) {
	return s.repo.GetCategory(ctx, id)
}

// ListCategories lists active categories.
func (s *Service) ListCategories(ctx context.Context, warehouseType string) ([]Category, error) {
	wt, err := s.optionalWarehouse(warehouseType)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx, wt)
}

// CreateLocation registers a storage location. Codes are unique system-wide.
func (s *Service) CreateLocation(ctx context.Context, input LocationInput) (Location, error) {
	wt, err := s.warehouses.Normalize(input.WarehouseType)
	if err != nil {
		return Location{}, err
	}
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return Location{}, fmt.Errorf("%w: location code and name are required", shared.ErrValidation)
	}
	created, err := s.repo.CreateLocation(ctx, Location{WarehouseType: wt, Code: code, Name: name, Description: strings.TrimSpace(input.Description)})
	if err != nil {
		return Location{}, err
	}
	s.record(ctx, input.ActorID, "catalog:location.create", "location", created.ID, map[string]any{"code": code})
	return created, nil
}

// GetLocation returns a location.
func (s *Service) GetLocation(ctx context.Context, id int64) (Location, error) {
	return s.repo.GetLocation(ctx, id)
}

// ListLocations lists active locations.
func (s *Service) ListLocations(ctx context.Context, warehouseType string) ([]Location, error) {
	wt, err := s.optionalWarehouse(warehouseType)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLocations(ctx, wt)
}

// SoftDeleteLocation flags a location inactive. Repeated calls succeed.
func (s *Service) SoftDeleteLocation(ctx context.Context, id, actorID int64) error {
	if _, err := s.repo.GetLocation(ctx, id); err != nil {
		return err
	}
	changed, err := s.repo.DeactivateLocation(ctx, id)
	if err != nil {
		return err
	}
	if changed {
		s.record(ctx, actorID, "catalog:location.delete", "location", id, nil)
	}
	return nil
}

// CreateItem registers an item, generating its code from the category prefix. A positive
// initial quantity is posted as opening stock; if that fails the item is soft-deleted again.
func (s *Service) CreateItem(ctx context.Context, input ItemInput) (Item, error) {
	if err := validateAmounts(input.UnitPrice, input.MinQuantity); err != nil {
		return Item{}, err
	}
	if input.InitialQuantity.IsNegative() {
		return Item{}, fmt.Errorf("%w: initial quantity must be >= 0", shared.ErrInvalidQuantity)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Item{}, fmt.Errorf("%w: item name is required", shared.ErrValidation)
	}
	category, err := s.activeCategory(ctx, input.CategoryID)
	if err != nil {
		return Item{}, err
	}
	if _, err := s.activeLocation(ctx, input.LocationID, category.WarehouseType); err != nil {
		return Item{}, err
	}
	barcode := strings.TrimSpace(input.Barcode)
	if err := s.ensureBarcodeFree(ctx, barcode, 0); err != nil {
		return Item{}, err
	}
	unit := strings.TrimSpace(input.Unit)
	if unit == "" {
		unit = "pcs"
	}
	candidate := Item{
		WarehouseType: category.WarehouseType,
		Barcode:       barcode,
		Name:          name,
		CategoryID:    category.ID,
		LocationID:    input.LocationID,
		Unit:          unit,
		UnitPrice:     input.UnitPrice,
		MinQuantity:   input.MinQuantity,
	}

	var created Item
	for attempt := 1; ; attempt++ {
		codes, err := s.repo.ItemCodes(ctx, category.WarehouseType, category.Code)
		if err != nil {
			return Item{}, err
		}
		candidate.Code = NextItemCode(category.Code, codes)
		created, err = s.repo.CreateItem(ctx, candidate)
		if err == nil {
			break
		}
		if !errors.Is(err, shared.ErrDuplicateCode) || attempt >= codeAttempts {
			return Item{}, err
		}
		s.logger.Warn("item code collision, retrying", slog.String("code", candidate.Code), slog.Int("attempt", attempt))
	}

	if input.InitialQuantity.IsPositive() {
		if err := s.postOpening(ctx, created, input); err != nil {
			if _, delErr := s.repo.DeactivateItem(context.WithoutCancel(ctx), created.ID); delErr != nil {
				s.logger.Error("deactivate item after failed opening stock", slog.Int64("item_id", created.ID), slog.Any("error", delErr))
			}
			return Item{}, err
		}
	}
	s.record(ctx, input.ActorID, "catalog:item.create", "item", created.ID, map[string]any{
		"code":             created.Code,
		"initial_quantity": input.InitialQuantity.String(),
	})
	return created, nil
}

func (s *Service) postOpening(ctx context.Context, it Item, input ItemInput) error {
	if s.opening == nil {
		return fmt.Errorf("%w: opening stock is not supported", shared.ErrValidation)
	}
	if err := s.opening.PostOpeningStock(ctx, it.ID, it.LocationID, input.InitialQuantity, input.UnitPrice, input.ActorID); err != nil {
		return fmt.Errorf("catalog: opening stock for %s: %w", it.Code, err)
	}
	return nil
}

// UpdateItem applies a patch. The item code is never regenerated.
func (s *Service) UpdateItem(ctx context.Context, id int64, patch ItemPatch) (Item, error) {
	it, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if !it.Active {
		return Item{}, fmt.Errorf("catalog: item %d is inactive: %w", id, shared.ErrNotFound)
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Item{}, fmt.Errorf("%w: item name is required", shared.ErrValidation)
		}
		it.Name = name
	}
	if patch.Unit != nil && strings.TrimSpace(*patch.Unit) != "" {
		it.Unit = strings.TrimSpace(*patch.Unit)
	}
	if patch.UnitPrice != nil {
		it.UnitPrice = *patch.UnitPrice
	}
	if patch.MinQuantity != nil {
		it.MinQuantity = *patch.MinQuantity
	}
	if err := validateAmounts(it.UnitPrice, it.MinQuantity); err != nil {
		return Item{}, err
	}
	if patch.LocationID != nil && *patch.LocationID != it.LocationID {
		if _, err := s.activeLocation(ctx, *patch.LocationID, it.WarehouseType); err != nil {
			return Item{}, err
		}
		it.LocationID = *patch.LocationID
	}
	if patch.Barcode != nil {
		barcode := strings.TrimSpace(*patch.Barcode)
		if barcode != it.Barcode {
			if err := s.ensureBarcodeFree(ctx, barcode, it.ID); err != nil {
				return Item{}, err
			}
		}
		it.Barcode = barcode
	}
	updated, err := s.repo.UpdateItem(ctx, it)
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, patch.ActorID, "catalog:item.update", "item", id, nil)
	return updated, nil
}

// SoftDeleteItem flags an item inactive. History is kept and repeated calls succeed.
func (s *Service) SoftDeleteItem(ctx context.Context, id, actorID int64) error {
	if _, err := s.repo.GetItem(ctx, id); err != nil {
		return err
	}
	changed, err := s.repo.DeactivateItem(ctx, id)
	if err != nil {
		return err
	}
	if changed {
		s.record(ctx, actorID, "catalog:item.delete", "item", id, nil)
	}
	return nil
}

// GetItem returns an item, active or not.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// GetItemByCode looks an item up by its warehouse-scoped code.
func (s *Service) GetItemByCode(ctx context.Context, warehouseType, code string) (Item, error) {
	wt, err := s.warehouses.Normalize(warehouseType)
	if err != nil {
		return Item{}, err
	}
	return s.repo.GetItemByCode(ctx, wt, strings.ToUpper(strings.TrimSpace(code)))
}

// GetItemByBarcode looks an active item up by barcode.
func (s *Service) GetItemByBarcode(ctx context.Context, barcode string) (Item, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return Item{}, fmt.Errorf("%w: barcode is required", shared.ErrValidation)
	}
	return s.repo.GetItemByBarcode(ctx, barcode)
}

// SearchItems matches active items whose name or code contains query, ignoring case.
func (s *Service) SearchItems(ctx context.Context, warehouseType, query string) ([]Item, error) {
	return s.ListItems(ctx, ItemFilter{WarehouseType: warehouseType, Query: query})
}

// ListItems lists items. Limit defaults to 100 and is capped at 500.
func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	wt, err := s.optionalWarehouse(filter.WarehouseType)
	if err != nil {
		return nil, err
	}
	filter.WarehouseType = wt
	filter.Query = foldQuery(filter.Query)
	page := shared.NewPagination(filter.Limit, filter.Offset, 100, 500)
	filter.Limit, filter.Offset = page.Limit, page.Offset
	return s.repo.ListItems(ctx, filter)
}

// LowStock lists active items below their minimum quantity. Empty warehouseType covers all.
func (s *Service) LowStock(ctx context.Context, warehouseType string) ([]LowStockItem, error) {
	wt, err := s.optionalWarehouse(warehouseType)
	if err != nil {
		return nil, err
	}
	return s.repo.LowStock(ctx, wt)
}

// WarehouseTypes returns the configured warehouse type codes.
func (s *Service) WarehouseTypes() shared.WarehouseTypes {
	return s.warehouses
}

func foldQuery(q string) string {
	return cases.Fold().String(strings.TrimSpace(q))
}

func (s *Service) optionalWarehouse(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", nil
	}
	return s.warehouses.Normalize(code)
}

func (s *Service) activeCategory(ctx context.Context, id int64) (Category, error) {
	c, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return Category{}, err
	}
	if !c.Active {
		return Category{}, fmt.Errorf("catalog: category %d is inactive: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

func (s *Service) activeLocation(ctx context.Context, id int64, warehouseType string) (Location, error) {
	l, err := s.repo.GetLocation(ctx, id)
	if err != nil {
		return Location{}, err
	}
	if !l.Active {
		return Location{}, fmt.Errorf("catalog: location %d is inactive: %w", id, shared.ErrNotFound)
	}
	if l.WarehouseType != warehouseType {
		return Location{}, fmt.Errorf("%w: location %s belongs to warehouse %s", shared.ErrValidation, l.Code, l.WarehouseType)
	}
	return l, nil
}

func (s *Service) ensureBarcodeFree(ctx context.Context, barcode string, excludeID int64) error {
	if barcode == "" {
		return nil
	}
	taken, err := s.repo.BarcodeInUse(ctx, barcode, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("catalog: barcode %s: %w", barcode, shared.ErrDuplicateBarcode)
	}
	return nil
}

func validateAmounts(price, minQty decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: unit price must be >= 0", shared.ErrInvalidPrice)
	}
	if minQty.IsNegative() {
		return fmt.Errorf("%w: min quantity must be >= 0", shared.ErrInvalidQuantity)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, shared.ActivityLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("record catalog activity", slog.String("action", action), slog.Any("error", err))
	}
}
