package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists catalog master data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const categoryColumns = `id, warehouse_type, code, name, active, created_at`

const locationColumns = `id, warehouse_type, code, name, description, active, created_at`

const itemColumns = `id, warehouse_type, code, COALESCE(barcode, ''), name, category_id, location_id, unit, unit_price, min_quantity, active, created_at, updated_at`

func scanCategory(row pgx.Row) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.WarehouseType, &c.Code, &c.Name, &c.Active, &c.CreatedAt)
	return c, err
}

func scanLocation(row pgx.Row) (Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.WarehouseType, &l.Code, &l.Name, &l.Description, &l.Active, &l.CreatedAt)
	return l, err
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.WarehouseType, &it.Code, &it.Barcode, &it.Name, &it.CategoryID, &it.LocationID,
		&it.Unit, &it.UnitPrice, &it.MinQuantity, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func notFound(entity string, key any, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("catalog: %s %v: %w", entity, key, shared.ErrNotFound)
	}
	return fmt.Errorf("catalog: %s %v: %w", entity, key, err)
}

func nullableBarcode(barcode string) *string {
	if barcode == "" {
		return nil
	}
	return &barcode
}

// CreateCategory inserts a category.
func (r *Repository) CreateCategory(ctx context.Context, c Category) (Category, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO categories (warehouse_type, code, name) VALUES ($1, $2, $3) RETURNING `+categoryColumns,
		c.WarehouseType, c.Code, c.Name)
	created, err := scanCategory(row)
	if db.IsUniqueViolation(err, "categories_warehouse_code_key") {
		return Category{}, fmt.Errorf("catalog: category %s/%s: %w", c.WarehouseType, c.Code, shared.ErrDuplicateCode)
	}
	if err != nil {
		return Category{}, fmt.Errorf("catalog: insert category: %w", err)
	}
	return created, nil
}

// GetCategory loads a category by id.
func (r *Repository) GetCategory(ctx context.Context, id int64) (Category, error) {
	c, err := scanCategory(r.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	if err != nil {
		return Category{}, notFound("category", id, err)
	}
	return c, nil
}

// ListCategories lists active categories of a warehouse type; empty means all.
func (r *Repository) ListCategories(ctx context.Context, warehouseType string) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+categoryColumns+` FROM categories WHERE active AND ($1 = '' OR warehouse_type = $1) ORDER BY warehouse_type, code`, warehouseType)
	if err != nil {
		return nil, fmt.Errorf("catalog: list categories: %w", err)
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateLocation inserts a location.
func (r *Repository) CreateLocation(ctx context.Context, l Location) (Location, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO locations (warehouse_type, code, name, description) VALUES ($1, $2, $3, $4) RETURNING `+locationColumns,
		l.WarehouseType, l.Code, l.Name, l.Description)
	created, err := scanLocation(row)
	if db.IsUniqueViolation(err, "locations_code_key") {
		return Location{}, fmt.Errorf("catalog: location %s: %w", l.Code, shared.ErrDuplicateCode)
	}
	if err != nil {
		return Location{}, fmt.Errorf("catalog: insert location: %w", err)
	}
	return created, nil
}

// GetLocation loads a location by id.
func (r *Repository) GetLocation(ctx context.Context, id int64) (Location, error) {
	l, err := scanLocation(r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id))
	if err != nil {
		return Location{}, notFound("location", id, err)
	}
	return l, nil
}

// ListLocations lists active locations of a warehouse type; empty means all.
func (r *Repository) ListLocations(ctx context.Context, warehouseType string) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+locationColumns+` FROM locations WHERE active AND ($1 = '' OR warehouse_type = $1) ORDER BY code`, warehouseType)
	if err != nil {
		return nil, fmt.Errorf("catalog: list locations: %w", err)
	}
	defer rows.Close()
	var out []Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeactivateLocation flags a location inactive and reports whether the row changed.
func (r *Repository) DeactivateLocation(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE locations SET active = FALSE WHERE id = $1 AND active`, id)
	if err != nil {
		return false, fmt.Errorf("catalog: deactivate location: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ItemCodes returns every item code in warehouseType starting with prefix-, active or not.
func (r *Repository) ItemCodes(ctx context.Context, warehouseType, prefix string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM items WHERE warehouse_type = $1 AND code LIKE $2`, warehouseType, prefix+"-%")
	if err != nil {
		return nil, fmt.Errorf("catalog: item codes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CreateItem inserts an item.
func (r *Repository) CreateItem(ctx context.Context, it Item) (Item, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO items (warehouse_type, code, barcode, name, category_id, location_id, unit, unit_price, min_quantity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING `+itemColumns,
		it.WarehouseType, it.Code, nullableBarcode(it.Barcode), it.Name, it.CategoryID, it.LocationID, it.Unit, it.UnitPrice, it.MinQuantity)
	created, err := scanItem(row)
	if err != nil {
		return Item{}, mapItemWriteError(it, err)
	}
	return created, nil
}

// UpdateItem writes the mutable attributes of an item.
func (r *Repository) UpdateItem(ctx context.Context, it Item) (Item, error) {
	row := r.pool.QueryRow(ctx, `UPDATE items SET barcode = $2, name = $3, location_id = $4, unit = $5, unit_price = $6, min_quantity = $7, updated_at = $8
WHERE id = $1 RETURNING `+itemColumns,
		it.ID, nullableBarcode(it.Barcode), it.Name, it.LocationID, it.Unit, it.UnitPrice, it.MinQuantity, time.Now().UTC())
	updated, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, notFound("item", it.ID, err)
	}
	if err != nil {
		return Item{}, mapItemWriteError(it, err)
	}
	return updated, nil
}

func mapItemWriteError(it Item, err error) error {
	switch {
	case db.IsUniqueViolation(err, "items_active_barcode_key"):
		return fmt.Errorf("catalog: barcode %s: %w", it.Barcode, shared.ErrDuplicateBarcode)
	case db.IsUniqueViolation(err, "items_warehouse_code_key"):
		return fmt.Errorf("catalog: item code %s: %w", it.Code, shared.ErrDuplicateCode)
	default:
		return fmt.Errorf("catalog: write item: %w", err)
	}
}

// DeactivateItem flags an item inactive and reports whether the row changed.
func (r *Repository) DeactivateItem(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE items SET active = FALSE, updated_at = NOW() WHERE id = $1 AND active`, id)
	if err != nil {
		return false, fmt.Errorf("catalog: deactivate item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetItem loads an item by id, active or not.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return Item{}, notFound("item", id, err)
	}
	return it, nil
}

// GetItemByCode loads an item by warehouse type and code.
func (r *Repository) GetItemByCode(ctx context.Context, warehouseType, code string) (Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE warehouse_type = $1 AND code = $2`, warehouseType, code))
	if err != nil {
		return Item{}, notFound("item", code, err)
	}
	return it, nil
}

// GetItemByBarcode loads the active item holding barcode.
func (r *Repository) GetItemByBarcode(ctx context.Context, barcode string) (Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE barcode = $1 AND active`, barcode))
	if err != nil {
		return Item{}, notFound("item barcode", barcode, err)
	}
	return it, nil
}

// BarcodeInUse reports whether an active item other than excludeID holds barcode.
func (r *Repository) BarcodeInUse(ctx context.Context, barcode string, excludeID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE barcode = $1 AND active AND id <> $2)`, barcode, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("catalog: barcode lookup: %w", err)
	}
	return exists, nil
}

// ListItems lists items matching filter ordered by code.
func (r *Repository) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		query += strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args)))
	}
	if !filter.IncludeInactive {
		query += ` AND active`
	}
	if filter.WarehouseType != "" {
		add(` AND warehouse_type = ?`, filter.WarehouseType)
	}
	if filter.CategoryID > 0 {
		add(` AND category_id = ?`, filter.CategoryID)
	}
	if filter.LocationID > 0 {
		add(` AND location_id = ?`, filter.LocationID)
	}
	if filter.Query != "" {
		add(` AND (LOWER(name) LIKE ? OR LOWER(code) LIKE ?)`, "%"+filter.Query+"%")
	}
	query += ` ORDER BY warehouse_type, code`
	add(` LIMIT ?`, filter.Limit)
	add(` OFFSET ?`, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list items: %w", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// LowStock lists active items whose summed stock is below a positive min_quantity.
func (r *Repository) LowStock(ctx context.Context, warehouseType string) ([]LowStockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.warehouse_type, i.code, i.name, i.min_quantity, COALESCE(SUM(s.quantity), 0) AS total
FROM items i
LEFT JOIN stock s ON s.item_id = i.id
WHERE i.active AND i.min_quantity > 0 AND ($1 = '' OR i.warehouse_type = $1)
GROUP BY i.id
HAVING COALESCE(SUM(s.quantity), 0) < i.min_quantity
ORDER BY i.warehouse_type, i.code`, warehouseType)
	if err != nil {
		return nil, fmt.Errorf("catalog: low stock: %w", err)
	}
	defer rows.Close()
	var out []LowStockItem
	for rows.Next() {
		var ls LowStockItem
		if err := rows.Scan(&ls.ItemID, &ls.WarehouseType, &ls.Code, &ls.Name, &ls.MinQuantity, &ls.Total); err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}
