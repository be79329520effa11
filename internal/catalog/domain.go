package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups items within a warehouse type. Code is the item code prefix.
type Category struct {
	ID            int64     `json:"id"`
	WarehouseType string    `json:"warehouse_type"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Location is a physical storage point.
type Location struct {
	ID            int64     `json:"id"`
	WarehouseType string    `json:"warehouse_type"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Item is a stocked good. Items are never physically removed.
type Item struct {
	ID            int64           `json:"id"`
	WarehouseType string          `json:"warehouse_type"`
	Code          string          `json:"code"`
	Barcode       string          `json:"barcode,omitempty"`
	Name          string          `json:"name"`
	CategoryID    int64           `json:"category_id"`
	LocationID    int64           `json:"location_id"`
	Unit          string          `json:"unit"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	MinQuantity   decimal.Decimal `json:"min_quantity"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LowStockItem reports an active item whose total stock dropped below its threshold.
type LowStockItem struct {
	ItemID        int64           `json:"item_id"`
	WarehouseType string          `json:"warehouse_type"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	MinQuantity   decimal.Decimal `json:"min_quantity"`
	Total         decimal.Decimal `json:"total"`
}

// CategoryInput creates a category.
type CategoryInput struct {
	WarehouseType string
	Code          string
	Name          string
	ActorID       int64
}

// LocationInput creates a location.
type LocationInput struct {
	WarehouseType string
	Code          string
	Name          string
	Description   string
	ActorID       int64
}

// ItemInput creates an item. InitialQuantity > 0 posts opening stock through the engine.
type ItemInput struct {
	CategoryID      int64
	LocationID      int64
	Name            string
	Barcode         string
	Unit            string
	UnitPrice       decimal.Decimal
	MinQuantity     decimal.Decimal
	InitialQuantity decimal.Decimal
	ActorID         int64
}

// ItemPatch updates mutable item attributes. Nil fields are left unchanged.
type ItemPatch struct {
	Name        *string
	Barcode     *string
	Unit        *string
	UnitPrice   *decimal.Decimal
	MinQuantity *decimal.Decimal
	LocationID  *int64
	ActorID     int64
}

// ItemFilter narrows item listings. Query matches name or code, case-folded.
type ItemFilter struct {
	WarehouseType   string
	CategoryID      int64
	LocationID      int64
	Query           string
	IncludeInactive bool
	Limit           int
	Offset          int
}
