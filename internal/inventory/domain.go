package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TransactionTypePurchase increases stock from a supplier.
	TransactionTypePurchase TransactionType = "PURCHASE"
	// TransactionTypeIssue decreases stock towards a recipient.
	TransactionTypeIssue TransactionType = "ISSUE"
	// TransactionTypeTransfer moves stock between two locations.
	TransactionTypeTransfer TransactionType = "TRANSFER"
	// TransactionTypeReturn puts previously issued stock back.
	TransactionTypeReturn TransactionType = "RETURN"
	// TransactionTypeAdjustment reconciles stock with a physical count.
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	_, ok := typeCodes[t]
	return ok
}

// LocationModel selects how items relate to locations.
type LocationModel string

const (
	// LocationModelMulti lets an item hold stock at any number of locations.
	LocationModelMulti LocationModel = "multi"
	// LocationModelSingle keeps all stock of an item at its recorded location.
	LocationModelSingle LocationModel = "single"
)

// ReturnPolicy selects how returns are validated against their originating issue.
type ReturnPolicy string

const (
	// ReturnPolicyLenient accepts any positive return quantity.
	ReturnPolicyLenient ReturnPolicy = "lenient"
	// ReturnPolicyStrict requires the originating issue and rejects over-returns.
	ReturnPolicyStrict ReturnPolicy = "strict"
)

// EngineConfig is injected into the engine at construction.
type EngineConfig struct {
	LocationModel LocationModel
	ReturnPolicy  ReturnPolicy
	TxTimeout     time.Duration
	Clock         func() time.Time
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.LocationModel == "" {
		c.LocationModel = LocationModelMulti
	}
	if c.ReturnPolicy == "" {
		c.ReturnPolicy = ReturnPolicyLenient
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// ParseLocationModel validates a configured location model.
func ParseLocationModel(v string) (LocationModel, error) {
	switch m := LocationModel(strings.ToLower(strings.TrimSpace(v))); m {
	case "", LocationModelMulti:
		return LocationModelMulti, nil
	case LocationModelSingle:
		return m, nil
	default:
		return "", fmt.Errorf("inventory: unknown location model %q", v)
	}
}

// ParseReturnPolicy validates a configured return policy.
func ParseReturnPolicy(v string) (ReturnPolicy, error) {
	switch p := ReturnPolicy(strings.ToLower(strings.TrimSpace(v))); p {
	case "", ReturnPolicyLenient:
		return ReturnPolicyLenient, nil
	case ReturnPolicyStrict:
		return p, nil
	default:
		return "", fmt.Errorf("inventory: unknown return policy %q", v)
	}
}

// RecipientKind classifies who received issued stock.
type RecipientKind string

// Recipient kinds.
const (
	RecipientEmployee  RecipientKind = "employee"
	RecipientEquipment RecipientKind = "equipment"
	RecipientProject   RecipientKind = "project"
)

// Recipient identifies the receiver of an issue.
type Recipient struct {
	Kind RecipientKind `json:"kind"`
	ID   int64         `json:"id,omitempty"`
	Name string        `json:"name,omitempty"`
}

func (r Recipient) validate() error {
	switch r.Kind {
	case RecipientEmployee, RecipientEquipment, RecipientProject:
	default:
		return fmt.Errorf("%w: unknown recipient kind %q", shared.ErrValidation, r.Kind)
	}
	if r.ID <= 0 && strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: recipient needs an id or a name", shared.ErrValidation)
	}
	return nil
}

// Detail carries the type-specific part of a transaction. It is implemented by the *Detail
// structs of this package only.
type Detail interface {
	Type() TransactionType
	isDetail()
}

// PurchaseDetail describes a purchase.
type PurchaseDetail struct {
	LocationID    int64           `json:"location_id"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Supplier      string          `json:"supplier,omitempty"`
}

// IssueDetail describes an issue.
type IssueDetail struct {
	LocationID int64      `json:"location_id"`
	Recipient  *Recipient `json:"recipient,omitempty"`
}

// TransferDetail describes a transfer.
type TransferDetail struct {
	FromLocationID int64 `json:"from_location_id"`
	ToLocationID   int64 `json:"to_location_id"`
}

// ReturnDetail describes a return.
type ReturnDetail struct {
	LocationID    int64 `json:"location_id"`
	SourceIssueID int64 `json:"source_issue_id,omitempty"`
}

// AdjustmentDetail describes an audit adjustment.
type AdjustmentDetail struct {
	LocationID  int64 `json:"location_id"`
	AuditID     int64 `json:"audit_id"`
	AuditItemID int64 `json:"audit_item_id"`
}

func (PurchaseDetail) Type() TransactionType   { return TransactionTypePurchase }
func (IssueDetail) Type() TransactionType      { return TransactionTypeIssue }
func (TransferDetail) Type() TransactionType   { return TransactionTypeTransfer }
func (ReturnDetail) Type() TransactionType     { return TransactionTypeReturn }
func (AdjustmentDetail) Type() TransactionType { return TransactionTypeAdjustment }

func (PurchaseDetail) isDetail()   {}
func (IssueDetail) isDetail()      {}
func (TransferDetail) isDetail()   {}
func (ReturnDetail) isDetail()     {}
func (AdjustmentDetail) isDetail() {}

// DetailLocation returns the location a non-transfer detail touched, or the source location
// of a transfer.
func DetailLocation(d Detail) int64 {
	switch v := d.(type) {
	case PurchaseDetail:
		return v.LocationID
	case IssueDetail:
		return v.LocationID
	case TransferDetail:
		return v.FromLocationID
	case ReturnDetail:
		return v.LocationID
	case AdjustmentDetail:
		return v.LocationID
	default:
		return 0
	}
}

// Transaction is an immutable ledger entry. Quantity is the signed stock delta, except for
// transfers where it is the positive amount moved. BalanceAfter refers to the location the
// entry touched (the source for transfers).
type Transaction struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	WarehouseType  string          `json:"warehouse_type"`
	Type           TransactionType `json:"type"`
	Period         string          `json:"period"`
	Sequence       int             `json:"sequence"`
	ItemID         int64           `json:"item_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Detail         Detail          `json:"detail"`
	Reason         string          `json:"reason,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	ActorID        int64           `json:"actor_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Fingerprint    string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Stock is the quantity of one item at one location.
type Stock struct {
	ItemID     int64           `json:"item_id"`
	LocationID int64           `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ItemRef is the engine's view of a catalog item.
type ItemRef struct {
	ID            int64
	WarehouseType string
	LocationID    int64
	Active        bool
}

// LocationRef is the engine's view of a catalog location.
type LocationRef struct {
	ID            int64
	WarehouseType string
	Active        bool
}

// PurchaseInput requests a purchase. LocationID zero means the item's default location.
type PurchaseInput struct {
	ItemID         int64
	LocationID     int64
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	InvoiceNumber  string
	Supplier       string
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// IssueInput requests an issue. LocationID zero means the item's default location.
type IssueInput struct {
	ItemID         int64
	LocationID     int64
	Quantity       decimal.Decimal
	Recipient      *Recipient
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// TransferInput requests a transfer between two locations.
type TransferInput struct {
	ItemID         int64
	FromLocationID int64
	ToLocationID   int64
	Quantity       decimal.Decimal
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// ReturnInput requests a return. SourceIssueID zero means no originating issue.
type ReturnInput struct {
	ItemID         int64
	LocationID     int64
	Quantity       decimal.Decimal
	Reason         string
	SourceIssueID  int64
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// AdjustmentInput requests a reconciliation write with a signed, non-zero delta. When Expected is
// set, the delta was computed against that quantity and the write fails with *StaleCountError
// unless the locked stock still equals it.
type AdjustmentInput struct {
	ItemID         int64
	LocationID     int64
	Delta          decimal.Decimal
	Expected       *decimal.Decimal
	AuditID        int64
	AuditItemID    int64
	Reason         string
	ActorID        int64
	IdempotencyKey string
}

// TransactionFilter narrows ledger listings. Zero values are ignored.
type TransactionFilter struct {
	WarehouseType string
	Type          TransactionType
	ItemID        int64
	LocationID    int64
	ActorID       int64
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

// InsufficientQuantityError reports a decrement larger than the stock at a location.
type InsufficientQuantityError struct {
	ItemID     int64
	LocationID int64
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("inventory: insufficient quantity for item %d at location %d: available %s, requested %s",
		e.ItemID, e.LocationID, e.Available.String(), e.Requested.String())
}

// Is makes the error match shared.ErrInsufficientQuantity.
func (e *InsufficientQuantityError) Is(target error) bool {
	return target == shared.ErrInsufficientQuantity
}

// ProblemFields exposes diagnostics for HTTP problem responses.
func (e *InsufficientQuantityError) ProblemFields() map[string]any {
	return map[string]any{
		"item_id":     e.ItemID,
		"location_id": e.LocationID,
		"available":   e.Available.String(),
		"requested":   e.Requested.String(),
	}
}

// StaleCountError reports stock that moved after the audit line was counted.
type StaleCountError struct {
	ItemID     int64
	LocationID int64
	Counted    decimal.Decimal
	Current    decimal.Decimal
}

func (e *StaleCountError) Error() string {
	return fmt.Sprintf("inventory: stock of item %d at location %d is %s, counted against %s",
		e.ItemID, e.LocationID, e.Current.String(), e.Counted.String())
}

// Is makes the error match shared.ErrStaleCount.
func (e *StaleCountError) Is(target error) bool {
	return target == shared.ErrStaleCount
}

// ProblemFields exposes diagnostics for HTTP problem responses.
func (e *StaleCountError) ProblemFields() map[string]any {
	return map[string]any{
		"item_id":     e.ItemID,
		"location_id": e.LocationID,
		"counted":     e.Counted.String(),
		"current":     e.Current.String(),
	}
}

// ErrDuplicateIdempotencyKey is returned by repositories when a concurrent request inserted the
// same idempotency key first.
var ErrDuplicateIdempotencyKey = errors.New("inventory: idempotency key already recorded")
