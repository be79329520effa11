// Package audit runs physical stock counts and reconciles the ledger with them through
// ADJUSTMENT transactions.
package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Scope selects which items an audit may count.
type Scope string

const (
	ScopeFull       Scope = "FULL"
	ScopeCategory   Scope = "CATEGORY"
	ScopeLocation   Scope = "LOCATION"
	ScopeSingleItem Scope = "SINGLE_ITEM"
)

// ParseScope normalises a scope name.
func ParseScope(v string) (Scope, error) {
	switch s := Scope(strings.ToUpper(strings.TrimSpace(v))); s {
	case ScopeFull, ScopeCategory, ScopeLocation, ScopeSingleItem:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", shared.ErrInvalidAuditScope, v)
	}
}

// Status is the audit lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further counting is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Audit is a reconciliation session.
type Audit struct {
	ID                   int64           `json:"id"`
	WarehouseType        string          `json:"warehouse_type"`
	Scope                Scope           `json:"scope"`
	TargetID             int64           `json:"target_id,omitempty"`
	Status               Status          `json:"status"`
	ItemsCounted         int             `json:"items_counted"`
	Matched              int             `json:"matched"`
	Discrepant           int             `json:"discrepant"`
	TotalShortage        decimal.Decimal `json:"total_shortage"`
	TotalSurplus         decimal.Decimal `json:"total_surplus"`
	Notes                string          `json:"notes,omitempty"`
	CreatedBy            int64           `json:"created_by"`
	CreatedAt            time.Time       `json:"created_at"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	CancelledAt          *time.Time      `json:"cancelled_at,omitempty"`
	AdjustmentsAppliedAt *time.Time      `json:"adjustments_applied_at,omitempty"`
}

// Item is one counted line of an audit. AdjustmentTransactionID is zero until the line's
// difference has been posted.
type Item struct {
	ID                      int64           `json:"id"`
	AuditID                 int64           `json:"audit_id"`
	ItemID                  int64           `json:"item_id"`
	LocationID              int64           `json:"location_id"`
	CategoryID              int64           `json:"category_id"`
	SystemQuantity          decimal.Decimal `json:"system_quantity"`
	ActualQuantity          decimal.Decimal `json:"actual_quantity"`
	Difference              decimal.Decimal `json:"difference"`
	Notes                   string          `json:"notes,omitempty"`
	CountedBy               int64           `json:"counted_by"`
	CountedAt               time.Time       `json:"counted_at"`
	AdjustmentTransactionID int64           `json:"adjustment_transaction_id,omitempty"`
}

// Summary carries the counters frozen at completion.
type Summary struct {
	AuditID       int64           `json:"audit_id"`
	ItemsCounted  int             `json:"items_counted"`
	Matched       int             `json:"matched"`
	Discrepant    int             `json:"discrepant"`
	TotalShortage decimal.Decimal `json:"total_shortage"`
	TotalSurplus  decimal.Decimal `json:"total_surplus"`
}

func summarize(auditID int64, lines []Item) Summary {
	sum := Summary{AuditID: auditID, ItemsCounted: len(lines), TotalShortage: decimal.Zero, TotalSurplus: decimal.Zero}
	for _, l := range lines {
		switch l.Difference.Sign() {
		case 0:
			sum.Matched++
		case -1:
			sum.Discrepant++
			sum.TotalShortage = sum.TotalShortage.Add(l.Difference.Abs())
		default:
			sum.Discrepant++
			sum.TotalSurplus = sum.TotalSurplus.Add(l.Difference)
		}
	}
	return sum
}

func (a *Audit) apply(sum Summary) {
	a.ItemsCounted = sum.ItemsCounted
	a.Matched = sum.Matched
	a.Discrepant = sum.Discrepant
	a.TotalShortage = sum.TotalShortage
	a.TotalSurplus = sum.TotalSurplus
}

// Summary returns the audit's current counters.
func (a Audit) Summary() Summary {
	return Summary{
		AuditID:       a.ID,
		ItemsCounted:  a.ItemsCounted,
		Matched:       a.Matched,
		Discrepant:    a.Discrepant,
		TotalShortage: a.TotalShortage,
		TotalSurplus:  a.TotalSurplus,
	}
}

// CreateInput opens an audit. TargetID is required for every scope except FULL.
type CreateInput struct {
	WarehouseType string
	Scope         Scope
	TargetID      int64
	Notes         string
	ActorID       int64
}

// AddItemInput records one count. A nil SystemQuantity is read from the ledger; a zero
// LocationID means the item's recorded location.
type AddItemInput struct {
	AuditID        int64
	ItemID         int64
	LocationID     int64
	SystemQuantity *decimal.Decimal
	ActualQuantity decimal.Decimal
	Notes          string
	ActorID        int64
}

// Filter narrows audit listings.
type Filter struct {
	WarehouseType string
	Status        Status
	Limit         int
	Offset        int
}

// AppliedLine reports one adjustment posted for an audit line.
type AppliedLine struct {
	AuditItemID   int64           `json:"audit_item_id"`
	ItemID        int64           `json:"item_id"`
	LocationID    int64           `json:"location_id"`
	Delta         decimal.Decimal `json:"delta"`
	TransactionID int64           `json:"transaction_id"`
	Number        string          `json:"number"`
}

// PartialApplyError stops ApplyAdjustments at the first failing line.
type PartialApplyError struct {
	AuditID           int64
	Applied           []AppliedLine
	FailedItemID      int64
	FailedAuditItemID int64
	Err               error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("audit %d: adjustment for line %d (item %d) failed after %d applied: %v",
		e.AuditID, e.FailedAuditItemID, e.FailedItemID, len(e.Applied), e.Err)
}

func (e *PartialApplyError) Unwrap() error { return e.Err }

// ProblemFields exposes the applied lines and the failing one.
func (e *PartialApplyError) ProblemFields() map[string]any {
	applied := e.Applied
	if applied == nil {
		applied = []AppliedLine{}
	}
	return map[string]any{
		"audit_id":             e.AuditID,
		"applied":              applied,
		"failed_item_id":       e.FailedItemID,
		"failed_audit_item_id": e.FailedAuditItemID,
	}
}

// ErrAuditLocked is returned while another worker applies the same audit.
var ErrAuditLocked = fmt.Errorf("audit: adjustments already being applied: %w", shared.ErrRetryable)
