package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts audit persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAudit(ctx context.Context, id int64) (Audit, error)
	ListItems(ctx context.Context, auditID int64) ([]Item, error)
	ListAudits(ctx context.Context, filter Filter) ([]Audit, error)
	SetAdjustmentTransaction(ctx context.Context, auditItemID, transactionID int64) error
	MarkAdjustmentsApplied(ctx context.Context, auditID int64, at time.Time) error
}

// TxRepository exposes the statements that run under the audit row lock.
type TxRepository interface {
	InsertAudit(ctx context.Context, a Audit) (Audit, error)
	LockAudit(ctx context.Context, id int64) (Audit, error)
	UpdateAudit(ctx context.Context, a Audit) error
	UpsertItem(ctx context.Context, it Item) (Item, error)
	ListItems(ctx context.Context, auditID int64) ([]Item, error)
}

// CatalogPort resolves scope targets and counted items.
type CatalogPort interface {
	GetItem(ctx context.Context, id int64) (catalog.Item, error)
	GetCategory(ctx context.Context, id int64) (catalog.Category, error)
	GetLocation(ctx context.Context, id int64) (catalog.Location, error)
}

// LedgerPort reads stock and posts reconciliation adjustments.
type LedgerPort interface {
	GetStock(ctx context.Context, itemID, locationID int64) (decimal.Decimal, error)
	PostAdjustment(ctx context.Context, input inventory.AdjustmentInput) (inventory.Transaction, error)
}

// LockerPort serialises adjustment runs across processes.
type LockerPort interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// ActivityPort abstracts activity logging.
type ActivityPort interface {
	Record(ctx context.Context, log shared.ActivityLog) error
}

// Option customises Service.
type Option func(*Service)

// WithLocker guards ApplyAdjustments with a distributed lock held for at most ttl.
func WithLocker(l LockerPort, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithActivity records audit lifecycle events.
func WithActivity(a ActivityPort) Option { return func(s *Service) { s.activity = a } }

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

// Service drives the audit lifecycle.
type Service struct {
	repo       RepositoryPort
	catalog    CatalogPort
	ledger     LedgerPort
	warehouses shared.WarehouseTypes
	locker     LockerPort
	lockTTL    time.Duration
	activity   ActivityPort
	logger     *slog.Logger
	clock      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, lookup CatalogPort, ledger LedgerPort, warehouses shared.WarehouseTypes, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		catalog:    lookup,
		ledger:     ledger,
		warehouses: warehouses,
		lockTTL:    time.Minute,
		logger:     slog.Default(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAudit opens a PENDING audit after checking its scope target.
func (s *Service) CreateAudit(ctx context.Context, input CreateInput) (Audit, error) {
	if input.ActorID <= 0 {
		return Audit{}, fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	wt, err := s.warehouses.Normalize(input.WarehouseType)
	if err != nil {
		return Audit{}, err
	}
	scope, err := ParseScope(string(input.Scope))
	if err != nil {
		return Audit{}, err
	}
	if err := s.checkTarget(ctx, wt, scope, input.TargetID); err != nil {
		return Audit{}, err
	}
	draft := Audit{
		WarehouseType: wt,
		Scope:         scope,
		TargetID:      input.TargetID,
		Status:        StatusPending,
		TotalShortage: decimal.Zero,
		TotalSurplus:  decimal.Zero,
		Notes:         strings.TrimSpace(input.Notes),
		CreatedBy:     input.ActorID,
		CreatedAt:     s.now(),
	}
	var created Audit
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertAudit(ctx, draft)
		return err
	})
	if err != nil {
		return Audit{}, err
	}
	s.record(ctx, input.ActorID, "audit:create", created.ID, map[string]any{"scope": string(scope), "target_id": input.TargetID})
	return created, nil
}

func (s *Service) checkTarget(ctx context.Context, wt string, scope Scope, targetID int64) error {
	if scope == ScopeFull {
		if targetID != 0 {
			return fmt.Errorf("%w: FULL audits take no target", shared.ErrInvalidAuditScope)
		}
		return nil
	}
	if targetID <= 0 {
		return fmt.Errorf("%w: %s audits need a target", shared.ErrInvalidAuditScope, scope)
	}
	var targetWarehouse string
	switch scope {
	case ScopeCategory:
		c, err := s.catalog.GetCategory(ctx, targetID)
		if err != nil {
			return err
		}
		targetWarehouse = c.WarehouseType
	case ScopeLocation:
		l, err := s.catalog.GetLocation(ctx, targetID)
		if err != nil {
			return err
		}
		targetWarehouse = l.WarehouseType
	case ScopeSingleItem:
		it, err := s.catalog.GetItem(ctx, targetID)
		if err != nil {
			return err
		}
		targetWarehouse = it.WarehouseType
	}
	if targetWarehouse != wt {
		return fmt.Errorf("%w: %s target %d belongs to warehouse %s", shared.ErrInvalidAuditScope, scope, targetID, targetWarehouse)
	}
	return nil
}

// AddItem records (or re-records) the count of one item at one location.
func (s *Service) AddItem(ctx context.Context, input AddItemInput) (Item, error) {
	if input.ActorID <= 0 || input.AuditID <= 0 || input.ItemID <= 0 {
		return Item{}, fmt.Errorf("%w: audit, item and actor required", shared.ErrValidation)
	}
	if input.ActualQuantity.IsNegative() {
		return Item{}, fmt.Errorf("%w: actual quantity must be >= 0", shared.ErrInvalidQuantity)
	}
	if input.SystemQuantity != nil && input.SystemQuantity.IsNegative() {
		return Item{}, fmt.Errorf("%w: system quantity must be >= 0", shared.ErrInvalidQuantity)
	}
	audit, err := s.repo.GetAudit(ctx, input.AuditID)
	if err != nil {
		return Item{}, err
	}
	if audit.Status.Terminal() {
		return Item{}, fmt.Errorf("%w: audit %d is %s", shared.ErrInvalidAuditState, audit.ID, audit.Status)
	}
	item, err := s.catalog.GetItem(ctx, input.ItemID)
	if err != nil {
		return Item{}, err
	}
	locationID := input.LocationID
	if locationID == 0 {
		locationID = item.LocationID
	}
	if _, err := s.catalog.GetLocation(ctx, locationID); err != nil {
		return Item{}, err
	}
	if err := inScope(audit, item, locationID); err != nil {
		return Item{}, err
	}
	system := decimal.Zero
	if input.SystemQuantity != nil {
		system = *input.SystemQuantity
	} else if system, err = s.ledger.GetStock(ctx, item.ID, locationID); err != nil {
		return Item{}, err
	}

	var line Item
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockAudit(ctx, input.AuditID)
		if err != nil {
			return err
		}
		if locked.Status.Terminal() {
			return fmt.Errorf("%w: audit %d is %s", shared.ErrInvalidAuditState, locked.ID, locked.Status)
		}
		now := s.now()
		line, err = tx.UpsertItem(ctx, Item{
			AuditID:        locked.ID,
			ItemID:         item.ID,
			LocationID:     locationID,
			CategoryID:     item.CategoryID,
			SystemQuantity: system,
			ActualQuantity: input.ActualQuantity,
			Difference:     input.ActualQuantity.Sub(system),
			Notes:          strings.TrimSpace(input.Notes),
			CountedBy:      input.ActorID,
			CountedAt:      now,
		})
		if err != nil {
			return err
		}
		lines, err := tx.ListItems(ctx, locked.ID)
		if err != nil {
			return err
		}
		if locked.Status == StatusPending {
			locked.Status = StatusInProgress
			locked.StartedAt = &now
		}
		locked.apply(summarize(locked.ID, lines))
		return tx.UpdateAudit(ctx, locked)
	})
	if err != nil {
		return Item{}, err
	}
	return line, nil
}

func inScope(a Audit, item catalog.Item, locationID int64) error {
	if item.WarehouseType != a.WarehouseType {
		return fmt.Errorf("%w: item %d belongs to warehouse %s", shared.ErrInvalidAuditScope, item.ID, item.WarehouseType)
	}
	switch a.Scope {
	case ScopeCategory:
		if item.CategoryID != a.TargetID {
			return fmt.Errorf("%w: item %d is not in category %d", shared.ErrInvalidAuditScope, item.ID, a.TargetID)
		}
	case ScopeLocation:
		if locationID != a.TargetID {
			return fmt.Errorf("%w: location %d is outside audit location %d", shared.ErrInvalidAuditScope, locationID, a.TargetID)
		}
	case ScopeSingleItem:
		if item.ID != a.TargetID {
			return fmt.Errorf("%w: audit covers item %d only", shared.ErrInvalidAuditScope, a.TargetID)
		}
	}
	return nil
}

// CompleteAudit freezes the lines and stores the summary counters.
func (s *Service) CompleteAudit(ctx context.Context, auditID, actorID int64) (Summary, error) {
	if actorID <= 0 {
		return Summary{}, fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	var sum Summary
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.LockAudit(ctx, auditID)
		if err != nil {
			return err
		}
		if a.Status != StatusInProgress {
			return fmt.Errorf("%w: audit %d is %s", shared.ErrInvalidAuditState, a.ID, a.Status)
		}
		lines, err := tx.ListItems(ctx, a.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("%w: audit %d has no counted items", shared.ErrInvalidAuditState, a.ID)
		}
		sum = summarize(a.ID, lines)
		now := s.now()
		a.Status = StatusCompleted
		a.CompletedAt = &now
		a.apply(sum)
		return tx.UpdateAudit(ctx, a)
	})
	if err != nil {
		return Summary{}, err
	}
	s.record(ctx, actorID, "audit:complete", auditID, map[string]any{
		"items_counted": sum.ItemsCounted,
		"discrepant":    sum.Discrepant,
	})
	return sum, nil
}

// CancelAudit abandons an audit that has not been completed.
func (s *Service) CancelAudit(ctx context.Context, auditID, actorID int64) (Audit, error) {
	if actorID <= 0 {
		return Audit{}, fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	var out Audit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.LockAudit(ctx, auditID)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return fmt.Errorf("%w: audit %d is %s", shared.ErrInvalidAuditState, a.ID, a.Status)
		}
		now := s.now()
		a.Status = StatusCancelled
		a.CancelledAt = &now
		out = a
		return tx.UpdateAudit(ctx, a)
	})
	if err != nil {
		return Audit{}, err
	}
	s.record(ctx, actorID, "audit:cancel", auditID, nil)
	return out, nil
}

// AdjustmentKey is the idempotency key of the ADJUSTMENT posted for an audit line.
func AdjustmentKey(auditID, auditItemID int64) string {
	return fmt.Sprintf("audit:%d:item:%d", auditID, auditItemID)
}

// ApplyAdjustments posts one ADJUSTMENT per discrepant line of a completed audit, in counting
// order. Each adjustment requires the stock to still equal the line's system quantity, so a
// successful line always lands on the counted quantity. Lines already linked to a transaction
// are skipped, so an interrupted run can be resumed. The first failure stops the run with a
// *PartialApplyError.
func (s *Service) ApplyAdjustments(ctx context.Context, auditID, actorID int64) ([]inventory.Transaction, error) {
	if actorID <= 0 {
		return nil, fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.AuditApplyLockKey(auditID), s.lockTTL)
		if errors.Is(err, shared.ErrLockNotObtained) {
			return nil, fmt.Errorf("audit %d: %w", auditID, ErrAuditLocked)
		}
		if err != nil {
			return nil, err
		}
		defer release()
	}

	a, err := s.repo.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: audit %d is %s", shared.ErrInvalidAuditState, a.ID, a.Status)
	}
	if a.AdjustmentsAppliedAt != nil {
		return nil, fmt.Errorf("%w: audit %d adjustments already applied", shared.ErrInvalidAuditState, a.ID)
	}
	lines, err := s.repo.ListItems(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	var (
		posted  []inventory.Transaction
		applied []AppliedLine
	)
	for _, line := range lines {
		if line.Difference.IsZero() || line.AdjustmentTransactionID != 0 {
			continue
		}
		counted := line.SystemQuantity
		tx, err := s.ledger.PostAdjustment(ctx, inventory.AdjustmentInput{
			ItemID:         line.ItemID,
			LocationID:     line.LocationID,
			Delta:          line.Difference,
			Expected:       &counted,
			AuditID:        a.ID,
			AuditItemID:    line.ID,
			ActorID:        actorID,
			IdempotencyKey: AdjustmentKey(a.ID, line.ID),
		})
		if err == nil {
			err = s.repo.SetAdjustmentTransaction(ctx, line.ID, tx.ID)
		}
		if err != nil {
			s.logger.Warn("audit adjustment failed",
				slog.Int64("audit_id", a.ID),
				slog.Int64("audit_item_id", line.ID),
				slog.Int("applied", len(applied)),
				slog.Any("error", err))
			return posted, &PartialApplyError{
				AuditID:           a.ID,
				Applied:           applied,
				FailedItemID:      line.ItemID,
				FailedAuditItemID: line.ID,
				Err:               err,
			}
		}
		posted = append(posted, tx)
		applied = append(applied, AppliedLine{
			AuditItemID:   line.ID,
			ItemID:        line.ItemID,
			LocationID:    line.LocationID,
			Delta:         line.Difference,
			TransactionID: tx.ID,
			Number:        tx.Number,
		})
	}
	if err := s.repo.MarkAdjustmentsApplied(ctx, a.ID, s.now()); err != nil {
		return posted, err
	}
	s.record(ctx, actorID, "audit:apply", a.ID, map[string]any{"adjustments": len(posted)})
	return posted, nil
}

// GetAudit returns an audit by id.
func (s *Service) GetAudit(ctx context.Context, id int64) (Audit, error) {
	return s.repo.GetAudit(ctx, id)
}

// ListItems returns the counted lines of an audit.
func (s *Service) ListItems(ctx context.Context, auditID int64) ([]Item, error) {
	if _, err := s.repo.GetAudit(ctx, auditID); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, auditID)
}

// ListAudits lists audits newest first.
func (s *Service) ListAudits(ctx context.Context, filter Filter) ([]Audit, error) {
	if strings.TrimSpace(filter.WarehouseType) != "" {
		wt, err := s.warehouses.Normalize(filter.WarehouseType)
		if err != nil {
			return nil, err
		}
		filter.WarehouseType = wt
	}
	if filter.Status != "" {
		switch filter.Status {
		case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		default:
			return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
		}
	}
	page := shared.NewPagination(filter.Limit, filter.Offset, 50, 200)
	filter.Limit, filter.Offset = page.Limit, page.Offset
	return s.repo.ListAudits(ctx, filter)
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, auditID int64, meta map[string]any) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(context.WithoutCancel(ctx), shared.ActivityLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "audit",
		EntityID: strconv.FormatInt(auditID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("record audit activity", slog.String("action", action), slog.Any("error", err))
	}
}
