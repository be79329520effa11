package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, itemID, locationID int64) (decimal.Decimal, error)
	ListStock(ctx context.Context, itemID int64) ([]Stock, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	GetTransactionByNumber(ctx context.Context, number string) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error)
	GetItem(ctx context.Context, id int64) (ItemRef, error)
	GetLocation(ctx context.Context, id int64) (LocationRef, error)
	// LockStock row-locks (item, location) and returns its quantity. With create the row is
	// inserted at zero first; without it a missing row reports exists=false.
	LockStock(ctx context.Context, itemID, locationID int64, create bool) (qty decimal.Decimal, exists bool, err error)
	SetStock(ctx context.Context, itemID, locationID int64, qty decimal.Decimal) error
	SetItemLocation(ctx context.Context, itemID, locationID int64) error
	LockIssue(ctx context.Context, id int64) (Transaction, error)
	ReturnedQuantity(ctx context.Context, sourceIssueID int64) (decimal.Decimal, error)
	NextSequence(ctx context.Context, scope NumberScope) (int, error)
	InsertTransaction(ctx context.Context, t Transaction) (Transaction, error)
}

// ActivityPort abstracts activity logging.
type ActivityPort interface {
	Record(ctx context.Context, log shared.ActivityLog) error
}

// MetricsPort receives engine counters.
type MetricsPort interface {
	ObserveInventoryTransaction(txType string)
	ObserveInventoryRejection(reason string)
}

// GuardPort claims an idempotency key for the duration of a request.
type GuardPort interface {
	Begin(ctx context.Context, key string) (func(), error)
}

// Option customises Service.
type Option func(*Service)

// WithActivity records committed transactions in the activity log.
func WithActivity(a ActivityPort) Option { return func(s *Service) { s.activity = a } }

// WithMetrics reports committed and rejected transactions.
func WithMetrics(m MetricsPort) Option { return func(s *Service) { s.metrics = m } }

// WithGuard rejects concurrent duplicates of an in-flight idempotency key.
func WithGuard(g GuardPort) Option { return func(s *Service) { s.guard = g } }

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// Service coordinates inventory operations.
type Service struct {
	repo     RepositoryPort
	cfg      EngineConfig
	activity ActivityPort
	metrics  MetricsPort
	guard    GuardPort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg EngineConfig, opts ...Option) *Service {
	s := &Service{repo: repo, cfg: cfg.withDefaults(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective engine configuration.
func (s *Service) Config() EngineConfig {
	return s.cfg
}

// PostPurchase increases stock at the item's (or the given) location.
func (s *Service) PostPurchase(ctx context.Context, input PurchaseInput) (Transaction, error) {
	if err := requireRefs(input.ItemID, input.ActorID); err != nil {
		return s.reject(err)
	}
	if !input.Quantity.IsPositive() {
		return s.reject(fmt.Errorf("%w: quantity must be > 0", shared.ErrInvalidQuantity))
	}
	if input.UnitPrice.IsNegative() {
		return s.reject(fmt.Errorf("%w: unit price must be >= 0", shared.ErrInvalidPrice))
	}
	key := input.IdempotencyKey
	input.IdempotencyKey = ""
	return s.execute(ctx, key, fingerprintRequest{Type: TransactionTypePurchase, Input: input}, func(ctx context.Context, tx TxRepository) (Transaction, error) {
		item, locationID, err := s.resolveTarget(ctx, tx, input.ItemID, input.LocationID)
		if err != nil {
			return Transaction{}, err
		}
		balance, err := increment(ctx, tx, item.ID, locationID, input.Quantity)
		if err != nil {
			return Transaction{}, err
		}
		return Transaction{
			WarehouseType: item.WarehouseType,
			ItemID:        item.ID,
			Quantity:      input.Quantity,
			BalanceAfter:  balance,
			Notes:         input.Notes,
			ActorID:       input.ActorID,
			Detail: PurchaseDetail{
				LocationID:    locationID,
				UnitPrice:     input.UnitPrice,
				TotalCost:     input.Quantity.Mul(input.UnitPrice).Round(2),
				InvoiceNumber: strings.TrimSpace(input.InvoiceNumber),
				Supplier:      strings.TrimSpace(input.Supplier),
			},
		}, nil
	})
}

// PostIssue decreases stock towards a recipient. Availability is checked under the row lock.
func (s *Service) PostIssue(ctx context.Context, input IssueInput) (Transaction, error) {
	if err := requireRefs(input.ItemID, input.ActorID); err != nil {
		return s.reject(err)
	}
	if !input.Quantity.IsPositive() {
		return s.reject(fmt.Errorf("%w: quantity must be > 0", shared.ErrInvalidQuantity))
	}
	if input.Recipient != nil {
		if err := input.Recipient.validate(); err != nil {
			return s.reject(err)
		}
	}
	key := input.IdempotencyKey
	input.IdempotencyKey = ""
	return s.execute(ctx, key, fingerprintRequest{Type: TransactionTypeIssue, Input: input}, func(ctx context.Context, tx TxRepository) (Transaction, error) {
		item, locationID, err := s.resolveTarget(ctx, tx, input.ItemID, input.LocationID)
		if err != nil {
			return Transaction{}, err
		}
		balance, err := decrement(ctx, tx, item.ID, locationID, input.Quantity)
		if err != nil {
			return Transaction{}, err
		}
		return Transaction{
			WarehouseType: item.WarehouseType,
			ItemID:        item.ID,
			Quantity:      input.Quantity.Neg(),
			BalanceAfter:  balance,
			Notes:         input.Notes,
			ActorID:       input.ActorID,
			Detail:        IssueDetail{LocationID: locationID, Recipient: input.Recipient},
		}, nil
	})
}

// PostTransfer moves stock between two locations as a single TRANSFER entry.
func (s *Service) PostTransfer(ctx context.Context, input TransferInput) (Transaction, error) {
	if err := requireRefs(input.ItemID, input.ActorID); err != nil {
		return s.reject(err)
	}
	if !input.Quantity.IsPositive() {
		return s.reject(fmt.Errorf("%w: quantity must be > 0", shared.ErrInvalidQuantity))
	}
	if input.FromLocationID <= 0 || input.ToLocationID <= 0 {
		return s.reject(fmt.Errorf("%w: source and destination locations required", shared.ErrInvalidTransfer))
	}
	if input.FromLocationID == input.ToLocationID {
		return s.reject(fmt.Errorf("%w: source and destination must differ", shared.ErrInvalidTransfer))
	}
	key := input.IdempotencyKey
	input.IdempotencyKey = ""
	return s.execute(ctx, key, fingerprintRequest{Type: TransactionTypeTransfer, Input: input}, func(ctx context.Context, tx TxRepository) (Transaction, error) {
		item, err := activeItem(ctx, tx, input.ItemID)
		if err != nil {
			return Transaction{}, err
		}
		for _, id := range []int64{input.FromLocationID, input.ToLocationID} {
			if _, err := activeLocation(ctx, tx, id, item.WarehouseType, shared.ErrInvalidTransfer); err != nil {
				return Transaction{}, err
			}
		}
		single := s.cfg.LocationModel == LocationModelSingle
		if single && item.LocationID != input.FromLocationID {
			return Transaction{}, fmt.Errorf("%w: item %d is stored at location %d, not %d",
				shared.ErrInvalidTransfer, item.ID, item.LocationID, input.FromLocationID)
		}
		rows, err := lockPair(ctx, tx, item.ID, input.FromLocationID, input.ToLocationID,
			map[int64]bool{input.ToLocationID: true, input.FromLocationID: single})
		if err != nil {
			return Transaction{}, err
		}
		src, dst := rows[input.FromLocationID], rows[input.ToLocationID]
		if !src.exists {
			return Transaction{}, fmt.Errorf("%w: item %d has no stock at location %d",
				shared.ErrInvalidTransfer, item.ID, input.FromLocationID)
		}
		if src.quantity.LessThan(input.Quantity) {
			return Transaction{}, &InsufficientQuantityError{ItemID: item.ID, LocationID: input.FromLocationID, Available: src.quantity, Requested: input.Quantity}
		}
		if single && !input.Quantity.Equal(src.quantity) {
			return Transaction{}, fmt.Errorf("%w: item %d keeps all stock at one location, transfer %s not %s",
				shared.ErrInvalidTransfer, item.ID, src.quantity.String(), input.Quantity.String())
		}
		srcAfter := src.quantity.Sub(input.Quantity)
		if err := tx.SetStock(ctx, item.ID, input.FromLocationID, srcAfter); err != nil {
			return Transaction{}, err
		}
		if err := tx.SetStock(ctx, item.ID, input.ToLocationID, dst.quantity.Add(input.Quantity)); err != nil {
			return Transaction{}, err
		}
		if single {
			if err := tx.SetItemLocation(ctx, item.ID, input.ToLocationID); err != nil {
				return Transaction{}, err
			}
		}
		return Transaction{
			WarehouseType: item.WarehouseType,
			ItemID:        item.ID,
			Quantity:      input.Quantity,
			BalanceAfter:  srcAfter,
			Notes:         input.Notes,
			ActorID:       input.ActorID,
			Detail:        TransferDetail{FromLocationID: input.FromLocationID, ToLocationID: input.ToLocationID},
		}, nil
	})
}

// PostReturn puts stock back, optionally against its originating issue.
func (s *Service) PostReturn(ctx context.Context, input ReturnInput) (Transaction, error) {
	if err := requireRefs(input.ItemID, input.ActorID); err != nil {
		return s.reject(err)
	}
	if !input.Quantity.IsPositive() {
		return s.reject(fmt.Errorf("%w: quantity must be > 0", shared.ErrInvalidQuantity))
	}
	input.Reason = strings.TrimSpace(input.Reason)
	if input.Reason == "" {
		return s.reject(fmt.Errorf("%w: return reason is required", shared.ErrValidation))
	}
	if s.cfg.ReturnPolicy == ReturnPolicyStrict && input.SourceIssueID <= 0 {
		return s.reject(fmt.Errorf("%w: originating issue is required", shared.ErrInvalidReturn))
	}
	key := input.IdempotencyKey
	input.IdempotencyKey = ""
	return s.execute(ctx, key, fingerprintRequest{Type: TransactionTypeReturn, Input: input}, func(ctx context.Context, tx TxRepository) (Transaction, error) {
		item, locationID, err := s.resolveTarget(ctx, tx, input.ItemID, input.LocationID)
		if err != nil {
			return Transaction{}, err
		}
		if input.SourceIssueID > 0 {
			if err := s.checkReturnSource(ctx, tx, item.ID, input); err != nil {
				return Transaction{}, err
			}
		}
		balance, err := increment(ctx, tx, item.ID, locationID, input.Quantity)
		if err != nil {
			return Transaction{}, err
		}
		return Transaction{
			WarehouseType: item.WarehouseType,
			ItemID:        item.ID,
			Quantity:      input.Quantity,
			BalanceAfter:  balance,
			Reason:        input.Reason,
			Notes:         input.Notes,
			ActorID:       input.ActorID,
			Detail:        ReturnDetail{LocationID: locationID, SourceIssueID: input.SourceIssueID},
		}, nil
	})
}

func (s *Service) checkReturnSource(ctx context.Context, tx TxRepository, itemID int64, input ReturnInput) error {
	issue, err := tx.LockIssue(ctx, input.SourceIssueID)
	if err != nil {
		return err
	}
	if issue.Type != TransactionTypeIssue || issue.ItemID != itemID {
		return fmt.Errorf("%w: transaction %d is not an issue of item %d", shared.ErrInvalidReturn, input.SourceIssueID, itemID)
	}
	if s.cfg.ReturnPolicy != ReturnPolicyStrict {
		return nil
	}
	returned, err := tx.ReturnedQuantity(ctx, issue.ID)
	if err != nil {
		return err
	}
	issued := issue.Quantity.Abs()
	if returned.Add(input.Quantity).GreaterThan(issued) {
		return fmt.Errorf("%w: issued %s, already returned %s, requested %s",
			shared.ErrInvalidReturn, issued.String(), returned.String(), input.Quantity.String())
	}
	return nil
}

// PostAdjustment applies a reconciliation delta. There is no availability check, but the
// resulting stock may not be negative. With Expected set, stock that moved since the count fails
// with *StaleCountError.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (Transaction, error) {
	if err := requireRefs(input.ItemID, input.ActorID); err != nil {
		return s.reject(err)
	}
	if input.Delta.IsZero() {
		return s.reject(fmt.Errorf("%w: adjustment delta must be non-zero", shared.ErrInvalidQuantity))
	}
	if input.LocationID <= 0 || input.AuditID <= 0 || input.AuditItemID <= 0 {
		return s.reject(fmt.Errorf("%w: adjustment needs location, audit and audit item", shared.ErrValidation))
	}
	if input.Expected != nil && input.Expected.IsNegative() {
		return s.reject(fmt.Errorf("%w: expected stock must be >= 0", shared.ErrInvalidQuantity))
	}
	if strings.TrimSpace(input.Reason) == "" {
		input.Reason = "audit reconciliation"
	}
	key := input.IdempotencyKey
	input.IdempotencyKey = ""
	return s.execute(ctx, key, fingerprintRequest{Type: TransactionTypeAdjustment, Input: input}, func(ctx context.Context, tx TxRepository) (Transaction, error) {
		item, err := tx.GetItem(ctx, input.ItemID)
		if err != nil {
			return Transaction{}, err
		}
		if _, err := tx.GetLocation(ctx, input.LocationID); err != nil {
			return Transaction{}, err
		}
		balance, err := shift(ctx, tx, item.ID, input.LocationID, input.Delta, input.Expected)
		if err != nil {
			return Transaction{}, err
		}
		return Transaction{
			WarehouseType: item.WarehouseType,
			ItemID:        item.ID,
			Quantity:      input.Delta,
			BalanceAfter:  balance,
			Reason:        input.Reason,
			ActorID:       input.ActorID,
			Detail:        AdjustmentDetail{LocationID: input.LocationID, AuditID: input.AuditID, AuditItemID: input.AuditItemID},
		}, nil
	})
}

// PostOpeningStock posts the initial quantity of a new item as a PURCHASE.
func (s *Service) PostOpeningStock(ctx context.Context, itemID, locationID int64, quantity, unitPrice decimal.Decimal, actorID int64) error {
	_, err := s.PostPurchase(ctx, PurchaseInput{
		ItemID:         itemID,
		LocationID:     locationID,
		Quantity:       quantity,
		UnitPrice:      unitPrice,
		Notes:          "opening stock",
		ActorID:        actorID,
		IdempotencyKey: "item:" + strconv.FormatInt(itemID, 10) + ":opening",
	})
	return err
}

// GetTransaction returns a ledger entry by id.
func (s *Service) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// GetTransactionByNumber returns a ledger entry by its number.
func (s *Service) GetTransactionByNumber(ctx context.Context, number string) (Transaction, error) {
	if _, _, err := ParseNumber(number); err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return s.repo.GetTransactionByNumber(ctx, number)
}

// ListTransactions lists ledger entries newest first. Limit defaults to 100 and is capped at 500.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", shared.ErrValidation, filter.Type)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: to is before from", shared.ErrValidation)
	}
	page := shared.NewPagination(filter.Limit, filter.Offset, 100, 500)
	filter.Limit, filter.Offset = page.Limit, page.Offset
	return s.repo.ListTransactions(ctx, filter)
}

type fingerprintRequest struct {
	Type  TransactionType
	Input any
}

type buildFunc func(ctx context.Context, tx TxRepository) (Transaction, error)

// execute runs build inside one database transaction together with the idempotency lookup,
// number allocation and the ledger insert.
func (s *Service) execute(ctx context.Context, key string, req fingerprintRequest, build buildFunc) (Transaction, error) {
	var fingerprint string
	if key != "" {
		var err error
		if fingerprint, err = shared.Fingerprint(req); err != nil {
			return Transaction{}, err
		}
		if s.guard != nil {
			release, err := s.guard.Begin(ctx, key)
			if err != nil {
				return s.reject(err)
			}
			defer release()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	var (
		result   Transaction
		replayed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if key != "" {
			existing, found, err := tx.FindByIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			if found {
				result, replayed = existing, true
				return matchFingerprint(existing, fingerprint)
			}
		}
		draft, err := build(ctx, tx)
		if err != nil {
			return err
		}
		draft.Type = draft.Detail.Type()
		draft.Period = PeriodOf(s.cfg.Clock())
		draft.IdempotencyKey = key
		draft.Fingerprint = fingerprint
		scope := NumberScope{WarehouseType: draft.WarehouseType, Type: draft.Type, Period: draft.Period}
		seq, err := tx.NextSequence(ctx, scope)
		if err != nil {
			return err
		}
		// Stamped after the counter row lock so created_at follows sequence order.
		draft.CreatedAt = stampWithin(s.cfg.Clock().UTC(), draft.Period)
		draft.Sequence = seq
		draft.Number = FormatNumber(scope, seq)
		result, err = tx.InsertTransaction(ctx, draft)
		return err
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		existing, found, lookupErr := s.repo.FindByIdempotencyKey(context.WithoutCancel(ctx), key)
		if lookupErr != nil {
			return Transaction{}, lookupErr
		}
		if found {
			result, replayed, err = existing, true, matchFingerprint(existing, fingerprint)
		}
	}
	if err != nil {
		return s.reject(err)
	}
	if !replayed {
		s.committed(ctx, result)
	}
	return result, nil
}

func matchFingerprint(existing Transaction, fingerprint string) error {
	if existing.Fingerprint != fingerprint {
		return fmt.Errorf("%w: key %s already used for %s", shared.ErrIdempotencyConflict, existing.IdempotencyKey, existing.Number)
	}
	return nil
}

func (s *Service) committed(ctx context.Context, t Transaction) {
	if s.metrics != nil {
		s.metrics.ObserveInventoryTransaction(string(t.Type))
	}
	s.logger.Info("inventory transaction posted",
		slog.String("number", t.Number),
		slog.Int64("item_id", t.ItemID),
		slog.String("quantity", t.Quantity.String()))
	if s.activity == nil {
		return
	}
	err := s.activity.Record(context.WithoutCancel(ctx), shared.ActivityLog{
		ActorID:  t.ActorID,
		Action:   "inventory:" + strings.ToLower(string(t.Type)),
		Entity:   "inventory_transaction",
		EntityID: t.Number,
		Meta: map[string]any{
			"item_id":     t.ItemID,
			"location_id": DetailLocation(t.Detail),
			"quantity":    t.Quantity.String(),
		},
		At: t.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("record inventory activity", slog.String("number", t.Number), slog.Any("error", err))
	}
}

func (s *Service) reject(err error) (Transaction, error) {
	if s.metrics != nil {
		s.metrics.ObserveInventoryRejection(RejectionReason(err))
	}
	return Transaction{}, err
}

// RejectionReason maps an engine error onto a short metrics label.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrInsufficientQuantity):
		return "insufficient_quantity"
	case errors.Is(err, shared.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, shared.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, shared.ErrInvalidTransfer):
		return "invalid_transfer"
	case errors.Is(err, shared.ErrInvalidReturn):
		return "invalid_return"
	case errors.Is(err, shared.ErrStaleCount):
		return "stale_count"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrRetryable):
		return "retryable"
	default:
		return "internal"
	}
}

func requireRefs(itemID, actorID int64) error {
	if itemID <= 0 {
		return fmt.Errorf("%w: item required", shared.ErrValidation)
	}
	if actorID <= 0 {
		return fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	return nil
}

// resolveTarget loads the item and the location a single-location movement touches.
func (s *Service) resolveTarget(ctx context.Context, tx TxRepository, itemID, locationID int64) (ItemRef, int64, error) {
	item, err := activeItem(ctx, tx, itemID)
	if err != nil {
		return ItemRef{}, 0, err
	}
	if locationID == 0 {
		locationID = item.LocationID
	}
	if s.cfg.LocationModel == LocationModelSingle && locationID != item.LocationID {
		return ItemRef{}, 0, fmt.Errorf("%w: item %d is stored at location %d", shared.ErrValidation, item.ID, item.LocationID)
	}
	if _, err := activeLocation(ctx, tx, locationID, item.WarehouseType, shared.ErrValidation); err != nil {
		return ItemRef{}, 0, err
	}
	return item, locationID, nil
}

func activeItem(ctx context.Context, tx TxRepository, id int64) (ItemRef, error) {
	item, err := tx.GetItem(ctx, id)
	if err != nil {
		return ItemRef{}, err
	}
	if !item.Active {
		return ItemRef{}, fmt.Errorf("inventory: item %d is inactive: %w", id, shared.ErrNotFound)
	}
	return item, nil
}

func activeLocation(ctx context.Context, tx TxRepository, id int64, warehouseType string, mismatch error) (LocationRef, error) {
	loc, err := tx.GetLocation(ctx, id)
	if err != nil {
		return LocationRef{}, err
	}
	if !loc.Active {
		return LocationRef{}, fmt.Errorf("inventory: location %d is inactive: %w", id, shared.ErrNotFound)
	}
	if loc.WarehouseType != warehouseType {
		return LocationRef{}, fmt.Errorf("%w: location %d belongs to warehouse %s, item to %s", mismatch, id, loc.WarehouseType, warehouseType)
	}
	return loc, nil
}
