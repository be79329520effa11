package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const (
	itemX = int64(42)
	loc1  = int64(1)
	loc2  = int64(2)
	actor = int64(7)
)

var january = time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type recordingMetrics struct {
	mu         sync.Mutex
	posted     map[string]int
	rejections map[string]int
}

func (m *recordingMetrics) ObserveInventoryTransaction(t string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted[t]++
}

func (m *recordingMetrics) ObserveInventoryRejection(r string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[r]++
}

func newEngine(t *testing.T, cfg inventory.EngineConfig, opts ...inventory.Option) (*inventory.Service, *inventorytest.Store, *recordingMetrics) {
	t.Helper()
	store := inventorytest.NewStore()
	store.AddLocation(loc1, "OG")
	store.AddLocation(loc2, "OG")
	store.AddItem(itemX, "OG", loc1)
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return january }
	}
	metrics := &recordingMetrics{posted: map[string]int{}, rejections: map[string]int{}}
	opts = append(opts, inventory.WithMetrics(metrics))
	return inventory.NewService(store, cfg, opts...), store, metrics
}

func stockOf(t *testing.T, svc *inventory.Service, item, loc int64) decimal.Decimal {
	t.Helper()
	q, err := svc.GetStock(context.Background(), item, loc)
	require.NoError(t, err)
	return q
}

func purchase(t *testing.T, svc *inventory.Service, qty string) inventory.Transaction {
	t.Helper()
	tx, err := svc.PostPurchase(context.Background(), inventory.PurchaseInput{ItemID: itemX, Quantity: dec(qty), UnitPrice: dec("10.00"), ActorID: actor})
	require.NoError(t, err)
	return tx
}

func TestPurchaseScenarioA(t *testing.T) {
	svc, _, metrics := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()

	tx, err := svc.PostPurchase(ctx, inventory.PurchaseInput{
		ItemID:        itemX,
		LocationID:    loc1,
		Quantity:      dec("50"),
		UnitPrice:     dec("10.00"),
		InvoiceNumber: "INV-1",
		Supplier:      "PT Pelumas",
		ActorID:       actor,
	})
	require.NoError(t, err)
	require.Equal(t, "OG-PUR-2501-0001", tx.Number)
	require.Equal(t, inventory.TransactionTypePurchase, tx.Type)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("50")))

	detail, ok := tx.Detail.(inventory.PurchaseDetail)
	require.True(t, ok)
	require.Equal(t, "500.00", detail.TotalCost.StringFixed(2))
	require.Equal(t, loc1, detail.LocationID)
	require.Equal(t, 1, metrics.posted["PURCHASE"])
}

func TestPurchaseValidation(t *testing.T) {
	svc, store, metrics := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()

	_, err := svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: itemX, Quantity: dec("0"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: itemX, Quantity: dec("1"), UnitPrice: dec("-0.01"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidPrice)

	_, err = svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: 999, Quantity: dec("1"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: itemX, Quantity: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Empty(t, store.Transactions())
	require.Equal(t, 1, metrics.rejections["invalid_quantity"])
	require.Equal(t, 1, metrics.rejections["not_found"])
}

func TestIssueScenarioB(t *testing.T) {
	svc, _, metrics := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()
	purchase(t, svc, "50")

	tx, err := svc.PostIssue(ctx, inventory.IssueInput{
		ItemID:    itemX,
		Quantity:  dec("20"),
		Recipient: &inventory.Recipient{Kind: inventory.RecipientEmployee, ID: 7},
		ActorID:   actor,
	})
	require.NoError(t, err)
	require.True(t, tx.Quantity.Equal(dec("-20")))
	require.Equal(t, "OG-ISS-2501-0001", tx.Number)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("30")))

	_, err = svc.PostIssue(ctx, inventory.IssueInput{ItemID: itemX, Quantity: dec("40"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInsufficientQuantity)
	var insufficient *inventory.InsufficientQuantityError
	require.True(t, errors.As(err, &insufficient))
	require.True(t, insufficient.Available.Equal(dec("30")))
	require.True(t, insufficient.Requested.Equal(dec("40")))
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("30")))
	require.Equal(t, 1, metrics.rejections["insufficient_quantity"])
}

func TestIssueRejectsUnknownRecipientKind(t *testing.T) {
	svc, _, _ := newEngine(t, inventory.EngineConfig{})
	purchase(t, svc, "5")
	_, err := svc.PostIssue(context.Background(), inventory.IssueInput{
		ItemID:    itemX,
		Quantity:  dec("1"),
		Recipient: &inventory.Recipient{Kind: "vendor", Name: "x"},
		ActorID:   actor,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransferScenarioC(t *testing.T) {
	svc, store, _ := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()
	purchase(t, svc, "30")

	tx, err := svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemX, FromLocationID: loc1, ToLocationID: loc2, Quantity: dec("10"), ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, "OG-TRF-2501-0001", tx.Number)
	require.True(t, tx.BalanceAfter.Equal(dec("20")))
	require.Equal(t, inventory.TransferDetail{FromLocationID: loc1, ToLocationID: loc2}, tx.Detail)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("20")))
	require.True(t, stockOf(t, svc, itemX, loc2).Equal(dec("10")))

	before := len(store.Transactions())
	_, err = svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemX, FromLocationID: loc1, ToLocationID: loc1, Quantity: dec("5"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidTransfer)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("20")))
	require.Len(t, store.Transactions(), before)
}

func TestTransferMultiLocationRequiresSourceRow(t *testing.T) {
	svc, store, _ := newEngine(t, inventory.EngineConfig{LocationModel: inventory.LocationModelMulti})
	ctx := context.Background()
	store.AddLocation(3, "OG")

	_, err := svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemX, FromLocationID: 3, ToLocationID: loc1, Quantity: dec("1"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidTransfer)

	purchase(t, svc, "2")
	_, err = svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemX, FromLocationID: loc1, ToLocationID: loc2, Quantity: dec("3"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInsufficientQuantity)
	stock, err := svc.ListStock(ctx, itemX)
	require.NoError(t, err)
	require.Len(t, stock, 1)
}

func TestTransferRejectsForeignWarehouseLocation(t *testing.T) {
	svc, store, _ := newEngine(t, inventory.EngineConfig{})
	store.AddLocation(9, "SP")
	purchase(t, svc, "5")
	_, err := svc.PostTransfer(context.Background(), inventory.TransferInput{ItemID: itemX, FromLocationID: loc1, ToLocationID: 9, Quantity: dec("1"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidTransfer)

	store.DeactivateLocation(loc2)
	_, err = svc.PostTransfer(context.Background(), inventory.TransferInput{ItemID: itemX, FromLocationID: loc1, ToLocationID: loc2, Quantity: dec("1"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTransferSingleLocationModel(t *testing.T) {
	svc, store, _ := newEngine(t, inventory.EngineConfig{LocationModel: inventory.LocationModelSingle})
	ctx := context.Background()
	purchase(t, svc, "8")

	_, err := svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemX, FromLocationID: loc2, ToLocationID: loc1, Quantity: dec("1"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidTransfer)

	_, err = svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: itemX, LocationID: loc2, Quantity: dec("1"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemX, FromLocationID: loc1, ToLocationID: loc2, Quantity: dec("3"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidTransfer)
	require.Equal(t, loc1, store.Item(itemX).LocationID)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("8")))
	require.True(t, stockOf(t, svc, itemX, loc2).IsZero())

	_, err = svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemX, FromLocationID: loc1, ToLocationID: loc2, Quantity: dec("8"), ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, loc2, store.Item(itemX).LocationID)
	require.True(t, stockOf(t, svc, itemX, loc2).Equal(dec("8")))

	_, err = svc.PostIssue(ctx, inventory.IssueInput{ItemID: itemX, LocationID: loc2, Quantity: dec("2"), ActorID: actor})
	require.NoError(t, err)
	_, err = svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemX, FromLocationID: loc2, ToLocationID: loc1, Quantity: dec("6"), ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, loc1, store.Item(itemX).LocationID)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("6")))
}

func TestTransferConservesQuantity(t *testing.T) {
	svc, _, _ := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()
	purchase(t, svc, "100")
	_, err := svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: itemX, LocationID: loc2, Quantity: dec("40"), ActorID: actor})
	require.NoError(t, err)

	moves := []struct {
		from, to int64
		qty      string
		overdraw bool
	}{
		{loc1, loc2, "13.5", false},
		{loc2, loc1, "50", false},
		{loc1, loc2, "136.5", false},
		{loc2, loc1, "0.001", false},
		{loc2, loc1, "500", true},
		{loc1, loc2, "0.002", true},
	}
	for _, m := range moves {
		before := stockOf(t, svc, itemX, loc1).Add(stockOf(t, svc, itemX, loc2))
		_, err := svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemX, FromLocationID: m.from, ToLocationID: m.to, Quantity: dec(m.qty), ActorID: actor})
		if m.overdraw {
			require.ErrorIs(t, err, shared.ErrInsufficientQuantity, "move %+v", m)
		} else {
			require.NoError(t, err, "move %+v", m)
		}
		after := stockOf(t, svc, itemX, loc1).Add(stockOf(t, svc, itemX, loc2))
		require.True(t, before.Equal(after), "move %+v changed total from %s to %s", m, before, after)
		require.False(t, stockOf(t, svc, itemX, loc1).IsNegative())
		require.False(t, stockOf(t, svc, itemX, loc2).IsNegative())
	}
}

func TestReturnLenientAcceptsOverReturn(t *testing.T) {
	svc, _, _ := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()
	purchase(t, svc, "10")
	issue, err := svc.PostIssue(ctx, inventory.IssueInput{ItemID: itemX, Quantity: dec("4"), ActorID: actor})
	require.NoError(t, err)

	ret, err := svc.PostReturn(ctx, inventory.ReturnInput{ItemID: itemX, Quantity: dec("9"), Reason: "found in van", SourceIssueID: issue.ID, ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, "OG-RET-2501-0001", ret.Number)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("15")))

	_, err = svc.PostReturn(ctx, inventory.ReturnInput{ItemID: itemX, Quantity: dec("1"), ActorID: actor})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReturnStrictPolicy(t *testing.T) {
	svc, _, _ := newEngine(t, inventory.EngineConfig{ReturnPolicy: inventory.ReturnPolicyStrict})
	ctx := context.Background()
	buy := purchase(t, svc, "10")
	issue, err := svc.PostIssue(ctx, inventory.IssueInput{ItemID: itemX, Quantity: dec("4"), ActorID: actor})
	require.NoError(t, err)

	_, err = svc.PostReturn(ctx, inventory.ReturnInput{ItemID: itemX, Quantity: dec("1"), Reason: "unused", ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidReturn)

	_, err = svc.PostReturn(ctx, inventory.ReturnInput{ItemID: itemX, Quantity: dec("1"), Reason: "unused", SourceIssueID: buy.ID, ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidReturn)

	_, err = svc.PostReturn(ctx, inventory.ReturnInput{ItemID: itemX, Quantity: dec("3"), Reason: "unused", SourceIssueID: issue.ID, ActorID: actor})
	require.NoError(t, err)
	_, err = svc.PostReturn(ctx, inventory.ReturnInput{ItemID: itemX, Quantity: dec("2"), Reason: "unused", SourceIssueID: issue.ID, ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidReturn)
	_, err = svc.PostReturn(ctx, inventory.ReturnInput{ItemID: itemX, Quantity: dec("1"), Reason: "unused", SourceIssueID: issue.ID, ActorID: actor})
	require.NoError(t, err)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("10")))

	_, err = svc.PostReturn(ctx, inventory.ReturnInput{ItemID: itemX, Quantity: dec("1"), Reason: "unused", SourceIssueID: 999, ActorID: actor})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustmentBypassesAvailabilityButNotInvariant(t *testing.T) {
	svc, _, _ := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()
	purchase(t, svc, "20")

	tx, err := svc.PostAdjustment(ctx, inventory.AdjustmentInput{ItemID: itemX, LocationID: loc1, Delta: dec("-3"), AuditID: 1, AuditItemID: 1, ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, "OG-ADJ-2501-0001", tx.Number)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("17")))

	_, err = svc.PostAdjustment(ctx, inventory.AdjustmentInput{ItemID: itemX, LocationID: loc2, Delta: dec("6"), AuditID: 1, AuditItemID: 2, ActorID: actor})
	require.NoError(t, err)
	require.True(t, stockOf(t, svc, itemX, loc2).Equal(dec("6")))

	_, err = svc.PostAdjustment(ctx, inventory.AdjustmentInput{ItemID: itemX, LocationID: loc1, Delta: dec("-18"), AuditID: 1, AuditItemID: 3, ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInsufficientQuantity)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("17")))

	_, err = svc.PostAdjustment(ctx, inventory.AdjustmentInput{ItemID: itemX, LocationID: loc1, Delta: decimal.Zero, AuditID: 1, AuditItemID: 4, ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func TestAdjustmentRequiresExpectedStock(t *testing.T) {
	svc, store, _ := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()
	purchase(t, svc, "20")
	_, err := svc.PostIssue(ctx, inventory.IssueInput{ItemID: itemX, LocationID: loc1, Quantity: dec("5"), ActorID: actor})
	require.NoError(t, err)
	before := len(store.Transactions())

	counted := dec("20")
	_, err = svc.PostAdjustment(ctx, inventory.AdjustmentInput{ItemID: itemX, LocationID: loc1, Delta: dec("-3"), Expected: &counted, AuditID: 1, AuditItemID: 1, ActorID: actor})
	require.ErrorIs(t, err, shared.ErrStaleCount)
	var stale *inventory.StaleCountError
	require.ErrorAs(t, err, &stale)
	require.True(t, stale.Current.Equal(dec("15")))
	require.True(t, stale.Counted.Equal(dec("20")))
	require.Len(t, store.Transactions(), before)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("15")))

	counted = dec("15")
	tx, err := svc.PostAdjustment(ctx, inventory.AdjustmentInput{ItemID: itemX, LocationID: loc1, Delta: dec("-3"), Expected: &counted, AuditID: 1, AuditItemID: 2, ActorID: actor})
	require.NoError(t, err)
	require.True(t, tx.BalanceAfter.Equal(dec("12")))

	negative := dec("-1")
	_, err = svc.PostAdjustment(ctx, inventory.AdjustmentInput{ItemID: itemX, LocationID: loc1, Delta: dec("1"), Expected: &negative, AuditID: 1, AuditItemID: 3, ActorID: actor})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func TestIdempotentPurchase(t *testing.T) {
	svc, store, metrics := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()
	in := inventory.PurchaseInput{ItemID: itemX, Quantity: dec("5"), UnitPrice: dec("2"), ActorID: actor, IdempotencyKey: "req-1"}

	first, err := svc.PostPurchase(ctx, in)
	require.NoError(t, err)
	second, err := svc.PostPurchase(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Number, second.Number)
	require.Len(t, store.Transactions(), 1)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("5")))
	require.Equal(t, 1, metrics.posted["PURCHASE"])

	in.Quantity = dec("6")
	_, err = svc.PostPurchase(ctx, in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestIdempotencyGuardRejectsInFlight(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	guard := shared.NewIdempotencyGuard(client, time.Minute)

	svc, _, _ := newEngine(t, inventory.EngineConfig{}, inventory.WithGuard(guard))
	ctx := context.Background()

	release, err := guard.Begin(ctx, "busy")
	require.NoError(t, err)
	_, err = svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: itemX, Quantity: dec("1"), ActorID: actor, IdempotencyKey: "busy"})
	require.ErrorIs(t, err, shared.ErrRequestInFlight)
	require.ErrorIs(t, err, shared.ErrRetryable)
	release()

	_, err = svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: itemX, Quantity: dec("1"), ActorID: actor, IdempotencyKey: "busy"})
	require.NoError(t, err)
	require.False(t, mr.Exists("idem:busy"))
}

func TestRolledBackTransactionLeavesNoGap(t *testing.T) {
	svc, store, _ := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()

	store.FailInsert = errors.New("disk full")
	_, err := svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: itemX, Quantity: dec("5"), ActorID: actor})
	require.Error(t, err)
	require.True(t, stockOf(t, svc, itemX, loc1).IsZero())

	tx := purchase(t, svc, "5")
	require.Equal(t, "OG-PUR-2501-0001", tx.Number)
}

func TestNumbersRestartEachMonth(t *testing.T) {
	now := january
	svc, _, _ := newEngine(t, inventory.EngineConfig{Clock: func() time.Time { return now }})
	require.Equal(t, "OG-PUR-2501-0001", purchase(t, svc, "1").Number)
	require.Equal(t, "OG-PUR-2501-0002", purchase(t, svc, "1").Number)
	now = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "OG-PUR-2502-0001", purchase(t, svc, "1").Number)
}

func TestCreatedAtTakenAfterNumberAllocation(t *testing.T) {
	ticks := []time.Time{
		time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 1, 0, time.UTC),
	}
	calls := 0
	clock := func() time.Time {
		now := ticks[min(calls, len(ticks)-1)]
		calls++
		return now
	}
	svc, _, _ := newEngine(t, inventory.EngineConfig{Clock: clock})
	tx := purchase(t, svc, "1")
	require.Equal(t, "OG-PUR-2501-0001", tx.Number)
	require.Equal(t, "2501", inventory.PeriodOf(tx.CreatedAt))
	require.True(t, tx.CreatedAt.After(ticks[0]))
}

func TestConcurrentNumbersAreDistinctAndIncreasing(t *testing.T) {
	svc, store, _ := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			_, err := svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: itemX, Quantity: dec("1"), ActorID: actor})
			return err
		})
	}
	require.NoError(t, g.Wait())

	seen := map[string]bool{}
	last := 0
	for _, tx := range store.Transactions() {
		require.False(t, seen[tx.Number], "duplicate %s", tx.Number)
		seen[tx.Number] = true
		_, seq, err := inventory.ParseNumber(tx.Number)
		require.NoError(t, err)
		require.Greater(t, seq, last)
		last = seq
	}
	require.Equal(t, 25, last)
}

func TestConcurrentIssuesNeverOversell(t *testing.T) {
	svc, _, _ := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()
	purchase(t, svc, "10")

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		unexpected []error
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PostIssue(ctx, inventory.IssueInput{ItemID: itemX, Quantity: dec("1"), ActorID: actor})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case !errors.Is(err, shared.ErrInsufficientQuantity):
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()
	require.Empty(t, unexpected)
	require.Equal(t, 10, succeeded)
	require.True(t, stockOf(t, svc, itemX, loc1).IsZero())
}

func TestListTransactionsNewestFirst(t *testing.T) {
	svc, _, _ := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()
	purchase(t, svc, "10")
	_, err := svc.PostIssue(ctx, inventory.IssueInput{ItemID: itemX, Quantity: dec("1"), ActorID: actor})
	require.NoError(t, err)
	_, err = svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemX, FromLocationID: loc1, ToLocationID: loc2, Quantity: dec("2"), ActorID: actor})
	require.NoError(t, err)

	all, err := svc.ListTransactions(ctx, inventory.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, inventory.TransactionTypeTransfer, all[0].Type)

	issues, err := svc.ListTransactions(ctx, inventory.TransactionFilter{Type: inventory.TransactionTypeIssue})
	require.NoError(t, err)
	require.Len(t, issues, 1)

	atLoc2, err := svc.ListTransactions(ctx, inventory.TransactionFilter{LocationID: loc2})
	require.NoError(t, err)
	require.Len(t, atLoc2, 1)

	_, err = svc.ListTransactions(ctx, inventory.TransactionFilter{Type: "GIFT"})
	require.ErrorIs(t, err, shared.ErrValidation)

	byNumber, err := svc.GetTransactionByNumber(ctx, all[0].Number)
	require.NoError(t, err)
	require.Equal(t, all[0].ID, byNumber.ID)
}

func TestPostOpeningStock(t *testing.T) {
	svc, store, _ := newEngine(t, inventory.EngineConfig{})
	ctx := context.Background()
	require.NoError(t, svc.PostOpeningStock(ctx, itemX, loc1, dec("12"), dec("3.5"), actor))
	require.NoError(t, svc.PostOpeningStock(ctx, itemX, loc1, dec("12"), dec("3.5"), actor))
	require.Len(t, store.Transactions(), 1)
	require.True(t, stockOf(t, svc, itemX, loc1).Equal(dec("12")))
}

func TestParseEngineSettings(t *testing.T) {
	m, err := inventory.ParseLocationModel("")
	require.NoError(t, err)
	require.Equal(t, inventory.LocationModelMulti, m)
	m, err = inventory.ParseLocationModel("SINGLE")
	require.NoError(t, err)
	require.Equal(t, inventory.LocationModelSingle, m)
	_, err = inventory.ParseLocationModel("many")
	require.Error(t, err)

	p, err := inventory.ParseReturnPolicy("strict")
	require.NoError(t, err)
	require.Equal(t, inventory.ReturnPolicyStrict, p)
	_, err = inventory.ParseReturnPolicy("loose")
	require.Error(t, err)
}
