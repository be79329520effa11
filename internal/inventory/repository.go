package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Stock rows are guarded by
// explicit row locks taken through LockStock.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const transactionColumns = `id, number, warehouse_type, tx_type, period, seq, item_id, quantity, balance_after,
location_id, from_location_id, to_location_id, unit_price, total_cost, invoice_number, supplier,
recipient_kind, recipient_id, recipient_name, source_issue_id, audit_id, audit_item_id,
reason, notes, actor_id, COALESCE(idempotency_key, ''), request_fingerprint, created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t                                       Transaction
		locationID, fromID, toID                *int64
		unitPrice, totalCost                    decimal.NullDecimal
		invoice, supplier, recipientKind, rName string
		recipientID, sourceIssueID              *int64
		auditID, auditItemID                    *int64
	)
	err := row.Scan(&t.ID, &t.Number, &t.WarehouseType, &t.Type, &t.Period, &t.Sequence, &t.ItemID, &t.Quantity, &t.BalanceAfter,
		&locationID, &fromID, &toID, &unitPrice, &totalCost, &invoice, &supplier,
		&recipientKind, &recipientID, &rName, &sourceIssueID, &auditID, &auditItemID,
		&t.Reason, &t.Notes, &t.ActorID, &t.IdempotencyKey, &t.Fingerprint, &t.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	switch t.Type {
	case TransactionTypePurchase:
		t.Detail = PurchaseDetail{LocationID: deref(locationID), UnitPrice: unitPrice.Decimal, TotalCost: totalCost.Decimal, InvoiceNumber: invoice, Supplier: supplier}
	case TransactionTypeIssue:
		d := IssueDetail{LocationID: deref(locationID)}
		if recipientKind != "" {
			d.Recipient = &Recipient{Kind: RecipientKind(recipientKind), ID: deref(recipientID), Name: rName}
		}
		t.Detail = d
	case TransactionTypeTransfer:
		t.Detail = TransferDetail{FromLocationID: deref(fromID), ToLocationID: deref(toID)}
	case TransactionTypeReturn:
		t.Detail = ReturnDetail{LocationID: deref(locationID), SourceIssueID: deref(sourceIssueID)}
	case TransactionTypeAdjustment:
		t.Detail = AdjustmentDetail{LocationID: deref(locationID), AuditID: deref(auditID), AuditItemID: deref(auditItemID)}
	default:
		return Transaction{}, fmt.Errorf("inventory: unknown transaction type %q in ledger", t.Type)
	}
	return t, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func nullable(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func getTransaction(ctx context.Context, q db.DBTX, where string, arg any) (Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM inventory_transactions WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("inventory: transaction %v: %w", arg, shared.ErrNotFound)
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("inventory: load transaction: %w", err)
	}
	return t, nil
}

func findByIdempotencyKey(ctx context.Context, q db.DBTX, key string) (Transaction, bool, error) {
	t, err := getTransaction(ctx, q, `idempotency_key = $1`, key)
	if errors.Is(err, shared.ErrNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return t, true, nil
}

// GetStock reads the committed quantity; a missing row is zero.
func (r *Repository) GetStock(ctx context.Context, itemID, locationID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT quantity FROM stock WHERE item_id = $1 AND location_id = $2`, itemID, locationID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, db.Classify("get stock", err)
	}
	return qty, nil
}

// ListStock returns every stock row of an item.
func (r *Repository) ListStock(ctx context.Context, itemID int64) ([]Stock, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, location_id, quantity, updated_at FROM stock WHERE item_id = $1 ORDER BY location_id`, itemID)
	if err != nil {
		return nil, db.Classify("list stock", err)
	}
	defer rows.Close()
	var out []Stock
	for rows.Next() {
		var st Stock
		if err := rows.Scan(&st.ItemID, &st.LocationID, &st.Quantity, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetTransaction loads a ledger entry by id.
func (r *Repository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return getTransaction(ctx, r.pool, `id = $1`, id)
}

// GetTransactionByNumber loads a ledger entry by number.
func (r *Repository) GetTransactionByNumber(ctx context.Context, number string) (Transaction, error) {
	return getTransaction(ctx, r.pool, `number = $1`, number)
}

// FindByIdempotencyKey loads the committed entry recorded under key.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error) {
	return findByIdempotencyKey(ctx, r.pool, key)
}

// ListTransactions lists entries newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM inventory_transactions WHERE 1=1`
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		query += strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args)))
	}
	if filter.WarehouseType != "" {
		add(` AND warehouse_type = ?`, filter.WarehouseType)
	}
	if filter.Type != "" {
		add(` AND tx_type = ?`, string(filter.Type))
	}
	if filter.ItemID > 0 {
		add(` AND item_id = ?`, filter.ItemID)
	}
	if filter.LocationID > 0 {
		add(` AND (location_id = ? OR from_location_id = ? OR to_location_id = ?)`, filter.LocationID)
	}
	if filter.ActorID > 0 {
		add(` AND actor_id = ?`, filter.ActorID)
	}
	if !filter.From.IsZero() {
		add(` AND created_at >= ?`, filter.From)
	}
	if !filter.To.IsZero() {
		add(` AND created_at <= ?`, filter.To)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	add(` LIMIT ?`, filter.Limit)
	add(` OFFSET ?`, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify("list transactions", err)
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepo) FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error) {
	return findByIdempotencyKey(ctx, r.tx, key)
}

func (r *txRepo) GetItem(ctx context.Context, id int64) (ItemRef, error) {
	var it ItemRef
	err := r.tx.QueryRow(ctx, `SELECT id, warehouse_type, location_id, active FROM items WHERE id = $1`, id).
		Scan(&it.ID, &it.WarehouseType, &it.LocationID, &it.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ItemRef{}, fmt.Errorf("inventory: item %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return ItemRef{}, fmt.Errorf("inventory: load item: %w", err)
	}
	return it, nil
}

func (r *txRepo) GetLocation(ctx context.Context, id int64) (LocationRef, error) {
	var loc LocationRef
	err := r.tx.QueryRow(ctx, `SELECT id, warehouse_type, active FROM locations WHERE id = $1`, id).
		Scan(&loc.ID, &loc.WarehouseType, &loc.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return LocationRef{}, fmt.Errorf("inventory: location %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return LocationRef{}, fmt.Errorf("inventory: load location: %w", err)
	}
	return loc, nil
}

func (r *txRepo) LockStock(ctx context.Context, itemID, locationID int64, create bool) (decimal.Decimal, bool, error) {
	if create {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock (item_id, location_id, quantity) VALUES ($1, $2, 0) ON CONFLICT (item_id, location_id) DO NOTHING`, itemID, locationID); err != nil {
			return decimal.Zero, false, fmt.Errorf("inventory: ensure stock row: %w", err)
		}
	}
	var qty decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT quantity FROM stock WHERE item_id = $1 AND location_id = $2 FOR UPDATE`, itemID, locationID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("inventory: lock stock: %w", err)
	}
	return qty, true, nil
}

func (r *txRepo) SetStock(ctx context.Context, itemID, locationID int64, qty decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock SET quantity = $3, updated_at = NOW() WHERE item_id = $1 AND location_id = $2`, itemID, locationID, qty)
	if db.IsCheckViolation(err, "stock_quantity_non_negative") {
		return &InsufficientQuantityError{ItemID: itemID, LocationID: locationID, Available: decimal.Zero, Requested: qty.Abs()}
	}
	if err != nil {
		return fmt.Errorf("inventory: write stock: %w", err)
	}
	return nil
}

func (r *txRepo) SetItemLocation(ctx context.Context, itemID, locationID int64) error {
	if _, err := r.tx.Exec(ctx, `UPDATE items SET location_id = $2, updated_at = NOW() WHERE id = $1`, itemID, locationID); err != nil {
		return fmt.Errorf("inventory: move item location: %w", err)
	}
	return nil
}

func (r *txRepo) LockIssue(ctx context.Context, id int64) (Transaction, error) {
	return getTransaction(ctx, r.tx, `id = $1 FOR UPDATE`, id)
}

func (r *txRepo) ReturnedQuantity(ctx context.Context, sourceIssueID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM inventory_transactions WHERE tx_type = 'RETURN' AND source_issue_id = $1`, sourceIssueID).Scan(&qty)
	if err != nil {
		return decimal.Zero, fmt.Errorf("inventory: returned quantity: %w", err)
	}
	return qty, nil
}

// NextSequence allocates the next number in scope. The upsert holds the counter row lock until
// commit and a rollback undoes the increment.
func (r *txRepo) NextSequence(ctx context.Context, scope NumberScope) (int, error) {
	var seq int
	err := r.tx.QueryRow(ctx, `INSERT INTO transaction_sequences (warehouse_type, tx_type, period, seq)
VALUES ($1, $2, $3, (
    SELECT COALESCE(MAX(seq), 0) + 1 FROM inventory_transactions
    WHERE warehouse_type = $1 AND tx_type = $2 AND period = $3
))
ON CONFLICT (warehouse_type, tx_type, period) DO UPDATE SET seq = transaction_sequences.seq + 1
RETURNING seq`, scope.WarehouseType, string(scope.Type), scope.Period).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("inventory: next sequence: %w", err)
	}
	return seq, nil
}

func (r *txRepo) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	var (
		locationID, fromID, toID, sourceIssueID, auditID, auditItemID, recipientID *int64
		unitPrice, totalCost                                                       decimal.NullDecimal
		invoice, supplier, recipientKind, recipientName                            string
	)
	switch d := t.Detail.(type) {
	case PurchaseDetail:
		locationID = nullable(d.LocationID)
		unitPrice = decimal.NewNullDecimal(d.UnitPrice)
		totalCost = decimal.NewNullDecimal(d.TotalCost)
		invoice, supplier = d.InvoiceNumber, d.Supplier
	case IssueDetail:
		locationID = nullable(d.LocationID)
		if d.Recipient != nil {
			recipientKind, recipientID, recipientName = string(d.Recipient.Kind), nullable(d.Recipient.ID), d.Recipient.Name
		}
	case TransferDetail:
		fromID, toID = nullable(d.FromLocationID), nullable(d.ToLocationID)
	case ReturnDetail:
		locationID, sourceIssueID = nullable(d.LocationID), nullable(d.SourceIssueID)
	case AdjustmentDetail:
		locationID, auditID, auditItemID = nullable(d.LocationID), nullable(d.AuditID), nullable(d.AuditItemID)
	default:
		return Transaction{}, fmt.Errorf("inventory: unsupported detail %T", t.Detail)
	}
	t.CreatedAt = t.CreatedAt.UTC().Truncate(time.Microsecond)
	var key *string
	if t.IdempotencyKey != "" {
		key = &t.IdempotencyKey
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transactions (
    number, warehouse_type, tx_type, period, seq, item_id, quantity, balance_after,
    location_id, from_location_id, to_location_id, unit_price, total_cost, invoice_number, supplier,
    recipient_kind, recipient_id, recipient_name, source_issue_id, audit_id, audit_item_id,
    reason, notes, actor_id, idempotency_key, request_fingerprint, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
RETURNING id`,
		t.Number, t.WarehouseType, string(t.Type), t.Period, t.Sequence, t.ItemID, t.Quantity, t.BalanceAfter,
		locationID, fromID, toID, unitPrice, totalCost, invoice, supplier,
		recipientKind, recipientID, recipientName, sourceIssueID, auditID, auditItemID,
		t.Reason, t.Notes, t.ActorID, key, t.Fingerprint, t.CreatedAt,
	).Scan(&t.ID)
	if db.IsUniqueViolation(err, "inventory_transactions_idempotency_key") {
		return Transaction{}, ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("inventory: insert transaction: %w", err)
	}
	return t, nil
}
