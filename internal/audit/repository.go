package audit

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

// Repository persists audits in PostgreSQL.
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

// WithTx runs fn in a read-committed transaction; the audit row is serialised by LockAudit.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const auditColumns = `id, warehouse_type, scope, COALESCE(scope_target_id, 0), status, items_counted, matched_count,
discrepant_count, total_shortage, total_surplus, notes, created_by, created_at, started_at, completed_at,
cancelled_at, adjustments_applied_at`

func scanAudit(row pgx.Row) (Audit, error) {
	var a Audit
	err := row.Scan(&a.ID, &a.WarehouseType, &a.Scope, &a.TargetID, &a.Status, &a.ItemsCounted, &a.Matched,
		&a.Discrepant, &a.TotalShortage, &a.TotalSurplus, &a.Notes, &a.CreatedBy, &a.CreatedAt, &a.StartedAt,
		&a.CompletedAt, &a.CancelledAt, &a.AdjustmentsAppliedAt)
	return a, err
}

func getAudit(ctx context.Context, q db.DBTX, id int64, suffix string) (Audit, error) {
	a, err := scanAudit(q.QueryRow(ctx, `SELECT `+auditColumns+` FROM audits WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Audit{}, fmt.Errorf("audit %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Audit{}, fmt.Errorf("audit: load audit: %w", err)
	}
	return a, nil
}

const itemColumns = `id, audit_id, item_id, location_id, category_id, system_quantity, actual_quantity, difference,
notes, counted_by, counted_at, COALESCE(adjustment_transaction_id, 0)`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.AuditID, &it.ItemID, &it.LocationID, &it.CategoryID, &it.SystemQuantity,
		&it.ActualQuantity, &it.Difference, &it.Notes, &it.CountedBy, &it.CountedAt, &it.AdjustmentTransactionID)
	return it, err
}

func listItems(ctx context.Context, q db.DBTX, auditID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM audit_items WHERE audit_id = $1 ORDER BY id`, auditID)
	if err != nil {
		return nil, db.Classify("list audit items", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetAudit loads an audit by id.
func (r *Repository) GetAudit(ctx context.Context, id int64) (Audit, error) {
	return getAudit(ctx, r.pool, id, "")
}

// ListItems returns the lines of an audit in counting order.
func (r *Repository) ListItems(ctx context.Context, auditID int64) ([]Item, error) {
	return listItems(ctx, r.pool, auditID)
}

// ListAudits returns audits newest first.
func (r *Repository) ListAudits(ctx context.Context, filter Filter) ([]Audit, error) {
	query := `SELECT ` + auditColumns + ` FROM audits WHERE 1=1`
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		query += strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args)))
	}
	if filter.WarehouseType != "" {
		add(` AND warehouse_type = ?`, filter.WarehouseType)
	}
	if filter.Status != "" {
		add(` AND status = ?`, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	add(` LIMIT ?`, filter.Limit)
	add(` OFFSET ?`, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify("list audits", err)
	}
	defer rows.Close()
	var out []Audit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan audit: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAdjustmentTransaction links a line to the ADJUSTMENT that reconciled it.
func (r *Repository) SetAdjustmentTransaction(ctx context.Context, auditItemID, transactionID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE audit_items SET adjustment_transaction_id = $2 WHERE id = $1 AND adjustment_transaction_id IS NULL`, auditItemID, transactionID)
	if err != nil {
		return db.Classify("link adjustment", err)
	}
	return nil
}

// MarkAdjustmentsApplied stamps the audit once every line has been reconciled.
func (r *Repository) MarkAdjustmentsApplied(ctx context.Context, auditID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE audits SET adjustments_applied_at = $2 WHERE id = $1 AND adjustments_applied_at IS NULL`, auditID, at)
	if err != nil {
		return db.Classify("mark adjustments applied", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: audit %d adjustments already applied", shared.ErrInvalidAuditState, auditID)
	}
	return nil
}

func (r *txRepo) InsertAudit(ctx context.Context, a Audit) (Audit, error) {
	var target *int64
	if a.TargetID > 0 {
		target = &a.TargetID
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO audits (warehouse_type, scope, scope_target_id, status, notes, created_by, created_at, total_shortage, total_surplus)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0)
RETURNING id`, a.WarehouseType, string(a.Scope), target, string(a.Status), a.Notes, a.CreatedBy, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return Audit{}, fmt.Errorf("audit: insert audit: %w", err)
	}
	return a, nil
}

func (r *txRepo) LockAudit(ctx context.Context, id int64) (Audit, error) {
	return getAudit(ctx, r.tx, id, " FOR UPDATE")
}

func (r *txRepo) UpdateAudit(ctx context.Context, a Audit) error {
	_, err := r.tx.Exec(ctx, `UPDATE audits SET status = $2, items_counted = $3, matched_count = $4, discrepant_count = $5,
total_shortage = $6, total_surplus = $7, started_at = $8, completed_at = $9, cancelled_at = $10
WHERE id = $1`, a.ID, string(a.Status), a.ItemsCounted, a.Matched, a.Discrepant, a.TotalShortage, a.TotalSurplus,
		a.StartedAt, a.CompletedAt, a.CancelledAt)
	if err != nil {
		return fmt.Errorf("audit: update audit: %w", err)
	}
	return nil
}

func (r *txRepo) UpsertItem(ctx context.Context, it Item) (Item, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO audit_items (audit_id, item_id, location_id, category_id, system_quantity, actual_quantity, difference, notes, counted_by, counted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (audit_id, item_id, location_id) DO UPDATE SET
    system_quantity = EXCLUDED.system_quantity,
    actual_quantity = EXCLUDED.actual_quantity,
    difference = EXCLUDED.difference,
    notes = EXCLUDED.notes,
    counted_by = EXCLUDED.counted_by,
    counted_at = EXCLUDED.counted_at
RETURNING `+itemColumns,
		it.AuditID, it.ItemID, it.LocationID, it.CategoryID, it.SystemQuantity, it.ActualQuantity, it.Difference,
		it.Notes, it.CountedBy, it.CountedAt)
	out, err := scanItem(row)
	if err != nil {
		return Item{}, fmt.Errorf("audit: upsert item: %w", err)
	}
	return out, nil
}

func (r *txRepo) ListItems(ctx context.Context, auditID int64) ([]Item, error) {
	return listItems(ctx, r.tx, auditID)
}
