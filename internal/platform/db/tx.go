package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so repositories can run the same
// statements inside and outside a transaction.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// TxOptions controls isolation and the upper bound on how long a unit of work may run.
type TxOptions struct {
	IsoLevel pgx.TxIsoLevel
	Timeout  time.Duration
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return WithTxOptions(ctx, pool, TxOptions{IsoLevel: pgx.RepeatableRead}, func(_ context.Context, tx pgx.Tx) error {
		return fn(tx)
	})
}

// WithTxOptions executes fn inside a transaction bounded by opts.Timeout. The callback receives
// the derived context and must use it for every statement. Infrastructure failures are returned
// as *RetryableError; errors produced by fn pass through untouched unless they are themselves
// infrastructure failures.
func WithTxOptions(ctx context.Context, pool *pgxpool.Pool, opts TxOptions, fn func(context.Context, pgx.Tx) error) error {
	if pool == nil {
		return errors.New("platform/db: pool not initialised")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: opts.IsoLevel})
	if err != nil {
		return Classify("begin tx", err)
	}

	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, tx); err != nil {
		return Classify("tx", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify("commit tx", err)
	}

	return nil
}

// RetryableError wraps an infrastructure failure the caller may retry.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("platform/db: %s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Is makes RetryableError match shared.ErrRetryable.
func (e *RetryableError) Is(target error) bool { return target == shared.ErrRetryable }

// SQLSTATE codes treated as transient.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// Classify converts transient driver errors into *RetryableError and leaves everything else alone.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) || shared.IsDomainError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &RetryableError{Op: op, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
			return &RetryableError{Op: op, Err: err}
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return &RetryableError{Op: op, Err: err}
	}
	return err
}

// IsUniqueViolation reports whether err is a unique-constraint violation. When constraint is not
// empty the violated constraint name must match too.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsCheckViolation reports whether err is a CHECK constraint violation.
func IsCheckViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeCheckViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
