package shared

import "errors"

// Domain error kinds shared by catalog, inventory and audit. Callers match them with errors.Is;
// packages wrap them with entity ids or return structured variants that unwrap to them.
var (
	// ErrNotFound indicates a referenced item, category, location, transaction or audit is missing.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input that is not a quantity or price problem.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidQuantity indicates a non-positive or negative quantity where it is not allowed.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidPrice indicates a negative unit price.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInsufficientQuantity indicates a decrement larger than the current stock.
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	// ErrDuplicateBarcode indicates an active item already holds the barcode.
	ErrDuplicateBarcode = errors.New("duplicate barcode")
	// ErrDuplicateCode indicates a category, item or location code collision.
	ErrDuplicateCode = errors.New("duplicate code")
	// ErrInvalidTransfer indicates identical locations or an item absent at the source.
	ErrInvalidTransfer = errors.New("invalid transfer")
	// ErrInvalidReturn indicates a return that does not match its originating issue.
	ErrInvalidReturn = errors.New("invalid return")
	// ErrInvalidAuditState indicates a mutation of a terminal audit or an empty completion.
	ErrInvalidAuditState = errors.New("invalid audit state")
	// ErrInvalidAuditScope indicates a scope/target mismatch on an audit.
	ErrInvalidAuditScope = errors.New("invalid audit scope")
	// ErrStaleCount indicates stock moved between an audit count and its adjustment.
	ErrStaleCount = errors.New("stale count")
	// ErrIdempotencyConflict indicates a reused idempotency key with a different payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different request")
	// ErrRetryable marks infrastructure failures (timeouts, lock contention, lost connections)
	// that the caller may retry.
	ErrRetryable = errors.New("temporary failure, retry")
)

// IsDomainError reports whether err belongs to the caller-visible domain taxonomy.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrValidation, ErrInvalidQuantity, ErrInvalidPrice, ErrInsufficientQuantity,
		ErrDuplicateBarcode, ErrDuplicateCode, ErrInvalidTransfer, ErrInvalidReturn,
		ErrInvalidAuditState, ErrInvalidAuditScope, ErrStaleCount, ErrIdempotencyConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
