package shared

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// ErrRequestInFlight indicates another request with the same idempotency key is still running.
var ErrRequestInFlight = fmt.Errorf("idempotent request already in flight: %w", ErrRetryable)

// IdempotencyGuard rejects duplicate requests that arrive while the first one is still executing.
// The durable record lives with the ledger row; the guard only covers the in-flight window.
type IdempotencyGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewIdempotencyGuard constructs the guard. A zero ttl falls back to one minute.
func NewIdempotencyGuard(client redis.UniversalClient, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &IdempotencyGuard{client: client, ttl: ttl, prefix: "idem:"}
}

// Begin claims key for the current request. The returned release func must be called once the
// request finished, successfully or not.
func (g *IdempotencyGuard) Begin(ctx context.Context, key string) (func(), error) {
	if g == nil || g.client == nil || key == "" {
		return func() {}, nil
	}
	redisKey := g.prefix + key
	ok, err := g.client.SetNX(ctx, redisKey, time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: idempotency guard: %w", err)
	}
	if !ok {
		return nil, ErrRequestInFlight
	}
	return func() {
		_ = g.client.Del(context.WithoutCancel(ctx), redisKey).Err()
	}, nil
}

// Fingerprint hashes the canonical JSON form of a request with blake2b-256.
func Fingerprint(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("shared: fingerprint: %w", err)
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
