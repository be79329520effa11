package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyGuardRejectsInFlightDuplicate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := NewIdempotencyGuard(client, time.Minute)
	ctx := context.Background()

	release, err := guard.Begin(ctx, "purchase-1")
	require.NoError(t, err)

	_, err = guard.Begin(ctx, "purchase-1")
	require.ErrorIs(t, err, ErrRequestInFlight)
	require.True(t, errors.Is(err, ErrRetryable))

	release()
	release2, err := guard.Begin(ctx, "purchase-1")
	require.NoError(t, err)
	release2()
}

func TestIdempotencyGuardExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := NewIdempotencyGuard(client, 10*time.Second)
	_, err := guard.Begin(context.Background(), "k")
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)
	_, err = guard.Begin(context.Background(), "k")
	require.NoError(t, err)
}

func TestIdempotencyGuardNoopWithoutKey(t *testing.T) {
	var guard *IdempotencyGuard
	release, err := guard.Begin(context.Background(), "k")
	require.NoError(t, err)
	release()

	guard = NewIdempotencyGuard(nil, 0)
	release, err = guard.Begin(context.Background(), "")
	require.NoError(t, err)
	release()
}

func TestFingerprintStable(t *testing.T) {
	type req struct {
		ItemID   int64
		Quantity string
	}
	a, err := Fingerprint(req{ItemID: 1, Quantity: "5"})
	require.NoError(t, err)
	b, err := Fingerprint(req{ItemID: 1, Quantity: "5"})
	require.NoError(t, err)
	c, err := Fingerprint(req{ItemID: 1, Quantity: "6"})
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}
