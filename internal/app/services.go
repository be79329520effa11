package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Services bundles the domain services shared by the server and the worker.
type Services struct {
	Catalog   *catalog.Service
	Inventory *inventory.Service
	Audit     *audit.Service
}

// NewServices wires repositories, Redis helpers and metrics into the domain services. redis may
// be nil, which disables the idempotency guard and the audit apply lock.
func NewServices(cfg *Config, pool *pgxpool.Pool, rdb redis.UniversalClient, metrics *observability.Metrics, logger *slog.Logger) (*Services, error) {
	engine, err := cfg.Engine()
	if err != nil {
		return nil, err
	}
	warehouses := cfg.Warehouses()
	activity := shared.NewActivityLogger(pool)

	invOpts := []inventory.Option{
		inventory.WithActivity(activity),
		inventory.WithLogger(logger),
	}
	if metrics != nil {
		invOpts = append(invOpts, inventory.WithMetrics(metrics))
	}
	auditOpts := []audit.Option{
		audit.WithActivity(activity),
		audit.WithLogger(logger),
	}
	if rdb != nil {
		invOpts = append(invOpts, inventory.WithGuard(shared.NewIdempotencyGuard(rdb, cfg.IdempotencyTTL)))
		auditOpts = append(auditOpts, audit.WithLocker(shared.NewLocker(rdb), cfg.AuditLockTTL))
	}

	inv := inventory.NewService(inventory.NewRepository(pool), engine, invOpts...)
	cat := catalog.NewService(catalog.NewRepository(pool), warehouses, inv, activity, logger)
	aud := audit.NewService(audit.NewRepository(pool), cat, inv, warehouses, auditOpts...)
	return &Services{Catalog: cat, Inventory: inv, Audit: aud}, nil
}

// RedisPinger adapts a Redis client to Pinger.
type RedisPinger struct {
	Client redis.UniversalClient
}

// Ping issues PING.
func (p RedisPinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}
