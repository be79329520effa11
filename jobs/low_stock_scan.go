package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// LowStockSource lists items under their minimum quantity for one warehouse type.
type LowStockSource interface {
	LowStock(ctx context.Context, warehouseType string) ([]catalog.LowStockItem, error)
}

// LowStockGauge receives the per-warehouse count.
type LowStockGauge interface {
	SetLowStock(warehouseType string, count int)
}

// LowStockScanJob checks every warehouse type concurrently and publishes the counts.
type LowStockScanJob struct {
	Source     LowStockSource
	Gauge      LowStockGauge
	Warehouses shared.WarehouseTypes
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the scan handler.
func NewLowStockScanJob(source LowStockSource, gauge LowStockGauge, warehouses shared.WarehouseTypes, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Source: source, Gauge: gauge, Warehouses: warehouses, Logger: logger, Metrics: metrics}
}

// Handle executes one scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Source == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("low stock scan: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	types, err := j.targets(payload.WarehouseTypes)
	if err != nil {
		return fmt.Errorf("low stock scan: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskLowStockScan)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := j.logger().With(slog.String("correlation_id", payload.CorrelationID))
	start := time.Now()
	counts := make([]int, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, wt := range types {
		g.Go(func() error {
			items, err := j.Source.LowStock(gctx, wt)
			if err != nil {
				return fmt.Errorf("low stock scan %s: %w", wt, err)
			}
			counts[i] = len(items)
			if j.Gauge != nil {
				j.Gauge.SetLowStock(wt, len(items))
			}
			for _, it := range items {
				logger.Warn("item below minimum quantity",
					slog.String("warehouse_type", wt),
					slog.String("code", it.Code),
					slog.String("total", it.Total.String()),
					slog.String("min_quantity", it.MinQuantity.String()),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("low stock scan failed", slog.Any("error", err))
		return err
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	logger.Info("completed low stock scan",
		slog.Int("warehouse_types", len(types)),
		slog.Int("items", total),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *LowStockScanJob) targets(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return append([]string(nil), j.Warehouses...), nil
	}
	out := make([]string, 0, len(requested))
	for _, wt := range requested {
		code, err := j.Warehouses.Normalize(wt)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
