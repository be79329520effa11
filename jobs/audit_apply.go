package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// AuditApplier is the audit service method the job drives.
type AuditApplier interface {
	ApplyAdjustments(ctx context.Context, auditID, actorID int64) ([]inventory.Transaction, error)
}

// AuditApplyJob applies a completed audit's adjustments outside the request path.
type AuditApplyJob struct {
	Applier AuditApplier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditApplyJob initialises the apply handler.
func NewAuditApplyJob(applier AuditApplier, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditApplyJob {
	return &AuditApplyJob{Applier: applier, Logger: logger, Metrics: metrics}
}

// Handle runs ApplyAdjustments. Retryable failures, and partial runs stopped by one, are handed
// back to asynq for another attempt; every other domain error ends the task.
func (j *AuditApplyJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Applier == nil {
		return errors.New("audit apply: handler not configured")
	}
	var payload AuditApplyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("audit apply: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.AuditID <= 0 || payload.ActorID <= 0 {
		return fmt.Errorf("audit apply: audit and actor ids required: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskAuditApply)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := j.logger().With(
		slog.Int64("audit_id", payload.AuditID),
		slog.String("correlation_id", payload.CorrelationID),
	)
	posted, err := j.Applier.ApplyAdjustments(ctx, payload.AuditID, payload.ActorID)
	j.Metrics.AddAdjustments(len(posted))
	if err != nil {
		if errors.Is(err, shared.ErrRetryable) || !shared.IsDomainError(err) {
			logger.Warn("audit apply will retry", slog.Int("posted", len(posted)), slog.Any("error", err))
			return err
		}
		logger.Error("audit apply rejected", slog.Int("posted", len(posted)), slog.Any("error", err))
		return fmt.Errorf("audit apply %d: %v: %w", payload.AuditID, err, asynq.SkipRetry)
	}
	logger.Info("audit adjustments applied", slog.Int("posted", len(posted)))
	return nil
}

func (j *AuditApplyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
