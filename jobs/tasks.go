package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan refreshes the low-stock gauge and logs items under threshold.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskAuditApply posts the adjustments of a completed audit.
	TaskAuditApply = "audit:apply"
)

// LowStockScanPayload limits a scan to the given warehouse types; empty scans all configured.
type LowStockScanPayload struct {
	WarehouseTypes []string `json:"warehouse_types,omitempty"`
	CorrelationID  string   `json:"correlation_id"`
}

// AuditApplyPayload identifies the audit and the actor the adjustments are posted for.
type AuditApplyPayload struct {
	AuditID       int64  `json:"audit_id"`
	ActorID       int64  `json:"actor_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewLowStockScanTask constructs the scan task.
func NewLowStockScanTask(warehouseTypes ...string) (*asynq.Task, error) {
	data, err := json.Marshal(LowStockScanPayload{WarehouseTypes: warehouseTypes, CorrelationID: uuid.NewString()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// NewAuditApplyTask constructs an apply task. The task id is derived from the audit so a second
// enqueue while one is pending or running is rejected by asynq.
func NewAuditApplyTask(auditID, actorID int64) (*asynq.Task, error) {
	if auditID <= 0 || actorID <= 0 {
		return nil, fmt.Errorf("jobs: audit apply needs audit and actor ids")
	}
	data, err := json.Marshal(AuditApplyPayload{AuditID: auditID, ActorID: actorID, CorrelationID: uuid.NewString()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditApply, data, asynq.TaskID(AuditApplyTaskID(auditID))), nil
}

// AuditApplyTaskID is the asynq task id used for an audit's apply task.
func AuditApplyTaskID(auditID int64) string {
	return fmt.Sprintf("audit-apply-%d", auditID)
}
