package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFulfillmentSync refreshes fulfillment-network stock levels.
	TaskFulfillmentSync = "fulfillment:sync"
	// TaskLedgerCleanup trims old deduction records and idempotency keys.
	TaskLedgerCleanup = "ledger:cleanup"
)

// FulfillmentSyncPayload carries scheduling metadata. An empty warehouse
// code syncs every active warehouse.
type FulfillmentSyncPayload struct {
	WarehouseCode string    `json:"warehouse_code,omitempty"`
	ScheduledFor  time.Time `json:"scheduled_for"`
}

// NewFulfillmentSyncTask constructs an Asynq task for the stock sync.
func NewFulfillmentSyncTask(payload FulfillmentSyncPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFulfillmentSync, body, asynq.Queue(QueueDefault)), nil
}

// LedgerCleanupPayload carries the retention window.
type LedgerCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewLedgerCleanupTask constructs an Asynq task for ledger retention.
func NewLedgerCleanupTask(payload LedgerCleanupPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerCleanup, body, asynq.Queue(QueueDefault)), nil
}
