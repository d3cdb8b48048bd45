package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// DeductionLedgerPort trims the deduction ledger.
type DeductionLedgerPort interface {
	DeleteRecordsOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyPort trims stored idempotency keys.
type IdempotencyPort interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Cleaner removes deduction records and idempotency keys past the
// retention window. Records inside the window stay so replayed shipments
// keep their at-most-once guarantee.
type Cleaner struct {
	ledger      DeductionLedgerPort
	idempotency IdempotencyPort
	retention   time.Duration
	logger      *slog.Logger
}

// NewCleaner constructs a Cleaner.
func NewCleaner(ledger DeductionLedgerPort, idem IdempotencyPort, retention time.Duration, logger *slog.Logger) *Cleaner {
	return &Cleaner{ledger: ledger, idempotency: idem, retention: retention, logger: logger}
}

// HandleTask processes TaskLedgerCleanup tasks.
func (c *Cleaner) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload LedgerCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = c.retention
	}
	removed, err := c.ledger.DeleteRecordsOlderThan(ctx, retention)
	if err != nil {
		return err
	}
	if c.idempotency != nil {
		if err := c.idempotency.Cleanup(ctx, retention); err != nil {
			return err
		}
	}
	c.logger.Info("ledger cleanup finished",
		slog.Duration("retention", retention),
		slog.Int64("deduction_records_removed", removed))
	return nil
}
