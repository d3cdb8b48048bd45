package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/inventory"
	"github.com/stocklane/stocklane/internal/platform/db"
)

// Repository persists deduction records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations a deduction needs.
type TxRepository interface {
	// InsertDeductionRecord writes the (shipment_ref, sku) marker and reports
	// whether this call created it. A false return means the pair was already
	// deducted; the unique constraint makes this race-free.
	InsertDeductionRecord(ctx context.Context, shipmentRef, sku string, quantity int64) (bool, error)
	GetAvailableForUpdate(ctx context.Context, warehouseID int64, sku string) (int64, error)
	ApplyStockDelta(ctx context.Context, warehouseID int64, sku string, delta int64) error
	InsertMovement(ctx context.Context, m inventory.Movement) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("fulfillment repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListDeducted returns the set of SKUs already deducted for one shipment.
func (r *Repository) ListDeducted(ctx context.Context, shipmentRef string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT sku FROM deduction_records WHERE shipment_ref=$1`, shipmentRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	deducted := map[string]bool{}
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, err
		}
		deducted[sku] = true
	}
	return deducted, rows.Err()
}

// GetAvailable reads the current warehouse quantity without locking.
func (r *Repository) GetAvailable(ctx context.Context, warehouseID int64, sku string) (int64, error) {
	var available int64
	err := r.pool.QueryRow(ctx, `SELECT warehouse_available FROM inventory_levels WHERE warehouse_id=$1 AND sku=$2`,
		warehouseID, sku).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return available, err
}

// DeleteRecordsOlderThan trims the deduction ledger for retention.
func (r *Repository) DeleteRecordsOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM deduction_records WHERE deducted_at < NOW() - $1::interval`,
		olderThan.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) InsertDeductionRecord(ctx context.Context, shipmentRef, sku string, quantity int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `INSERT INTO deduction_records (shipment_ref, sku, quantity, deducted_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (shipment_ref, sku) DO NOTHING`, shipmentRef, sku, quantity)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepository) GetAvailableForUpdate(ctx context.Context, warehouseID int64, sku string) (int64, error) {
	var available int64
	err := r.tx.QueryRow(ctx, `SELECT warehouse_available FROM inventory_levels WHERE warehouse_id=$1 AND sku=$2 FOR UPDATE`,
		warehouseID, sku).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return available, err
}

func (r *txRepository) ApplyStockDelta(ctx context.Context, warehouseID int64, sku string, delta int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_levels (warehouse_id, sku, warehouse_available, fulfillment_available, updated_at)
VALUES ($1,$2,$3,0,NOW())
ON CONFLICT (warehouse_id, sku) DO UPDATE SET warehouse_available = inventory_levels.warehouse_available + EXCLUDED.warehouse_available, updated_at=NOW()`,
		warehouseID, sku, delta)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m inventory.Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_movements (warehouse_id, sku, qty_delta, ref_module, ref_id, note, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.WarehouseID, m.SKU, m.QtyDelta, m.RefModule, m.RefID, m.Note, m.PostedAt)
	return err
}
