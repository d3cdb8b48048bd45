package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	UpsertFulfillmentAvailable(ctx context.Context, line SyncLine) (int64, error)
	InsertMovement(ctx context.Context, m Movement) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) GetLevel(ctx context.Context, warehouseID int64, sku string) (Level, error) {
	var level Level
	err := r.pool.QueryRow(ctx, `SELECT warehouse_id, sku, warehouse_available, fulfillment_available, synced_at, updated_at
FROM inventory_levels WHERE warehouse_id=$1 AND sku=$2`, warehouseID, sku).
		Scan(&level.WarehouseID, &level.SKU, &level.WarehouseAvailable, &level.FulfillmentAvailable, &level.SyncedAt, &level.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{WarehouseID: warehouseID, SKU: sku}, ErrLevelNotFound
		}
		return Level{}, err
	}
	return level, nil
}

func (r *Repository) ListLevels(ctx context.Context, warehouseID int64, limit int) ([]Level, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, sku, warehouse_available, fulfillment_available, synced_at, updated_at
FROM inventory_levels WHERE warehouse_id=$1 ORDER BY sku LIMIT $2`, warehouseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := []Level{}
	for rows.Next() {
		var level Level
		if err := rows.Scan(&level.WarehouseID, &level.SKU, &level.WarehouseAvailable, &level.FulfillmentAvailable, &level.SyncedAt, &level.UpdatedAt); err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, warehouse_id, sku, qty_delta, ref_module, ref_id, note, posted_at
FROM inventory_movements
WHERE warehouse_id=$1 AND sku=$2 AND posted_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY posted_at ASC, id ASC
LIMIT $5`, filter.WarehouseID, filter.SKU, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.WarehouseID, &m.SKU, &m.QtyDelta, &m.RefModule, &m.RefID, &m.Note, &m.PostedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) UpsertFulfillmentAvailable(ctx context.Context, line SyncLine) (int64, error) {
	var prev int64
	err := r.tx.QueryRow(ctx, `SELECT fulfillment_available FROM inventory_levels
WHERE warehouse_id=$1 AND sku=$2 FOR UPDATE`, line.WarehouseID, line.SKU).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO inventory_levels (warehouse_id, sku, warehouse_available, fulfillment_available, synced_at, updated_at)
VALUES ($1,$2,0,$3,$4,NOW())
ON CONFLICT (warehouse_id, sku) DO UPDATE SET fulfillment_available=EXCLUDED.fulfillment_available, synced_at=EXCLUDED.synced_at, updated_at=NOW()`,
		line.WarehouseID, line.SKU, line.Available, line.ObservedAt)
	return prev, err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_movements (warehouse_id, sku, qty_delta, ref_module, ref_id, note, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.WarehouseID, m.SKU, m.QtyDelta, m.RefModule, m.RefID, m.Note, m.PostedAt)
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
