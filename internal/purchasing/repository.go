package purchasing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/inventory"
	"github.com/stocklane/stocklane/internal/platform/db"
	"github.com/stocklane/stocklane/internal/shared"
)

// Repository persists purchasing data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations receiving needs. Stock
// level and movement writes live here too so one commit covers counters,
// inventory and backorders together.
type TxRepository interface {
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	GetItems(ctx context.Context, poID int64) ([]PurchaseOrderItem, error)
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertItem(ctx context.Context, item PurchaseOrderItem) (int64, error)
	DeleteItem(ctx context.Context, poID, itemID int64) error
	DeletePO(ctx context.Context, poID int64) error
	UpdatePOMoney(ctx context.Context, po PurchaseOrder) error
	AddItemQuantities(ctx context.Context, itemID, receivedDelta, damagedDelta int64) error
	UpdatePOStatus(ctx context.Context, id int64, status POStatus, arrivedAt *time.Time) error
	InsertBackorder(ctx context.Context, bo Backorder) (int64, error)
	CountOpenBackorders(ctx context.Context, poID int64) (int, error)
	ApplyStockDelta(ctx context.Context, warehouseID int64, sku string, delta int64) error
	InsertMovement(ctx context.Context, m inventory.Movement) error
	ObserveSupplierLeadTime(ctx context.Context, supplierID int64, days int) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("purchasing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const poColumns = `id, number, supplier_id, warehouse_id, status, subtotal, shipping, tax, other_cost, total, expected_at, arrived_at, note, created_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.WarehouseID, &po.Status,
		&po.Subtotal, &po.Shipping, &po.Tax, &po.OtherCost, &po.Total,
		&po.ExpectedAt, &po.ArrivedAt, &po.Note, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

// GetPO fetches the order and its items outside any transaction.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	items, err := queryItems(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

// ListPOs returns orders newest first, optionally filtered by status.
func (r *Repository) ListPOs(ctx context.Context, status POStatus, limit int) ([]PurchaseOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+poColumns+` FROM purchase_orders
WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC, id DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

// ListBackorders returns every backorder row of one order.
func (r *Repository) ListBackorders(ctx context.Context, poID int64) ([]Backorder, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, po_number, supplier_id, sku, quantity, unit_cost, status, created_at
FROM backorders WHERE po_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	backorders := []Backorder{}
	for rows.Next() {
		var bo Backorder
		if err := rows.Scan(&bo.ID, &bo.POID, &bo.PONumber, &bo.SupplierID, &bo.SKU, &bo.Quantity, &bo.UnitCost, &bo.Status, &bo.CreatedAt); err != nil {
			return nil, err
		}
		backorders = append(backorders, bo)
	}
	return backorders, rows.Err()
}

// ResolveBackorder flips one backorder to RESOLVED.
func (r *Repository) ResolveBackorder(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE backorders SET status=$1 WHERE id=$2 AND status=$3`,
		BackorderStatusResolved, id, BackorderStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func queryItems(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, poID int64) ([]PurchaseOrderItem, error) {
	rows, err := q.Query(ctx, `SELECT id, po_id, sku, quantity_ordered, quantity_received, quantity_damaged, unit_cost
FROM purchase_order_items WHERE po_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PurchaseOrderItem{}
	for rows.Next() {
		var item PurchaseOrderItem
		if err := rows.Scan(&item.ID, &item.POID, &item.SKU, &item.QuantityOrdered, &item.QuantityReceived, &item.QuantityDamaged, &item.UnitCost); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(r.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) GetItems(ctx context.Context, poID int64) ([]PurchaseOrderItem, error) {
	return queryItems(ctx, r.tx, poID)
}

func (r *txRepository) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, warehouse_id, status, subtotal, shipping, tax, other_cost, total, expected_at, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		po.Number, po.SupplierID, po.WarehouseID, po.Status, po.Subtotal, po.Shipping, po.Tax, po.OtherCost, po.Total, po.ExpectedAt, po.Note, po.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item PurchaseOrderItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (po_id, sku, quantity_ordered, quantity_received, quantity_damaged, unit_cost)
VALUES ($1,$2,$3,0,0,$4) RETURNING id`,
		item.POID, item.SKU, item.QuantityOrdered, item.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepository) DeleteItem(ctx context.Context, poID, itemID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE id=$1 AND po_id=$2`, itemID, poID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) DeletePO(ctx context.Context, poID int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE po_id=$1`, poID); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id=$1`, poID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) UpdatePOMoney(ctx context.Context, po PurchaseOrder) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET subtotal=$1, shipping=$2, tax=$3, other_cost=$4, total=$5 WHERE id=$6`,
		po.Subtotal, po.Shipping, po.Tax, po.OtherCost, po.Total, po.ID)
	return err
}

func (r *txRepository) AddItemQuantities(ctx context.Context, itemID, receivedDelta, damagedDelta int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_items
SET quantity_received = quantity_received + $1, quantity_damaged = quantity_damaged + $2
WHERE id=$3 AND quantity_received + quantity_damaged + $1 + $2 <= quantity_ordered`,
		receivedDelta, damagedDelta, itemID)
	if err != nil {
		return err
	}
	// Guard against concurrent writers slipping past the service-level check.
	if tag.RowsAffected() == 0 {
		return shared.ErrConflict
	}
	return nil
}

func (r *txRepository) UpdatePOStatus(ctx context.Context, id int64, status POStatus, arrivedAt *time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$1, arrived_at=COALESCE($2, arrived_at) WHERE id=$3`,
		status, arrivedAt, id)
	return err
}

func (r *txRepository) InsertBackorder(ctx context.Context, bo Backorder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO backorders (po_id, po_number, supplier_id, sku, quantity, unit_cost, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		bo.POID, bo.PONumber, bo.SupplierID, bo.SKU, bo.Quantity, bo.UnitCost, bo.Status, bo.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) CountOpenBackorders(ctx context.Context, poID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM backorders WHERE po_id=$1 AND status=$2`,
		poID, BackorderStatusPending).Scan(&count)
	return count, err
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

func (r *txRepository) ObserveSupplierLeadTime(ctx context.Context, supplierID int64, days int) error {
	_, err := r.tx.Exec(ctx, `UPDATE suppliers
SET lead_time_avg_days = lead_time_avg_days + ($1 - lead_time_avg_days) / (lead_time_count + 1),
    lead_time_count = lead_time_count + 1
WHERE id=$2`,
		float64(days), supplierID)
	return err
}
