package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetProduct(ctx context.Context, sku string) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT sku, title, cost, physical_group_id, active, created_at, updated_at
FROM products WHERE sku=$1`, sku).
		Scan(&p.SKU, &p.Title, &p.Cost, &p.PhysicalGroupID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *Repository) ListGroupMembers(ctx context.Context, groupID string) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT sku, title, cost, physical_group_id, active, created_at, updated_at
FROM products WHERE physical_group_id=$1 ORDER BY sku`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.SKU, &p.Title, &p.Cost, &p.PhysicalGroupID, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		members = append(members, p)
	}
	return members, rows.Err()
}

func (r *Repository) UpsertProduct(ctx context.Context, p Product) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO products (sku, title, cost, physical_group_id, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (sku) DO UPDATE SET title=EXCLUDED.title, cost=EXCLUDED.cost, active=EXCLUDED.active, updated_at=NOW()`,
		p.SKU, p.Title, p.Cost, p.PhysicalGroupID, p.Active)
	return err
}

// SetProductGroup assigns (or clears, when groupID is nil) the shared pool id.
func (r *Repository) SetProductGroup(ctx context.Context, sku string, groupID *string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET physical_group_id=$2, updated_at=NOW() WHERE sku=$1`, sku, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// GetMapping reports the master SKU for a seller-facing SKU. The second
// return is false when no mapping exists; that is not an error.
func (r *Repository) GetMapping(ctx context.Context, sellerSKU string) (ChannelMapping, bool, error) {
	var m ChannelMapping
	err := r.pool.QueryRow(ctx, `SELECT seller_sku, master_sku, channel, created_at FROM channel_mappings WHERE seller_sku=$1`, sellerSKU).
		Scan(&m.SellerSKU, &m.MasterSKU, &m.Channel, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChannelMapping{}, false, nil
		}
		return ChannelMapping{}, false, err
	}
	return m, true, nil
}

func (r *Repository) UpsertMapping(ctx context.Context, m ChannelMapping) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO channel_mappings (seller_sku, master_sku, channel, created_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (seller_sku) DO UPDATE SET master_sku=EXCLUDED.master_sku, channel=EXCLUDED.channel`,
		m.SellerSKU, m.MasterSKU, m.Channel)
	return err
}
