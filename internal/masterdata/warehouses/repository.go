package warehouses

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists warehouse master data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, address, active, created_at, updated_at FROM warehouses WHERE id=$1`, id).
		Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, ErrNotFound
		}
		return Warehouse{}, err
	}
	return w, nil
}

// Exists reports whether an active warehouse with the id exists.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM warehouses WHERE id=$1 AND active)`, id).Scan(&exists)
	return exists, err
}

func (r *Repository) List(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, address, active, created_at, updated_at FROM warehouses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.Active, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *Repository) Create(ctx context.Context, w Warehouse) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO warehouses (code, name, address, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW()) RETURNING id`, w.Code, w.Name, w.Address, w.Active).Scan(&id)
	return id, err
}
