package suppliers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists supplier data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx, `SELECT id, name, email, active, lead_time_count, lead_time_avg_days, created_at, updated_at
FROM suppliers WHERE id=$1`, id).
		Scan(&s.ID, &s.Name, &s.Email, &s.Active, &s.LeadTime.Count, &s.LeadTime.AvgDays, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrNotFound
		}
		return Supplier{}, err
	}
	return s, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]Supplier, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, email, active, lead_time_count, lead_time_avg_days, created_at, updated_at
FROM suppliers ORDER BY name LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.Active, &s.LeadTime.Count, &s.LeadTime.AvgDays, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) Create(ctx context.Context, s Supplier) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO suppliers (name, email, active, lead_time_count, lead_time_avg_days, created_at, updated_at)
VALUES ($1,$2,$3,0,0,NOW(),NOW()) RETURNING id`, s.Name, s.Email, s.Active).Scan(&id)
	return id, err
}
