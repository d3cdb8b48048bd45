package warehouses

import (
	"errors"
	"time"
)

// Warehouse represents a physical stocking location.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrNotFound indicates record missing.
var ErrNotFound = errors.New("warehouses: not found")
