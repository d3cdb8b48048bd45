package inventory

import (
	"errors"
	"time"
)

// RefModule tags the origin of a stock movement.
const (
	RefModulePurchasing  = "PURCHASING"
	RefModuleFulfillment = "FULFILLMENT"
	RefModuleSync        = "SYNC"
)

// Level summarises stock for a SKU in one warehouse. WarehouseAvailable is
// mutated by receiving and deduction; FulfillmentAvailable mirrors the
// external fulfillment network and is only written by sync.
type Level struct {
	WarehouseID          int64
	SKU                  string
	WarehouseAvailable   int64
	FulfillmentAvailable int64
	SyncedAt             time.Time
	UpdatedAt            time.Time
}

// Movement is one append-only ledger row. Every warehouse quantity change
// carries the module and reference that caused it.
type Movement struct {
	ID          int64
	WarehouseID int64
	SKU         string
	QtyDelta    int64
	RefModule   string
	RefID       string
	Note        string
	PostedAt    time.Time
}

// MovementFilter filters ledger entries.
type MovementFilter struct {
	WarehouseID int64
	SKU         string
	From        time.Time
	To          time.Time
	Limit       int
}

// SyncLine carries one external fulfillment quantity observation.
type SyncLine struct {
	WarehouseID int64
	SKU         string
	Available   int64
	ObservedAt  time.Time
}

// ErrLevelNotFound indicates a missing level row.
var ErrLevelNotFound = errors.New("inventory: level not found")

// ErrInvalidFilter indicates a movement query without warehouse or sku.
var ErrInvalidFilter = errors.New("inventory: warehouse and sku required")
