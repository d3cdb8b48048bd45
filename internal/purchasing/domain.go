package purchasing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusPending   POStatus = "PENDING"
	POStatusSent      POStatus = "SENT"
	POStatusConfirmed POStatus = "CONFIRMED"
	POStatusShipped   POStatus = "SHIPPED"
	POStatusPartial   POStatus = "PARTIAL"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Terminal reports whether no further status transitions are possible.
func (s POStatus) Terminal() bool {
	return s == POStatusReceived || s == POStatusCancelled
}

// Editable reports whether items may be added or removed in this status.
func (s POStatus) Editable() bool {
	return s == POStatusDraft || s == POStatusPending
}

// Backorder statuses.
type BackorderStatus string

const (
	BackorderStatusPending  BackorderStatus = "PENDING"
	BackorderStatusResolved BackorderStatus = "RESOLVED"
)

// PurchaseOrder domain model. Total is always derived:
// subtotal + shipping + tax + other.
type PurchaseOrder struct {
	ID          int64
	Number      string
	SupplierID  int64
	WarehouseID int64
	Status      POStatus
	Subtotal    decimal.Decimal
	Shipping    decimal.Decimal
	Tax         decimal.Decimal
	OtherCost   decimal.Decimal
	Total       decimal.Decimal
	ExpectedAt  *time.Time
	ArrivedAt   *time.Time
	Note        string
	CreatedAt   time.Time
}

// PurchaseOrderItem is one SKU line. QuantityReceived and QuantityDamaged
// only ever grow by deltas; received + damaged never exceeds ordered.
type PurchaseOrderItem struct {
	ID               int64
	POID             int64
	SKU              string
	QuantityOrdered  int64
	QuantityReceived int64
	QuantityDamaged  int64
	UnitCost         decimal.Decimal
}

// Outstanding returns the quantity not yet accounted for.
func (i PurchaseOrderItem) Outstanding() int64 {
	return i.QuantityOrdered - i.QuantityReceived - i.QuantityDamaged
}

// Backorder records a shortfall between ordered and received/damaged
// quantity, tracked outside the PO item's own counters.
type Backorder struct {
	ID         int64
	POID       int64
	PONumber   string
	SupplierID int64
	SKU        string
	Quantity   int64
	UnitCost   decimal.Decimal
	Status     BackorderStatus
	CreatedAt  time.Time
}

// ReceiptInput holds the per-item deltas of one receiving batch.
type ReceiptInput struct {
	Received  int64
	Damaged   int64
	Backorder int64
}

// ReceiveCommand is one receiving batch against a purchase order.
type ReceiveCommand struct {
	POID           int64
	Items          map[int64]ReceiptInput
	ReceivedAt     *time.Time
	ActorID        int64
	IdempotencyKey string
}

// ReceiveSummary enumerates exactly what an accepted batch changed.
type ReceiveSummary struct {
	ItemsUpdated      int
	BackordersCreated int
	Status            POStatus
	StatusChanged     bool
	OpenBackorders    int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("purchasing: not found")
	// ErrItemNotInOrder indicates a receiving line referencing an unknown item.
	ErrItemNotInOrder = errors.New("purchasing: item not in order")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("purchasing: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("purchasing: invalid input")
	// ErrNegativeDelta indicates a receiving delta below zero.
	ErrNegativeDelta = errors.New("purchasing: receiving deltas must be >= 0")
)

// QuantityExceededError rejects a receipt that would push
// received + damaged + backorder past the ordered quantity.
type QuantityExceededError struct {
	SKU     string
	Ordered int64
	Would   int64
}

func (e *QuantityExceededError) Error() string {
	return fmt.Sprintf("purchasing: quantity exceeded for %s: %d would exceed ordered %d", e.SKU, e.Would, e.Ordered)
}
