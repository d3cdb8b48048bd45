package purchasing

import "github.com/shopspring/decimal"

// QuantityTotals aggregates cumulative counters across all items of a PO.
type QuantityTotals struct {
	Ordered  int64
	Received int64
	Damaged  int64
}

// TotalsOf sums the quantity counters of the given items.
func TotalsOf(items []PurchaseOrderItem) QuantityTotals {
	var t QuantityTotals
	for _, item := range items {
		t.Ordered += item.QuantityOrdered
		t.Received += item.QuantityReceived
		t.Damaged += item.QuantityDamaged
	}
	return t
}

// AllReceived reports whether every ordered unit is accounted for.
func (t QuantityTotals) AllReceived() bool {
	return t.Received+t.Damaged >= t.Ordered
}

// DeriveStatus computes the status after a receiving batch. RECEIVED and
// CANCELLED are terminal and never change. A batch that creates backorders
// closes the PO even though physical quantity remains outstanding; the
// remainder stays visible through the open Backorder rows.
func DeriveStatus(current POStatus, totals QuantityTotals, backordersCreated bool) POStatus {
	if current.Terminal() {
		return current
	}
	switch {
	case totals.AllReceived():
		return POStatusReceived
	case totals.Received > 0 && backordersCreated:
		return POStatusReceived
	case totals.Received > 0:
		return POStatusPartial
	default:
		return current
	}
}

// RecomputeMoney derives the monetary fields from current items:
// subtotal is the sum of line totals, total adds shipping, tax and other.
func RecomputeMoney(po PurchaseOrder, items []PurchaseOrderItem) PurchaseOrder {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitCost.Mul(decimal.NewFromInt(item.QuantityOrdered)))
	}
	po.Subtotal = subtotal
	po.Total = subtotal.Add(po.Shipping).Add(po.Tax).Add(po.OtherCost)
	return po
}

// nextLifecycle maps the manual (non-receiving) transitions of the workflow.
var nextLifecycle = map[POStatus]POStatus{
	POStatusDraft:     POStatusPending,
	POStatusPending:   POStatusSent,
	POStatusSent:      POStatusConfirmed,
	POStatusConfirmed: POStatusShipped,
}

// Advance returns the next manual lifecycle status, or ErrInvalidState when
// the order cannot advance from its current status.
func Advance(current POStatus) (POStatus, error) {
	next, ok := nextLifecycle[current]
	if !ok {
		return current, ErrInvalidState
	}
	return next, nil
}
