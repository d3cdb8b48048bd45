package purchasing

import "time"

// NewBackorder builds a backorder row for the unreceivable remainder of one
// receiving line. It copies supplier and PO context so the liability stays
// traceable after the order closes; no other business rule applies here.
func NewBackorder(po PurchaseOrder, item PurchaseOrderItem, qty int64, at time.Time) Backorder {
	return Backorder{
		POID:       po.ID,
		PONumber:   po.Number,
		SupplierID: po.SupplierID,
		SKU:        item.SKU,
		Quantity:   qty,
		UnitCost:   item.UnitCost,
		Status:     BackorderStatusPending,
		CreatedAt:  at,
	}
}
