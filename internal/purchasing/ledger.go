package purchasing

// ReceiptTotals are the counters an item would carry after a validated
// receipt. Callers persist the result; ValidateReceipt itself never writes.
type ReceiptTotals struct {
	Received int64
	Damaged  int64
}

// ValidateReceipt checks one receiving delta against the item's ordered
// quantity. The invariant is received + damaged <= ordered at all times;
// the backorder delta also counts against the ordered quantity because a
// backorder commits the remainder to a separate liability.
func ValidateReceipt(item PurchaseOrderItem, receivedDelta, damagedDelta, backorderDelta int64) (ReceiptTotals, error) {
	if receivedDelta < 0 || damagedDelta < 0 || backorderDelta < 0 {
		return ReceiptTotals{}, ErrNegativeDelta
	}
	totals := ReceiptTotals{
		Received: item.QuantityReceived + receivedDelta,
		Damaged:  item.QuantityDamaged + damagedDelta,
	}
	if totals.Received+totals.Damaged+backorderDelta > item.QuantityOrdered {
		return ReceiptTotals{}, &QuantityExceededError{
			SKU:     item.SKU,
			Ordered: item.QuantityOrdered,
			Would:   totals.Received + totals.Damaged + backorderDelta,
		}
	}
	return totals, nil
}
