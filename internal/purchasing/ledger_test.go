package purchasing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateReceiptWithinOrdered(t *testing.T) {
	item := PurchaseOrderItem{QuantityOrdered: 100, QuantityReceived: 60, QuantityDamaged: 5}

	totals, err := ValidateReceipt(item, 35, 0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(95), totals.Received)
	require.Equal(t, int64(5), totals.Damaged)
}

func TestValidateReceiptExceedsOrdered(t *testing.T) {
	item := PurchaseOrderItem{SKU: "WIDGET-1", QuantityOrdered: 100, QuantityReceived: 65, QuantityDamaged: 5}

	_, err := ValidateReceipt(item, 40, 0, 0)
	var exceeded *QuantityExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, "WIDGET-1", exceeded.SKU)
	require.Equal(t, int64(100), exceeded.Ordered)
	require.Equal(t, int64(110), exceeded.Would)
}

func TestValidateReceiptBackorderCountsAgainstOrdered(t *testing.T) {
	item := PurchaseOrderItem{QuantityOrdered: 50, QuantityReceived: 20}

	_, err := ValidateReceipt(item, 20, 0, 15)
	require.Error(t, err)
	var exceeded *QuantityExceededError
	require.True(t, errors.As(err, &exceeded))

	_, err = ValidateReceipt(item, 20, 0, 10)
	require.NoError(t, err)
}

func TestValidateReceiptRejectsNegativeDeltas(t *testing.T) {
	item := PurchaseOrderItem{QuantityOrdered: 10}

	_, err := ValidateReceipt(item, -1, 0, 0)
	require.ErrorIs(t, err, ErrNegativeDelta)

	_, err = ValidateReceipt(item, 0, -2, 0)
	require.ErrorIs(t, err, ErrNegativeDelta)
}

func TestValidateReceiptExactFill(t *testing.T) {
	item := PurchaseOrderItem{QuantityOrdered: 100, QuantityReceived: 60, QuantityDamaged: 5}

	totals, err := ValidateReceipt(item, 30, 5, 0)
	require.NoError(t, err)
	require.Equal(t, int64(100), totals.Received+totals.Damaged)
}
