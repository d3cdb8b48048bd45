package purchasing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/catalog"
	"github.com/stocklane/stocklane/internal/inventory"
)

type memState struct {
	po         PurchaseOrder
	items      []PurchaseOrderItem
	backorders []Backorder
	stock      map[string]int64
	movements  []inventory.Movement
	leadTimes  []int
	nextID     int64
}

func (s *memState) clone() *memState {
	dup := &memState{
		po:     s.po,
		stock:  map[string]int64{},
		nextID: s.nextID,
	}
	dup.items = append([]PurchaseOrderItem(nil), s.items...)
	dup.backorders = append([]Backorder(nil), s.backorders...)
	dup.movements = append([]inventory.Movement(nil), s.movements...)
	dup.leadTimes = append([]int(nil), s.leadTimes...)
	for k, v := range s.stock {
		dup.stock[k] = v
	}
	return dup
}

// memRepo keeps everything in memory and emulates rollback by applying the
// callback to a copy of the state, committing only on success.
type memRepo struct {
	state *memState
}

func newMemRepo(po PurchaseOrder, items []PurchaseOrderItem) *memRepo {
	state := &memState{po: po, stock: map[string]int64{}, nextID: 1000}
	state.items = append(state.items, items...)
	return &memRepo{state: state}
}

func (r *memRepo) WithTx(_ context.Context, fn func(context.Context, TxRepository) error) error {
	work := r.state.clone()
	if err := fn(context.Background(), &memTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memRepo) GetPO(_ context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error) {
	if r.state.po.ID != id {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return r.state.po, append([]PurchaseOrderItem(nil), r.state.items...), nil
}

func (r *memRepo) ListBackorders(_ context.Context, poID int64) ([]Backorder, error) {
	out := []Backorder{}
	for _, bo := range r.state.backorders {
		if bo.POID == poID {
			out = append(out, bo)
		}
	}
	return out, nil
}

type memTx struct {
	state *memState
}

func (t *memTx) GetPOForUpdate(_ context.Context, id int64) (PurchaseOrder, error) {
	if t.state.po.ID != id {
		return PurchaseOrder{}, ErrNotFound
	}
	return t.state.po, nil
}

func (t *memTx) GetItems(_ context.Context, poID int64) ([]PurchaseOrderItem, error) {
	items := []PurchaseOrderItem{}
	for _, item := range t.state.items {
		if item.POID == poID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (t *memTx) CreatePO(_ context.Context, po PurchaseOrder) (int64, error) {
	t.state.nextID++
	po.ID = t.state.nextID
	t.state.po = po
	return po.ID, nil
}

func (t *memTx) InsertItem(_ context.Context, item PurchaseOrderItem) (int64, error) {
	t.state.nextID++
	item.ID = t.state.nextID
	t.state.items = append(t.state.items, item)
	return item.ID, nil
}

func (t *memTx) DeleteItem(_ context.Context, poID, itemID int64) error {
	for i, item := range t.state.items {
		if item.ID == itemID && item.POID == poID {
			t.state.items = append(t.state.items[:i], t.state.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) DeletePO(_ context.Context, poID int64) error {
	if t.state.po.ID != poID {
		return ErrNotFound
	}
	t.state.po = PurchaseOrder{}
	t.state.items = nil
	return nil
}

func (t *memTx) UpdatePOMoney(_ context.Context, po PurchaseOrder) error {
	t.state.po.Subtotal = po.Subtotal
	t.state.po.Total = po.Total
	return nil
}

func (t *memTx) AddItemQuantities(_ context.Context, itemID, receivedDelta, damagedDelta int64) error {
	for i := range t.state.items {
		if t.state.items[i].ID == itemID {
			t.state.items[i].QuantityReceived += receivedDelta
			t.state.items[i].QuantityDamaged += damagedDelta
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) UpdatePOStatus(_ context.Context, id int64, status POStatus, arrivedAt *time.Time) error {
	if t.state.po.ID != id {
		return ErrNotFound
	}
	t.state.po.Status = status
	if arrivedAt != nil {
		t.state.po.ArrivedAt = arrivedAt
	}
	return nil
}

func (t *memTx) InsertBackorder(_ context.Context, bo Backorder) (int64, error) {
	t.state.nextID++
	bo.ID = t.state.nextID
	t.state.backorders = append(t.state.backorders, bo)
	return bo.ID, nil
}

func (t *memTx) CountOpenBackorders(_ context.Context, poID int64) (int, error) {
	count := 0
	for _, bo := range t.state.backorders {
		if bo.POID == poID && bo.Status == BackorderStatusPending {
			count++
		}
	}
	return count, nil
}

func (t *memTx) ApplyStockDelta(_ context.Context, _ int64, sku string, delta int64) error {
	t.state.stock[sku] += delta
	return nil
}

func (t *memTx) InsertMovement(_ context.Context, m inventory.Movement) error {
	t.state.movements = append(t.state.movements, m)
	return nil
}

func (t *memTx) ObserveSupplierLeadTime(_ context.Context, _ int64, days int) error {
	t.state.leadTimes = append(t.state.leadTimes, days)
	return nil
}

type memCatalog struct {
	groups map[string][]catalog.Product
}

func (c *memCatalog) ResolveGroup(_ context.Context, sku string) ([]catalog.Product, error) {
	if group, ok := c.groups[sku]; ok {
		return group, nil
	}
	return []catalog.Product{{SKU: sku}}, nil
}

func newTestService(repo *memRepo, groups map[string][]catalog.Product) *Service {
	svc := NewService(repo, &memCatalog{groups: groups}, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

func testPO(status POStatus) PurchaseOrder {
	expected := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
	return PurchaseOrder{
		ID:          1,
		Number:      "PO-1001",
		SupplierID:  7,
		WarehouseID: 3,
		Status:      status,
		ExpectedAt:  &expected,
		CreatedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestReceiveAccumulatesAcrossBatchesAndCloses(t *testing.T) {
	repo := newMemRepo(testPO(POStatusShipped), []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "WIDGET-1", QuantityOrdered: 100},
	})
	svc := newTestService(repo, nil)

	summary, err := svc.Receive(context.Background(), ReceiveCommand{
		POID:  1,
		Items: map[int64]ReceiptInput{11: {Received: 60, Damaged: 5}},
	})
	require.NoError(t, err)
	require.Equal(t, POStatusPartial, summary.Status)
	require.True(t, summary.StatusChanged)
	require.Equal(t, int64(65), repo.state.items[0].QuantityReceived+repo.state.items[0].QuantityDamaged)
	require.Equal(t, int64(60), repo.state.stock["WIDGET-1"])

	summary, err = svc.Receive(context.Background(), ReceiveCommand{
		POID:  1,
		Items: map[int64]ReceiptInput{11: {Received: 35}},
	})
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, summary.Status)
	require.NotNil(t, repo.state.po.ArrivedAt)
	require.Equal(t, int64(95), repo.state.stock["WIDGET-1"])
	// Created on Mar 1, closed on Mar 10: nine whole days observed.
	require.Equal(t, []int{9}, repo.state.leadTimes)
}

func TestReceiveOverReceiptLeavesCountersUntouched(t *testing.T) {
	items := []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "WIDGET-1", QuantityOrdered: 100, QuantityReceived: 65, QuantityDamaged: 5},
	}
	repo := newMemRepo(testPO(POStatusPartial), items)
	svc := newTestService(repo, nil)

	_, err := svc.Receive(context.Background(), ReceiveCommand{
		POID:  1,
		Items: map[int64]ReceiptInput{11: {Received: 40}},
	})
	var exceeded *QuantityExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, int64(65), repo.state.items[0].QuantityReceived)
	require.Equal(t, int64(5), repo.state.items[0].QuantityDamaged)
	require.Empty(t, repo.state.stock)
	require.Empty(t, repo.state.movements)
}

func TestReceiveRejectsWholeBatchOnSingleViolation(t *testing.T) {
	repo := newMemRepo(testPO(POStatusShipped), []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "WIDGET-1", QuantityOrdered: 100},
		{ID: 12, POID: 1, SKU: "WIDGET-2", QuantityOrdered: 10},
	})
	svc := newTestService(repo, nil)

	_, err := svc.Receive(context.Background(), ReceiveCommand{
		POID: 1,
		Items: map[int64]ReceiptInput{
			11: {Received: 50},
			12: {Received: 11},
		},
	})
	require.Error(t, err)
	require.Equal(t, int64(0), repo.state.items[0].QuantityReceived)
	require.Equal(t, int64(0), repo.state.items[1].QuantityReceived)
	require.Empty(t, repo.state.stock)
	require.Equal(t, POStatusShipped, repo.state.po.Status)
}

func TestReceiveUnknownItemRejected(t *testing.T) {
	repo := newMemRepo(testPO(POStatusShipped), []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "WIDGET-1", QuantityOrdered: 100},
	})
	svc := newTestService(repo, nil)

	_, err := svc.Receive(context.Background(), ReceiveCommand{
		POID:  1,
		Items: map[int64]ReceiptInput{99: {Received: 1}},
	})
	require.ErrorIs(t, err, ErrItemNotInOrder)
}

func TestReceiveNegativeDeltaRejected(t *testing.T) {
	repo := newMemRepo(testPO(POStatusShipped), []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "WIDGET-1", QuantityOrdered: 100},
	})
	svc := newTestService(repo, nil)

	_, err := svc.Receive(context.Background(), ReceiveCommand{
		POID:  1,
		Items: map[int64]ReceiptInput{11: {Received: -3}},
	})
	require.ErrorIs(t, err, ErrNegativeDelta)
}

func TestReceiveCancelledOrderRejected(t *testing.T) {
	repo := newMemRepo(testPO(POStatusCancelled), []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "WIDGET-1", QuantityOrdered: 100},
	})
	svc := newTestService(repo, nil)

	_, err := svc.Receive(context.Background(), ReceiveCommand{
		POID:  1,
		Items: map[int64]ReceiptInput{11: {Received: 1}},
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReceivePropagatesToLinkedItem(t *testing.T) {
	group := []catalog.Product{{SKU: "ALPHA"}, {SKU: "BETA"}}
	repo := newMemRepo(testPO(POStatusShipped), []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "ALPHA", QuantityOrdered: 50},
		{ID: 12, POID: 1, SKU: "BETA", QuantityOrdered: 50},
	})
	svc := newTestService(repo, map[string][]catalog.Product{"ALPHA": group, "BETA": group})

	summary, err := svc.Receive(context.Background(), ReceiveCommand{
		POID:  1,
		Items: map[int64]ReceiptInput{11: {Received: 10}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, summary.ItemsUpdated)
	require.Equal(t, int64(10), repo.state.items[0].QuantityReceived)
	require.Equal(t, int64(10), repo.state.items[1].QuantityReceived)
	// Both SKUs mirror the same physical pool.
	require.Equal(t, int64(10), repo.state.stock["ALPHA"])
	require.Equal(t, int64(10), repo.state.stock["BETA"])
}

func TestReceiveNoDoubleCountWhenBothLinkedItemsSubmitted(t *testing.T) {
	group := []catalog.Product{{SKU: "ALPHA"}, {SKU: "BETA"}}
	repo := newMemRepo(testPO(POStatusShipped), []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "ALPHA", QuantityOrdered: 50},
		{ID: 12, POID: 1, SKU: "BETA", QuantityOrdered: 50},
	})
	svc := newTestService(repo, map[string][]catalog.Product{"ALPHA": group, "BETA": group})

	_, err := svc.Receive(context.Background(), ReceiveCommand{
		POID: 1,
		Items: map[int64]ReceiptInput{
			11: {Received: 10},
			12: {Received: 15},
		},
	})
	require.NoError(t, err)
	// Submitted lines carry only their own deltas; no mirrored increments.
	require.Equal(t, int64(10), repo.state.items[0].QuantityReceived)
	require.Equal(t, int64(15), repo.state.items[1].QuantityReceived)
	// Levels mirror the combined pool.
	require.Equal(t, int64(25), repo.state.stock["ALPHA"])
	require.Equal(t, int64(25), repo.state.stock["BETA"])
}

func TestReceiveMirroredIncrementCannotExceedOrdered(t *testing.T) {
	group := []catalog.Product{{SKU: "ALPHA"}, {SKU: "BETA"}}
	repo := newMemRepo(testPO(POStatusShipped), []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "ALPHA", QuantityOrdered: 50},
		{ID: 12, POID: 1, SKU: "BETA", QuantityOrdered: 50, QuantityReceived: 45},
	})
	svc := newTestService(repo, map[string][]catalog.Product{"ALPHA": group, "BETA": group})

	_, err := svc.Receive(context.Background(), ReceiveCommand{
		POID:  1,
		Items: map[int64]ReceiptInput{11: {Received: 10}},
	})
	var exceeded *QuantityExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, "BETA", exceeded.SKU)
	require.Equal(t, int64(0), repo.state.items[0].QuantityReceived)
	require.Equal(t, int64(45), repo.state.items[1].QuantityReceived)
}

func TestReceiveBackorderClosesOrder(t *testing.T) {
	repo := newMemRepo(testPO(POStatusShipped), []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "WIDGET-1", QuantityOrdered: 100},
	})
	svc := newTestService(repo, nil)

	summary, err := svc.Receive(context.Background(), ReceiveCommand{
		POID:  1,
		Items: map[int64]ReceiptInput{11: {Received: 40, Backorder: 60}},
	})
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, summary.Status)
	require.Equal(t, 1, summary.BackordersCreated)
	require.Equal(t, 1, summary.OpenBackorders)
	require.Len(t, repo.state.backorders, 1)
	require.Equal(t, int64(60), repo.state.backorders[0].Quantity)
	require.Equal(t, BackorderStatusPending, repo.state.backorders[0].Status)
	// Only received stock hits the shelf.
	require.Equal(t, int64(40), repo.state.stock["WIDGET-1"])
}

func TestReceiveStatusMonotonicAfterBackorderClose(t *testing.T) {
	po := testPO(POStatusReceived)
	repo := newMemRepo(po, []PurchaseOrderItem{
		{ID: 11, POID: 1, SKU: "WIDGET-1", QuantityOrdered: 100, QuantityReceived: 40},
	})
	svc := newTestService(repo, nil)

	summary, err := svc.Receive(context.Background(), ReceiveCommand{
		POID:  1,
		Items: map[int64]ReceiptInput{11: {Received: 10}},
	})
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, summary.Status)
	require.False(t, summary.StatusChanged)
	require.Equal(t, int64(50), repo.state.items[0].QuantityReceived)
}

func TestAddItemOnlyWhileEditable(t *testing.T) {
	repo := newMemRepo(testPO(POStatusSent), nil)
	svc := newTestService(repo, nil)

	_, err := svc.AddItem(context.Background(), 1, ItemInput{SKU: "NEW", QuantityOrdered: 5, UnitCost: decimal.NewFromInt(2)})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelTerminalRejected(t *testing.T) {
	repo := newMemRepo(testPO(POStatusReceived), nil)
	svc := newTestService(repo, nil)

	err := svc.Cancel(context.Background(), 1, 0)
	require.ErrorIs(t, err, ErrInvalidState)
}
