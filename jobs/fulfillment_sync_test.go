package jobs

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/fulfillment"
	"github.com/stocklane/stocklane/internal/inventory"
	"github.com/stocklane/stocklane/internal/masterdata/warehouses"
)

type stubSource struct {
	stock map[string][]fulfillment.RemoteStock
}

func (s *stubSource) GetShipment(context.Context, string) (fulfillment.Shipment, error) {
	return fulfillment.Shipment{}, fulfillment.ErrShipmentNotFound
}

func (s *stubSource) GetPlanShipments(context.Context, string) ([]fulfillment.Shipment, error) {
	return nil, nil
}

func (s *stubSource) FetchStock(_ context.Context, warehouseCode string) ([]fulfillment.RemoteStock, error) {
	return s.stock[warehouseCode], nil
}

type stubInventory struct {
	mu    sync.Mutex
	lines []inventory.SyncLine
}

func (s *stubInventory) ApplySync(_ context.Context, lines []inventory.SyncLine) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, lines...)
	return len(lines), nil
}

type stubMappings struct {
	mappings map[string]string
}

func (s *stubMappings) MasterSKU(_ context.Context, sellerSKU string) (string, bool, error) {
	master, ok := s.mappings[sellerSKU]
	return master, ok, nil
}

type stubWarehouses struct {
	list []warehouses.Warehouse
}

func (s *stubWarehouses) List(context.Context) ([]warehouses.Warehouse, error) {
	return s.list, nil
}

func TestSyncerAppliesMappedStock(t *testing.T) {
	source := &stubSource{stock: map[string][]fulfillment.RemoteStock{
		"WH-A": {{SellerSKU: "AMZ-W1", Available: 12}, {SellerSKU: "UNKNOWN", Available: 3}},
		"WH-B": {{SellerSKU: "AMZ-W2", Available: 7}},
	}}
	inv := &stubInventory{}
	whs := &stubWarehouses{list: []warehouses.Warehouse{
		{ID: 1, Code: "WH-A", Active: true},
		{ID: 2, Code: "WH-B", Active: true},
		{ID: 3, Code: "WH-C", Active: false},
	}}
	syncer := NewSyncer(source, inv, &stubMappings{mappings: map[string]string{"AMZ-W1": "WIDGET-1", "AMZ-W2": "WIDGET-2"}}, whs, nil, slog.Default())

	applied, err := syncer.Run(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 2, applied)
	require.Len(t, inv.lines, 2)
	for _, line := range inv.lines {
		require.NotEmpty(t, line.SKU)
		require.NotZero(t, line.WarehouseID)
	}
}

func TestSyncerFiltersByWarehouseCode(t *testing.T) {
	source := &stubSource{stock: map[string][]fulfillment.RemoteStock{
		"WH-A": {{SellerSKU: "AMZ-W1", Available: 12}},
		"WH-B": {{SellerSKU: "AMZ-W1", Available: 5}},
	}}
	inv := &stubInventory{}
	whs := &stubWarehouses{list: []warehouses.Warehouse{
		{ID: 1, Code: "WH-A", Active: true},
		{ID: 2, Code: "WH-B", Active: true},
	}}
	syncer := NewSyncer(source, inv, &stubMappings{mappings: map[string]string{"AMZ-W1": "WIDGET-1"}}, whs, nil, slog.Default())

	applied, err := syncer.Run(context.Background(), "WH-B")
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, int64(2), inv.lines[0].WarehouseID)
	require.Equal(t, int64(5), inv.lines[0].Available)
}
