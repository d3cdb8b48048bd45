package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/catalog"
	"github.com/stocklane/stocklane/internal/inventory"
	"github.com/stocklane/stocklane/internal/shared"
)

type fakeSource struct {
	shipments map[string]Shipment
	plans     map[string][]Shipment
}

func (s *fakeSource) GetShipment(_ context.Context, ref string) (Shipment, error) {
	shipment, ok := s.shipments[ref]
	if !ok {
		return Shipment{}, ErrShipmentNotFound
	}
	return shipment, nil
}

func (s *fakeSource) GetPlanShipments(_ context.Context, planID string) ([]Shipment, error) {
	return s.plans[planID], nil
}

func (s *fakeSource) FetchStock(context.Context, string) ([]RemoteStock, error) {
	return nil, nil
}

type fakeRepo struct {
	records   map[string]map[string]int64
	stock     map[string]int64
	movements []inventory.Movement
}

func newFakeRepo(stock map[string]int64) *fakeRepo {
	if stock == nil {
		stock = map[string]int64{}
	}
	return &fakeRepo{records: map[string]map[string]int64{}, stock: stock}
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *fakeRepo) ListDeducted(_ context.Context, ref string) (map[string]bool, error) {
	deducted := map[string]bool{}
	for sku := range r.records[ref] {
		deducted[sku] = true
	}
	return deducted, nil
}

func (r *fakeRepo) GetAvailable(_ context.Context, _ int64, sku string) (int64, error) {
	return r.stock[sku], nil
}

func (r *fakeRepo) InsertDeductionRecord(_ context.Context, ref, sku string, qty int64) (bool, error) {
	if _, ok := r.records[ref][sku]; ok {
		return false, nil
	}
	if r.records[ref] == nil {
		r.records[ref] = map[string]int64{}
	}
	r.records[ref][sku] = qty
	return true, nil
}

func (r *fakeRepo) GetAvailableForUpdate(_ context.Context, _ int64, sku string) (int64, error) {
	return r.stock[sku], nil
}

func (r *fakeRepo) ApplyStockDelta(_ context.Context, _ int64, sku string, delta int64) error {
	r.stock[sku] += delta
	return nil
}

func (r *fakeRepo) InsertMovement(_ context.Context, m inventory.Movement) error {
	r.movements = append(r.movements, m)
	return nil
}

type fakeCatalog struct {
	mappings map[string]string
	groups   map[string][]string
}

func (c *fakeCatalog) MasterSKU(_ context.Context, sellerSKU string) (string, bool, error) {
	master, ok := c.mappings[sellerSKU]
	return master, ok, nil
}

func (c *fakeCatalog) ResolveGroup(_ context.Context, sku string) ([]catalog.Product, error) {
	members, ok := c.groups[sku]
	if !ok {
		return []catalog.Product{{SKU: sku}}, nil
	}
	group := make([]catalog.Product, 0, len(members))
	for _, member := range members {
		group = append(group, catalog.Product{SKU: member})
	}
	return group, nil
}

type fakeWarehouses struct {
	known map[int64]bool
}

func (w *fakeWarehouses) Exists(_ context.Context, id int64) (bool, error) {
	return w.known[id], nil
}

type fakeLocker struct {
	held     map[string]bool
	acquired int
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (func(), error) {
	if l.held[key] {
		return nil, shared.ErrLockHeld
	}
	l.acquired++
	return func() {}, nil
}

func newTestService(repo *fakeRepo, source *fakeSource, mappings map[string]string, locker *fakeLocker) *Service {
	if locker == nil {
		locker = &fakeLocker{}
	}
	svc := NewService(repo, source, &fakeCatalog{mappings: mappings}, &fakeWarehouses{known: map[int64]bool{3: true}}, locker, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestApplyDeductionDecrementsStockOnce(t *testing.T) {
	repo := newFakeRepo(map[string]int64{"WIDGET-1": 50})
	source := &fakeSource{shipments: map[string]Shipment{
		"FBA123": {Ref: "FBA123", Lines: []ShipmentLine{{SellerSKU: "AMZ-W1", Quantity: 10}}},
	}}
	svc := newTestService(repo, source, map[string]string{"AMZ-W1": "WIDGET-1"}, nil)

	plan, err := svc.ApplyDeduction(context.Background(), "FBA123", 3)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Applied)
	require.Equal(t, int64(50), plan.Lines[0].Before)
	require.Equal(t, int64(40), plan.Lines[0].After)
	require.Equal(t, int64(40), repo.stock["WIDGET-1"])
	require.Len(t, repo.movements, 1)
	require.Equal(t, int64(-10), repo.movements[0].QtyDelta)
	require.Equal(t, inventory.RefModuleFulfillment, repo.movements[0].RefModule)
}

func TestApplyDeductionIsIdempotent(t *testing.T) {
	repo := newFakeRepo(map[string]int64{"WIDGET-1": 50})
	source := &fakeSource{shipments: map[string]Shipment{
		"FBA123": {Ref: "FBA123", Lines: []ShipmentLine{{SellerSKU: "AMZ-W1", Quantity: 10}}},
	}}
	svc := newTestService(repo, source, map[string]string{"AMZ-W1": "WIDGET-1"}, nil)

	_, err := svc.ApplyDeduction(context.Background(), "FBA123", 3)
	require.NoError(t, err)

	plan, err := svc.ApplyDeduction(context.Background(), "FBA123", 3)
	require.NoError(t, err)
	require.Equal(t, 0, plan.Applied)
	require.Equal(t, 1, plan.Skipped)
	require.True(t, plan.Lines[0].AlreadyDeducted)
	require.Equal(t, int64(40), repo.stock["WIDGET-1"])
	require.Len(t, repo.movements, 1)
}

func TestApplyDeductionSkipsOnlyDeductedSKUs(t *testing.T) {
	repo := newFakeRepo(map[string]int64{"WIDGET-1": 50, "WIDGET-2": 20})
	repo.records["FBA123"] = map[string]int64{"WIDGET-1": 10}
	source := &fakeSource{shipments: map[string]Shipment{
		"FBA123": {Ref: "FBA123", Lines: []ShipmentLine{
			{SellerSKU: "AMZ-W1", Quantity: 10},
			{SellerSKU: "AMZ-W2", Quantity: 5},
		}},
	}}
	svc := newTestService(repo, source, map[string]string{"AMZ-W1": "WIDGET-1", "AMZ-W2": "WIDGET-2"}, nil)

	plan, err := svc.ApplyDeduction(context.Background(), "FBA123", 3)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Applied)
	require.Equal(t, 1, plan.Skipped)
	require.Equal(t, int64(50), repo.stock["WIDGET-1"])
	require.Equal(t, int64(15), repo.stock["WIDGET-2"])
}

func TestPreviewDeductionWritesNothing(t *testing.T) {
	repo := newFakeRepo(map[string]int64{"WIDGET-1": 50})
	source := &fakeSource{shipments: map[string]Shipment{
		"FBA123": {Ref: "FBA123", Lines: []ShipmentLine{{SellerSKU: "AMZ-W1", Quantity: 10}}},
	}}
	svc := newTestService(repo, source, map[string]string{"AMZ-W1": "WIDGET-1"}, nil)

	plan, err := svc.PreviewDeduction(context.Background(), "FBA123", 3)
	require.NoError(t, err)
	require.True(t, plan.DryRun)
	require.Equal(t, int64(40), plan.Lines[0].After)
	require.Equal(t, int64(50), repo.stock["WIDGET-1"])
	require.Empty(t, repo.records)
	require.Empty(t, repo.movements)
}

func TestApplyDeductionMirrorsToLinkedGroup(t *testing.T) {
	repo := newFakeRepo(map[string]int64{"ALPHA": 10, "BETA": 10})
	source := &fakeSource{shipments: map[string]Shipment{
		"FBA200": {Ref: "FBA200", Lines: []ShipmentLine{{SellerSKU: "AMZ-B1", Quantity: 10}}},
	}}
	svc := newTestService(repo, source, map[string]string{"AMZ-B1": "BETA"}, nil)
	svc.catalog = &fakeCatalog{
		mappings: map[string]string{"AMZ-B1": "BETA"},
		groups:   map[string][]string{"BETA": {"ALPHA", "BETA"}},
	}

	plan, err := svc.ApplyDeduction(context.Background(), "FBA200", 3)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Applied)
	require.Equal(t, int64(0), repo.stock["BETA"])
	require.Equal(t, int64(0), repo.stock["ALPHA"])
	require.Len(t, repo.movements, 2)
	for _, m := range repo.movements {
		require.Equal(t, int64(-10), m.QtyDelta)
		require.Equal(t, inventory.RefModuleFulfillment, m.RefModule)
	}
	// The ledger tracks the resolved master SKU only.
	require.Equal(t, map[string]int64{"BETA": 10}, repo.records["FBA200"])
}

func TestApplyDeductionPreservesOversell(t *testing.T) {
	repo := newFakeRepo(map[string]int64{"WIDGET-1": 5})
	source := &fakeSource{shipments: map[string]Shipment{
		"FBA123": {Ref: "FBA123", Lines: []ShipmentLine{{SellerSKU: "AMZ-W1", Quantity: 10}}},
	}}
	svc := newTestService(repo, source, map[string]string{"AMZ-W1": "WIDGET-1"}, nil)

	plan, err := svc.ApplyDeduction(context.Background(), "FBA123", 3)
	require.NoError(t, err)
	require.True(t, plan.Lines[0].Oversold)
	require.Equal(t, int64(-5), plan.Lines[0].After)
	require.Equal(t, int64(-5), repo.stock["WIDGET-1"])
	require.NotEmpty(t, plan.Warnings)
}

func TestApplyDeductionWarnsOnUnmappedSKU(t *testing.T) {
	repo := newFakeRepo(nil)
	source := &fakeSource{shipments: map[string]Shipment{
		"FBA123": {Ref: "FBA123", Lines: []ShipmentLine{{SellerSKU: "UNKNOWN-9", Quantity: 3}}},
	}}
	svc := newTestService(repo, source, nil, nil)

	plan, err := svc.ApplyDeduction(context.Background(), "FBA123", 3)
	require.NoError(t, err)
	require.Equal(t, 0, plan.Applied)
	require.Equal(t, 1, plan.Skipped)
	require.False(t, plan.Lines[0].Found)
	require.NotEmpty(t, plan.Warnings)
	require.Empty(t, repo.movements)
}

func TestApplyDeductionUnknownWarehouse(t *testing.T) {
	svc := newTestService(newFakeRepo(nil), &fakeSource{}, nil, nil)

	_, err := svc.ApplyDeduction(context.Background(), "FBA123", 99)
	require.ErrorIs(t, err, ErrWarehouseNotFound)
}

func TestApplyDeductionUnknownShipment(t *testing.T) {
	svc := newTestService(newFakeRepo(nil), &fakeSource{shipments: map[string]Shipment{}}, nil, nil)

	_, err := svc.ApplyDeduction(context.Background(), "MISSING", 3)
	require.ErrorIs(t, err, ErrShipmentNotFound)
}

func TestApplyDeductionLockedShipment(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{shared.ShipmentLockKey("FBA123"): true}}
	source := &fakeSource{shipments: map[string]Shipment{"FBA123": {Ref: "FBA123"}}}
	svc := newTestService(newFakeRepo(nil), source, nil, locker)

	_, err := svc.ApplyDeduction(context.Background(), "FBA123", 3)
	require.ErrorIs(t, err, shared.ErrLockHeld)
}

func TestDeductPlanLockedShipmentDoesNotBlockOthers(t *testing.T) {
	repo := newFakeRepo(map[string]int64{"WIDGET-1": 50, "WIDGET-2": 20})
	source := &fakeSource{
		shipments: map[string]Shipment{
			"FBA1": {Ref: "FBA1", Lines: []ShipmentLine{{SellerSKU: "AMZ-W1", Quantity: 10}}},
			"FBA2": {Ref: "FBA2", Lines: []ShipmentLine{{SellerSKU: "AMZ-W2", Quantity: 5}}},
		},
		plans: map[string][]Shipment{"PLAN-1": {{Ref: "FBA1"}, {Ref: "FBA2"}}},
	}
	locker := &fakeLocker{held: map[string]bool{shared.ShipmentLockKey("FBA1"): true}}
	svc := newTestService(repo, source, map[string]string{"AMZ-W1": "WIDGET-1", "AMZ-W2": "WIDGET-2"}, locker)

	plans, err := svc.DeductPlan(context.Background(), "PLAN-1", 3, false)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.NotEmpty(t, plans[0].Warnings)
	require.Equal(t, int64(50), repo.stock["WIDGET-1"])
	require.Equal(t, int64(15), repo.stock["WIDGET-2"])
}
