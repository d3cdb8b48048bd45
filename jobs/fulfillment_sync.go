package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/stocklane/stocklane/internal/fulfillment"
	"github.com/stocklane/stocklane/internal/inventory"
	"github.com/stocklane/stocklane/internal/masterdata/warehouses"
)

// InventoryPort applies fulfillment availability observations.
type InventoryPort interface {
	ApplySync(ctx context.Context, lines []inventory.SyncLine) (int, error)
}

// MappingPort resolves seller SKUs to master SKUs.
type MappingPort interface {
	MasterSKU(ctx context.Context, sellerSKU string) (string, bool, error)
}

// WarehousePort lists sync targets.
type WarehousePort interface {
	List(ctx context.Context) ([]warehouses.Warehouse, error)
}

// SyncMetrics records sync run outcomes.
type SyncMetrics interface {
	ObserveSyncRun(result string)
}

// Syncer pulls fulfillment-network stock per warehouse and writes the
// observed availability into inventory levels.
type Syncer struct {
	source     fulfillment.ShipmentSource
	inventory  InventoryPort
	mappings   MappingPort
	warehouses WarehousePort
	metrics    SyncMetrics
	logger     *slog.Logger
}

// NewSyncer constructs a Syncer.
func NewSyncer(source fulfillment.ShipmentSource, inv InventoryPort, mappings MappingPort, whs WarehousePort, metrics SyncMetrics, logger *slog.Logger) *Syncer {
	return &Syncer{source: source, inventory: inv, mappings: mappings, warehouses: whs, metrics: metrics, logger: logger}
}

// HandleTask processes TaskFulfillmentSync tasks.
func (s *Syncer) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload FulfillmentSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	applied, err := s.Run(ctx, payload.WarehouseCode)
	if err != nil {
		s.observe("error")
		return err
	}
	s.observe("ok")
	s.logger.Info("fulfillment sync finished",
		slog.String("warehouse_code", payload.WarehouseCode),
		slog.Int("levels_applied", applied))
	return nil
}

// Run fetches stock for the selected warehouses concurrently and applies
// each warehouse's observations as one batch.
func (s *Syncer) Run(ctx context.Context, warehouseCode string) (int, error) {
	targets, err := s.warehouses.List(ctx)
	if err != nil {
		return 0, err
	}

	observedAt := time.Now().UTC()
	var mu sync.Mutex
	applied := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, wh := range targets {
		if !wh.Active {
			continue
		}
		if warehouseCode != "" && wh.Code != warehouseCode {
			continue
		}
		g.Go(func() error {
			stock, err := s.source.FetchStock(ctx, wh.Code)
			if err != nil {
				return err
			}
			lines := make([]inventory.SyncLine, 0, len(stock))
			for _, entry := range stock {
				master, found, err := s.mappings.MasterSKU(ctx, entry.SellerSKU)
				if err != nil {
					return err
				}
				if !found {
					s.logger.Warn("sync skipped unmapped sku",
						slog.String("seller_sku", entry.SellerSKU),
						slog.String("warehouse", wh.Code))
					continue
				}
				lines = append(lines, inventory.SyncLine{
					WarehouseID: wh.ID,
					SKU:         master,
					Available:   entry.Available,
					ObservedAt:  observedAt,
				})
			}
			n, err := s.inventory.ApplySync(ctx, lines)
			if err != nil {
				return err
			}
			mu.Lock()
			applied += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return applied, err
	}
	return applied, nil
}

func (s *Syncer) observe(result string) {
	if s.metrics != nil {
		s.metrics.ObserveSyncRun(result)
	}
}
