package inventory

import (
	"context"
	"errors"
	"time"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLevel(ctx context.Context, warehouseID int64, sku string) (Level, error)
	ListLevels(ctx context.Context, warehouseID int64, limit int) ([]Level, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// Service exposes inventory queries and fulfillment sync application.
// Warehouse quantity mutation happens inside the receiving and deduction
// transactions of their own modules; this service never changes
// warehouse_available.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// GetLevel returns the stock level for a SKU in one warehouse. A missing row
// reads as zero stock.
func (s *Service) GetLevel(ctx context.Context, warehouseID int64, sku string) (Level, error) {
	level, err := s.repo.GetLevel(ctx, warehouseID, sku)
	if errors.Is(err, ErrLevelNotFound) {
		return Level{WarehouseID: warehouseID, SKU: sku}, nil
	}
	return level, err
}

// ListLevels lists stock levels per warehouse.
func (s *Service) ListLevels(ctx context.Context, warehouseID int64, limit int) ([]Level, error) {
	return s.repo.ListLevels(ctx, warehouseID, limit)
}

// ListMovements lists ledger entries for a SKU in one warehouse.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.WarehouseID == 0 || filter.SKU == "" {
		return nil, ErrInvalidFilter
	}
	return s.repo.ListMovements(ctx, filter)
}

// ApplySync writes external fulfillment availability observations in one
// transaction. Lines with an empty SKU are skipped.
func (s *Service) ApplySync(ctx context.Context, lines []SyncLine) (int, error) {
	applied := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range lines {
			if line.SKU == "" || line.WarehouseID == 0 {
				continue
			}
			if line.ObservedAt.IsZero() {
				line.ObservedAt = s.now().UTC()
			}
			prev, err := tx.UpsertFulfillmentAvailable(ctx, line)
			if err != nil {
				return err
			}
			// Observed changes land in the ledger like any other stock event.
			if delta := line.Available - prev; delta != 0 {
				if err := tx.InsertMovement(ctx, Movement{
					WarehouseID: line.WarehouseID,
					SKU:         line.SKU,
					QtyDelta:    delta,
					RefModule:   RefModuleSync,
					RefID:       "fulfillment-sync",
					Note:        "fulfillment availability sync",
					PostedAt:    line.ObservedAt,
				}); err != nil {
					return err
				}
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}
