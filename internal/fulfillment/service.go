package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stocklane/stocklane/internal/catalog"
	"github.com/stocklane/stocklane/internal/inventory"
	"github.com/stocklane/stocklane/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListDeducted(ctx context.Context, shipmentRef string) (map[string]bool, error)
	GetAvailable(ctx context.Context, warehouseID int64, sku string) (int64, error)
}

// CatalogPort resolves seller SKUs to master SKUs and master SKUs to their
// linked-product groups.
type CatalogPort interface {
	MasterSKU(ctx context.Context, sellerSKU string) (string, bool, error)
	ResolveGroup(ctx context.Context, sku string) ([]catalog.Product, error)
}

// WarehousePort validates deduction targets.
type WarehousePort interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// LockPort guards concurrent processing of one shipment.
type LockPort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records deduction outcomes.
type MetricsPort interface {
	ObserveDeduction(outcome string, oversold bool)
}

// Service implements shipment stock deduction with at-most-once semantics
// per (shipment, sku) pair.
type Service struct {
	repo       RepositoryPort
	source     ShipmentSource
	catalog    CatalogPort
	warehouses WarehousePort
	locker     LockPort
	audit      AuditPort
	metrics    MetricsPort
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs fulfillment service.
func NewService(repo RepositoryPort, source ShipmentSource, catalogPort CatalogPort, warehouses WarehousePort, locker LockPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		source:     source,
		catalog:    catalogPort,
		warehouses: warehouses,
		locker:     locker,
		audit:      audit,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// PreviewDeduction computes the plan for one shipment without writing
// anything. It is safe to call any number of times.
func (s *Service) PreviewDeduction(ctx context.Context, ref string, warehouseID int64) (DeductionPlan, error) {
	if err := s.checkWarehouse(ctx, warehouseID); err != nil {
		return DeductionPlan{}, err
	}
	shipment, err := s.source.GetShipment(ctx, ref)
	if err != nil {
		return DeductionPlan{}, err
	}
	deducted, err := s.repo.ListDeducted(ctx, ref)
	if err != nil {
		return DeductionPlan{}, err
	}

	plan := DeductionPlan{ShipmentRef: ref, WarehouseID: warehouseID, DryRun: true}
	for _, line := range shipment.Lines {
		planLine, err := s.resolveLine(ctx, line)
		if err != nil {
			return DeductionPlan{}, err
		}
		if !planLine.Found {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("no mapping for seller sku %q", line.SellerSKU))
			plan.Skipped++
			plan.Lines = append(plan.Lines, planLine)
			continue
		}
		if deducted[planLine.MasterSKU] {
			planLine.AlreadyDeducted = true
			plan.Skipped++
			plan.Lines = append(plan.Lines, planLine)
			continue
		}
		before, err := s.repo.GetAvailable(ctx, warehouseID, planLine.MasterSKU)
		if err != nil {
			return DeductionPlan{}, err
		}
		planLine.Before = before
		planLine.After = before - line.Quantity
		planLine.Oversold = planLine.After < 0
		if planLine.Oversold {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("deducting %s would oversell (%d available, %d shipped)", planLine.MasterSKU, before, line.Quantity))
		}
		plan.Applied++
		plan.Lines = append(plan.Lines, planLine)
	}
	return plan, nil
}

// ApplyDeduction deducts one shipment's quantities from warehouse stock.
// A per-shipment lock plus the deduction ledger's unique constraint makes
// repeated and concurrent calls deduct each (shipment, sku) pair at most
// once. Negative resulting stock is preserved and reported as oversell.
func (s *Service) ApplyDeduction(ctx context.Context, ref string, warehouseID int64) (DeductionPlan, error) {
	if err := s.checkWarehouse(ctx, warehouseID); err != nil {
		return DeductionPlan{}, err
	}
	release, err := s.locker.Acquire(ctx, shared.ShipmentLockKey(ref))
	if err != nil {
		return DeductionPlan{}, err
	}
	defer release()

	shipment, err := s.source.GetShipment(ctx, ref)
	if err != nil {
		return DeductionPlan{}, err
	}

	now := s.now().UTC()
	plan := DeductionPlan{ShipmentRef: ref, WarehouseID: warehouseID}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range shipment.Lines {
			planLine, err := s.resolveLine(ctx, line)
			if err != nil {
				return err
			}
			if !planLine.Found {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("no mapping for seller sku %q", line.SellerSKU))
				plan.Skipped++
				plan.Lines = append(plan.Lines, planLine)
				continue
			}
			inserted, err := tx.InsertDeductionRecord(ctx, ref, planLine.MasterSKU, line.Quantity)
			if err != nil {
				return err
			}
			if !inserted {
				planLine.AlreadyDeducted = true
				plan.Skipped++
				plan.Lines = append(plan.Lines, planLine)
				continue
			}
			before, err := tx.GetAvailableForUpdate(ctx, warehouseID, planLine.MasterSKU)
			if err != nil {
				return err
			}
			planLine.Before = before
			planLine.After = before - line.Quantity
			planLine.Oversold = planLine.After < 0
			if err := tx.ApplyStockDelta(ctx, warehouseID, planLine.MasterSKU, -line.Quantity); err != nil {
				return err
			}
			if err := tx.InsertMovement(ctx, inventory.Movement{
				WarehouseID: warehouseID,
				SKU:         planLine.MasterSKU,
				QtyDelta:    -line.Quantity,
				RefModule:   inventory.RefModuleFulfillment,
				RefID:       ref,
				Note:        fmt.Sprintf("shipment %s deduction", ref),
				PostedAt:    now,
			}); err != nil {
				return err
			}
			if planLine.Oversold {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("oversold %s: stock now %d", planLine.MasterSKU, planLine.After))
			}
			// Linked products share one physical pool: every member's level
			// carries the combined receipts, so the decrement mirrors to each
			// of them too.
			group, err := s.catalog.ResolveGroup(ctx, planLine.MasterSKU)
			if err != nil && !errors.Is(err, catalog.ErrProductNotFound) {
				return err
			}
			seen := make(map[string]bool, len(group))
			for _, member := range group {
				if member.SKU == planLine.MasterSKU || seen[member.SKU] {
					continue
				}
				seen[member.SKU] = true
				if err := tx.ApplyStockDelta(ctx, warehouseID, member.SKU, -line.Quantity); err != nil {
					return err
				}
				if err := tx.InsertMovement(ctx, inventory.Movement{
					WarehouseID: warehouseID,
					SKU:         member.SKU,
					QtyDelta:    -line.Quantity,
					RefModule:   inventory.RefModuleFulfillment,
					RefID:       ref,
					Note:        fmt.Sprintf("shipment %s deduction (linked to %s)", ref, planLine.MasterSKU),
					PostedAt:    now,
				}); err != nil {
					return err
				}
			}
			plan.Applied++
			plan.Lines = append(plan.Lines, planLine)
		}
		return nil
	})
	if err != nil {
		return DeductionPlan{}, err
	}

	s.observe(plan)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "SHIPMENT_DEDUCT",
			Entity:   "fulfillment",
			EntityID: ref,
			Meta:     map[string]any{"applied": plan.Applied, "skipped": plan.Skipped, "warehouse_id": warehouseID},
		})
	}
	return plan, nil
}

// DeductPlan processes every shipment of one inbound plan. The per-shipment
// guard scopes failures: one locked or failing shipment does not block the
// others.
func (s *Service) DeductPlan(ctx context.Context, planID string, warehouseID int64, dryRun bool) ([]DeductionPlan, error) {
	if err := s.checkWarehouse(ctx, warehouseID); err != nil {
		return nil, err
	}
	shipments, err := s.source.GetPlanShipments(ctx, planID)
	if err != nil {
		return nil, err
	}
	plans := make([]DeductionPlan, 0, len(shipments))
	for _, shipment := range shipments {
		var plan DeductionPlan
		if dryRun {
			plan, err = s.PreviewDeduction(ctx, shipment.Ref, warehouseID)
		} else {
			plan, err = s.ApplyDeduction(ctx, shipment.Ref, warehouseID)
		}
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("plan shipment skipped",
					slog.String("plan_id", planID),
					slog.String("shipment_ref", shipment.Ref),
					slog.Any("error", err))
			}
			plans = append(plans, DeductionPlan{
				ShipmentRef: shipment.Ref,
				WarehouseID: warehouseID,
				DryRun:      dryRun,
				Warnings:    []string{err.Error()},
			})
			continue
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (s *Service) checkWarehouse(ctx context.Context, warehouseID int64) error {
	if s.warehouses == nil {
		return nil
	}
	ok, err := s.warehouses.Exists(ctx, warehouseID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWarehouseNotFound
	}
	return nil
}

func (s *Service) resolveLine(ctx context.Context, line ShipmentLine) (PlanLine, error) {
	planLine := PlanLine{SellerSKU: line.SellerSKU, Quantity: line.Quantity}
	master, found, err := s.catalog.MasterSKU(ctx, line.SellerSKU)
	if err != nil {
		return PlanLine{}, err
	}
	planLine.Found = found
	planLine.MasterSKU = master
	return planLine, nil
}

func (s *Service) observe(plan DeductionPlan) {
	if s.metrics == nil {
		return
	}
	for _, line := range plan.Lines {
		switch {
		case line.AlreadyDeducted:
			s.metrics.ObserveDeduction("skipped", false)
		case !line.Found:
			s.metrics.ObserveDeduction("unmapped", false)
		default:
			s.metrics.ObserveDeduction("applied", line.Oversold)
		}
	}
}
