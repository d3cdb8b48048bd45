package purchasing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocklane/stocklane/internal/catalog"
	"github.com/stocklane/stocklane/internal/inventory"
	"github.com/stocklane/stocklane/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, error)
	ListBackorders(ctx context.Context, poID int64) ([]Backorder, error)
}

// CatalogPort resolves shared-inventory groups.
type CatalogPort interface {
	ResolveGroup(ctx context.Context, sku string) ([]catalog.Product, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records receiving outcomes.
type MetricsPort interface {
	ObserveReceiving(backordersCreated int)
}

// Service orchestrates purchase order flows, receiving above all.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	audit       AuditPort
	metrics     MetricsPort
	idempotency *shared.IdempotencyStore
	now         func() time.Time
}

// NewService constructs purchasing service.
func NewService(repo RepositoryPort, catalogPort CatalogPort, audit AuditPort, metrics MetricsPort, idem *shared.IdempotencyStore) *Service {
	return &Service{
		repo:        repo,
		catalog:     catalogPort,
		audit:       audit,
		metrics:     metrics,
		idempotency: idem,
		now:         time.Now,
	}
}

// CreatePOInput describes creation payload.
type CreatePOInput struct {
	Number      string
	SupplierID  int64
	WarehouseID int64
	Shipping    decimal.Decimal
	Tax         decimal.Decimal
	OtherCost   decimal.Decimal
	ExpectedAt  *time.Time
	Note        string
	Items       []ItemInput
}

// ItemInput describes one ordered line.
type ItemInput struct {
	SKU             string
	QuantityOrdered int64
	UnitCost        decimal.Decimal
}

// CreatePurchaseOrder persists the PO header and lines in DRAFT.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if input.SupplierID == 0 || input.WarehouseID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier and warehouse required", ErrValidation)
	}
	if input.Number == "" {
		input.Number = generateNumber("PO")
	}
	po := PurchaseOrder{
		Number:      input.Number,
		SupplierID:  input.SupplierID,
		WarehouseID: input.WarehouseID,
		Status:      POStatusDraft,
		Shipping:    input.Shipping,
		Tax:         input.Tax,
		OtherCost:   input.OtherCost,
		ExpectedAt:  input.ExpectedAt,
		Note:        input.Note,
		CreatedAt:   s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		poID, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID
		items := make([]PurchaseOrderItem, 0, len(input.Items))
		for _, line := range input.Items {
			if line.SKU == "" || line.QuantityOrdered <= 0 {
				return fmt.Errorf("%w: each item needs sku and positive quantity", ErrValidation)
			}
			item := PurchaseOrderItem{POID: poID, SKU: line.SKU, QuantityOrdered: line.QuantityOrdered, UnitCost: line.UnitCost}
			if _, err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
			items = append(items, item)
		}
		po = RecomputeMoney(po, items)
		return tx.UpdatePOMoney(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_CREATE", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// GetPurchaseOrder fetches the PO, its items and open backorder rows.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderItem, []Backorder, error) {
	po, items, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return PurchaseOrder{}, nil, nil, err
	}
	backorders, err := s.repo.ListBackorders(ctx, id)
	if err != nil {
		return PurchaseOrder{}, nil, nil, err
	}
	return po, items, backorders, nil
}

// AddItem appends an ordered line; only DRAFT and PENDING orders are
// editable. Money totals are recomputed from the resulting lines.
func (s *Service) AddItem(ctx context.Context, poID int64, line ItemInput) (PurchaseOrderItem, error) {
	if line.SKU == "" || line.QuantityOrdered <= 0 {
		return PurchaseOrderItem{}, fmt.Errorf("%w: sku and positive quantity required", ErrValidation)
	}
	var created PurchaseOrderItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if !po.Status.Editable() {
			return ErrInvalidState
		}
		item := PurchaseOrderItem{POID: poID, SKU: line.SKU, QuantityOrdered: line.QuantityOrdered, UnitCost: line.UnitCost}
		itemID, err := tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		item.ID = itemID
		created = item
		items, err := tx.GetItems(ctx, poID)
		if err != nil {
			return err
		}
		return tx.UpdatePOMoney(ctx, RecomputeMoney(po, items))
	})
	if err != nil {
		return PurchaseOrderItem{}, err
	}
	return created, nil
}

// RemoveItem drops an ordered line; only DRAFT and PENDING orders are
// editable.
func (s *Service) RemoveItem(ctx context.Context, poID, itemID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if !po.Status.Editable() {
			return ErrInvalidState
		}
		if err := tx.DeleteItem(ctx, poID, itemID); err != nil {
			return err
		}
		items, err := tx.GetItems(ctx, poID)
		if err != nil {
			return err
		}
		return tx.UpdatePOMoney(ctx, RecomputeMoney(po, items))
	})
}

// AdvanceStatus moves the order along the manual lifecycle
// (DRAFT→PENDING→SENT→CONFIRMED→SHIPPED).
func (s *Service) AdvanceStatus(ctx context.Context, poID int64, actorID int64) (POStatus, error) {
	var next POStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		next, err = Advance(po.Status)
		if err != nil {
			return err
		}
		return tx.UpdatePOStatus(ctx, poID, next, nil)
	})
	if err != nil {
		return "", err
	}
	s.recordAudit(ctx, "PO_ADVANCE", poID, map[string]any{"status": string(next), "actor": actorID})
	return next, nil
}

// Cancel marks the order CANCELLED; terminal orders cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, poID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return ErrInvalidState
		}
		return tx.UpdatePOStatus(ctx, poID, POStatusCancelled, nil)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_CANCEL", poID, map[string]any{"actor": actorID})
	return nil
}

// Delete removes the order entirely; permitted only in DRAFT or PENDING.
func (s *Service) Delete(ctx context.Context, poID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if !po.Status.Editable() {
			return ErrInvalidState
		}
		return tx.DeletePO(ctx, poID)
	})
}

// itemDelta accumulates queued counter increments for one PO item.
type itemDelta struct {
	received int64
	damaged  int64
}

// Receive applies one receiving batch. The whole batch is validated before
// any write; a single violation rejects everything and leaves every counter
// untouched. All writes happen inside one repeatable-read transaction that
// locks the PO row, so concurrent batches against the same order serialise.
func (s *Service) Receive(ctx context.Context, cmd ReceiveCommand) (ReceiveSummary, error) {
	if len(cmd.Items) == 0 {
		return ReceiveSummary{}, fmt.Errorf("%w: no items submitted", ErrValidation)
	}
	for _, input := range cmd.Items {
		if input.Received < 0 || input.Damaged < 0 || input.Backorder < 0 {
			return ReceiveSummary{}, ErrNegativeDelta
		}
	}

	insertedKey := false
	if s.idempotency != nil && cmd.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, cmd.IdempotencyKey, "purchasing"); err != nil {
			return ReceiveSummary{}, err
		}
		insertedKey = true
	}

	now := s.now().UTC()
	receivedAt := now
	if cmd.ReceivedAt != nil {
		receivedAt = cmd.ReceivedAt.UTC()
	}

	var summary ReceiveSummary
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, cmd.POID)
		if err != nil {
			return err
		}
		if po.Status == POStatusCancelled {
			return ErrInvalidState
		}
		items, err := tx.GetItems(ctx, cmd.POID)
		if err != nil {
			return err
		}
		byID := make(map[int64]*PurchaseOrderItem, len(items))
		bySKU := make(map[string]*PurchaseOrderItem, len(items))
		for i := range items {
			byID[items[i].ID] = &items[i]
			bySKU[items[i].SKU] = &items[i]
		}

		// Deterministic processing order.
		itemIDs := make([]int64, 0, len(cmd.Items))
		for id := range cmd.Items {
			itemIDs = append(itemIDs, id)
		}
		sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

		deltas := make(map[int64]*itemDelta)
		stockDeltas := make(map[string]int64)
		var backorders []Backorder

		// Validation pass: no writes until the whole batch checks out.
		for _, itemID := range itemIDs {
			input := cmd.Items[itemID]
			item, ok := byID[itemID]
			if !ok {
				return fmt.Errorf("%w: item %d", ErrItemNotInOrder, itemID)
			}
			if _, err := ValidateReceipt(*item, input.Received, input.Damaged, input.Backorder); err != nil {
				return err
			}
			addDelta(deltas, itemID, input.Received, input.Damaged)
			// Damaged units never reach the shelf.
			stockDeltas[item.SKU] += input.Received

			if input.Backorder > 0 {
				backorders = append(backorders, NewBackorder(po, *item, input.Backorder, receivedAt))
			}

			if input.Received > 0 {
				group, err := s.catalog.ResolveGroup(ctx, item.SKU)
				if err != nil && !errors.Is(err, catalog.ErrProductNotFound) {
					return err
				}
				seen := make(map[string]bool, len(group))
				for _, member := range group {
					// Propagate once per target per call; never back to the
					// source line, and never onto lines that carry their own
					// submitted deltas.
					if member.SKU == item.SKU || seen[member.SKU] {
						continue
					}
					seen[member.SKU] = true
					stockDeltas[member.SKU] += input.Received
					if linked, ok := bySKU[member.SKU]; ok && !submitted(cmd.Items, linked.ID) {
						if _, err := ValidateReceipt(*linked, input.Received, 0, 0); err != nil {
							return err
						}
						addDelta(deltas, linked.ID, input.Received, 0)
					}
				}
			}
		}

		// Mirrored increments from two sources may stack on one line; check
		// the accumulated totals still hold the invariant.
		for itemID, delta := range deltas {
			item := byID[itemID]
			if _, err := ValidateReceipt(*item, delta.received, delta.damaged, 0); err != nil {
				return err
			}
		}

		// Write pass.
		for _, itemID := range sortedKeys(deltas) {
			delta := deltas[itemID]
			if err := tx.AddItemQuantities(ctx, itemID, delta.received, delta.damaged); err != nil {
				return err
			}
			item := byID[itemID]
			item.QuantityReceived += delta.received
			item.QuantityDamaged += delta.damaged
		}
		for _, sku := range sortedStringKeys(stockDeltas) {
			qty := stockDeltas[sku]
			if qty == 0 {
				continue
			}
			if err := tx.ApplyStockDelta(ctx, po.WarehouseID, sku, qty); err != nil {
				return err
			}
			if err := tx.InsertMovement(ctx, inventory.Movement{
				WarehouseID: po.WarehouseID,
				SKU:         sku,
				QtyDelta:    qty,
				RefModule:   inventory.RefModulePurchasing,
				RefID:       po.Number,
				Note:        fmt.Sprintf("receiving %s", po.Number),
				PostedAt:    receivedAt,
			}); err != nil {
				return err
			}
		}
		for _, bo := range backorders {
			if _, err := tx.InsertBackorder(ctx, bo); err != nil {
				return err
			}
		}

		totals := TotalsOf(items)
		newStatus := DeriveStatus(po.Status, totals, len(backorders) > 0)
		if newStatus != po.Status {
			arrived := receivedAt
			if err := tx.UpdatePOStatus(ctx, cmd.POID, newStatus, &arrived); err != nil {
				return err
			}
			if newStatus == POStatusReceived && po.ExpectedAt != nil {
				days := wholeDays(po.CreatedAt, now)
				if err := tx.ObserveSupplierLeadTime(ctx, po.SupplierID, days); err != nil {
					return err
				}
			}
		}

		open, err := tx.CountOpenBackorders(ctx, cmd.POID)
		if err != nil {
			return err
		}
		summary = ReceiveSummary{
			ItemsUpdated:      len(deltas),
			BackordersCreated: len(backorders),
			Status:            newStatus,
			StatusChanged:     newStatus != po.Status,
			OpenBackorders:    open,
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, cmd.IdempotencyKey)
		}
		return ReceiveSummary{}, err
	}

	if s.metrics != nil {
		s.metrics.ObserveReceiving(summary.BackordersCreated)
	}
	s.recordAudit(ctx, "PO_RECEIVE", cmd.POID, map[string]any{
		"items_updated":      summary.ItemsUpdated,
		"backorders_created": summary.BackordersCreated,
		"status":             string(summary.Status),
		"actor":              cmd.ActorID,
	})
	return summary, nil
}

func addDelta(deltas map[int64]*itemDelta, itemID, received, damaged int64) {
	delta, ok := deltas[itemID]
	if !ok {
		delta = &itemDelta{}
		deltas[itemID] = delta
	}
	delta.received += received
	delta.damaged += damaged
}

func submitted(items map[int64]ReceiptInput, itemID int64) bool {
	_, ok := items[itemID]
	return ok
}

func sortedKeys(m map[int64]*itemDelta) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedStringKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func wholeDays(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "purchasing", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
