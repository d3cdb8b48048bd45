package purchasing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler wires HTTP endpoints for the purchasing module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	repo      *Repository
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, repo *Repository) *Handler {
	return &Handler{logger: logger, service: service, repo: repo, validator: validator.New()}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/items", h.addItem)
	r.Delete("/{id}/items/{itemID}", h.removeItem)
	r.Post("/{id}/advance", h.advance)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/receive", h.receive)
	r.Post("/backorders/{id}/resolve", h.resolveBackorder)
}

type itemRequest struct {
	SKU             string          `json:"sku" validate:"required,max=64"`
	QuantityOrdered int64           `json:"quantity_ordered" validate:"required,gt=0"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
}

type createRequest struct {
	Number      string          `json:"number" validate:"max=64"`
	SupplierID  int64           `json:"supplier_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Shipping    decimal.Decimal `json:"shipping"`
	Tax         decimal.Decimal `json:"tax"`
	OtherCost   decimal.Decimal `json:"other_cost"`
	ExpectedAt  *time.Time      `json:"expected_at"`
	Note        string          `json:"note" validate:"max=1000"`
	Items       []itemRequest   `json:"items" validate:"dive"`
}

type receiveLineRequest struct {
	ItemID    int64 `json:"item_id" validate:"required,gt=0"`
	Received  int64 `json:"received" validate:"gte=0"`
	Damaged   int64 `json:"damaged" validate:"gte=0"`
	Backorder int64 `json:"backorder" validate:"gte=0"`
}

type receiveRequest struct {
	Items      []receiveLineRequest `json:"items" validate:"required,min=1,dive"`
	ReceivedAt *time.Time           `json:"received_at"`
}

type poResponse struct {
	ID         int64               `json:"id"`
	Number     string              `json:"number"`
	SupplierID int64               `json:"supplier_id"`
	Warehouse  int64               `json:"warehouse_id"`
	Status     POStatus            `json:"status"`
	Subtotal   decimal.Decimal     `json:"subtotal"`
	Shipping   decimal.Decimal     `json:"shipping"`
	Tax        decimal.Decimal     `json:"tax"`
	OtherCost  decimal.Decimal     `json:"other_cost"`
	Total      decimal.Decimal     `json:"total"`
	ExpectedAt *time.Time          `json:"expected_at"`
	ArrivedAt  *time.Time          `json:"arrived_at"`
	Note       string              `json:"note,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	Items      []itemResponse      `json:"items,omitempty"`
	Backorders []backorderResponse `json:"backorders,omitempty"`
}

type itemResponse struct {
	ID               int64           `json:"id"`
	SKU              string          `json:"sku"`
	QuantityOrdered  int64           `json:"quantity_ordered"`
	QuantityReceived int64           `json:"quantity_received"`
	QuantityDamaged  int64           `json:"quantity_damaged"`
	Outstanding      int64           `json:"outstanding"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
}

type backorderResponse struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Quantity  int64           `json:"quantity"`
	Status    BackorderStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

func toPOResponse(po PurchaseOrder, items []PurchaseOrderItem, backorders []Backorder) poResponse {
	resp := poResponse{
		ID:         po.ID,
		Number:     po.Number,
		SupplierID: po.SupplierID,
		Warehouse:  po.WarehouseID,
		Status:     po.Status,
		Subtotal:   po.Subtotal,
		Shipping:   po.Shipping,
		Tax:        po.Tax,
		OtherCost:  po.OtherCost,
		Total:      po.Total,
		ExpectedAt: po.ExpectedAt,
		ArrivedAt:  po.ArrivedAt,
		Note:       po.Note,
		CreatedAt:  po.CreatedAt,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, itemResponse{
			ID:               item.ID,
			SKU:              item.SKU,
			QuantityOrdered:  item.QuantityOrdered,
			QuantityReceived: item.QuantityReceived,
			QuantityDamaged:  item.QuantityDamaged,
			Outstanding:      item.Outstanding(),
			UnitCost:         item.UnitCost,
		})
	}
	for _, bo := range backorders {
		resp.Backorders = append(resp.Backorders, backorderResponse{
			ID: bo.ID, SKU: bo.SKU, Quantity: bo.Quantity, Status: bo.Status, CreatedAt: bo.CreatedAt,
		})
	}
	return resp
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreatePOInput{
		Number:      req.Number,
		SupplierID:  req.SupplierID,
		WarehouseID: req.WarehouseID,
		Shipping:    req.Shipping,
		Tax:         req.Tax,
		OtherCost:   req.OtherCost,
		ExpectedAt:  req.ExpectedAt,
		Note:        req.Note,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{SKU: item.SKU, QuantityOrdered: item.QuantityOrdered, UnitCost: item.UnitCost})
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": po.ID, "number": po.Number, "status": po.Status})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	status := POStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := h.repo.ListPOs(r.Context(), status, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := make([]poResponse, 0, len(orders))
	for _, po := range orders {
		resp = append(resp, toPOResponse(po, nil, nil))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	po, items, backorders, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPOResponse(po, items, backorders))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.service.AddItem(r.Context(), id, ItemInput{SKU: req.SKU, QuantityOrdered: req.QuantityOrdered, UnitCost: req.UnitCost})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": item.ID, "sku": item.SKU})
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	if err := h.service.RemoveItem(r.Context(), id, itemID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	status, err := h.service.AdvanceStatus(r.Context(), id, actorID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": status})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.service.Cancel(r.Context(), id, actorID(r)); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": POStatusCancelled})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cmd := ReceiveCommand{
		POID:           id,
		Items:          make(map[int64]ReceiptInput, len(req.Items)),
		ReceivedAt:     req.ReceivedAt,
		ActorID:        actorID(r),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, line := range req.Items {
		if _, dup := cmd.Items[line.ItemID]; dup {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "duplicate item in batch")
			return
		}
		cmd.Items[line.ItemID] = ReceiptInput{Received: line.Received, Damaged: line.Damaged, Backorder: line.Backorder}
	}
	summary, err := h.service.Receive(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items_updated":      summary.ItemsUpdated,
		"backorders_created": summary.BackordersCreated,
		"status":             summary.Status,
		"status_changed":     summary.StatusChanged,
		"open_backorders":    summary.OpenBackorders,
	})
}

func (h *Handler) resolveBackorder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.repo.ResolveBackorder(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(BackorderStatusResolved)})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var exceeded *QuantityExceededError
	switch {
	case errors.As(err, &exceeded):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Quantity Exceeded", exceeded.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "purchase order not found")
	case errors.Is(err, ErrItemNotInOrder):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown Item", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", "the order status does not allow this action")
	case errors.Is(err, ErrNegativeDelta), errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this idempotency key was already used")
	case errors.Is(err, shared.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "a concurrent update prevented this change")
	default:
		h.logger.Error("purchasing request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
