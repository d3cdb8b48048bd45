package fulfillment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler wires HTTP endpoints for the fulfillment module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers fulfillment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/shipments/{ref}/deduct", h.deductShipment)
	r.Post("/plans/{planID}/deduct", h.deductPlan)
}

func (h *Handler) deductShipment(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	warehouseID, ok := queryWarehouse(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id query parameter required")
		return
	}
	var plan DeductionPlan
	var err error
	if queryDryRun(r) {
		plan, err = h.service.PreviewDeduction(r.Context(), ref, warehouseID)
	} else {
		plan, err = h.service.ApplyDeduction(r.Context(), ref, warehouseID)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) deductPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	warehouseID, ok := queryWarehouse(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id query parameter required")
		return
	}
	plans, err := h.service.DeductPlan(r.Context(), planID, warehouseID, queryDryRun(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plans)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrShipmentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "shipment not found")
	case errors.Is(err, ErrWarehouseNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "warehouse not found")
	case errors.Is(err, shared.ErrLockHeld):
		httpx.Problem(w, http.StatusConflict, "Locked", "this shipment is being processed by another request")
	case errors.Is(err, shared.ErrUpstream):
		httpx.Problem(w, http.StatusBadGateway, "Upstream Error", "the fulfillment network request failed")
	default:
		h.logger.Error("fulfillment request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func queryWarehouse(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	return id, err == nil && id > 0
}

func queryDryRun(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	return v
}
