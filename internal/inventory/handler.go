package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stocklane/stocklane/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory queries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/levels", h.listLevels)
	r.Get("/levels/{sku}", h.getLevel)
	r.Get("/movements", h.listMovements)
}

func (h *Handler) getLevel(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id is required")
		return
	}
	sku := chi.URLParam(r, "sku")
	level, err := h.service.GetLevel(r.Context(), warehouseID, sku)
	if err != nil {
		h.logger.Error("get level", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) listLevels(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	levels, err := h.service.ListLevels(r.Context(), warehouseID, limit)
	if err != nil {
		h.logger.Error("list levels", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"levels": levels})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{SKU: q.Get("sku")}
	if v := q.Get("warehouse_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id is invalid")
			return
		}
		filter.WarehouseID = id
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from date is invalid")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to date is invalid")
			return
		}
		// end of day
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		if errors.Is(err, ErrInvalidFilter) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}
