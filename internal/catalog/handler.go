package catalog

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stocklane/stocklane/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the catalog module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/products", h.upsertProduct)
	r.Get("/products/{sku}/group", h.resolveGroup)
	r.Post("/products/{sku}/group", h.assignGroup)
	r.Post("/mappings", h.upsertMapping)
}

type upsertProductRequest struct {
	SKU    string          `json:"sku" validate:"required,max=64"`
	Title  string          `json:"title" validate:"required,max=255"`
	Cost   decimal.Decimal `json:"cost"`
	Active bool            `json:"active"`
}

type assignGroupRequest struct {
	GroupID string `json:"group_id" validate:"max=64"`
}

type upsertMappingRequest struct {
	SellerSKU string `json:"seller_sku" validate:"required,max=64"`
	MasterSKU string `json:"master_sku" validate:"required,max=64"`
	Channel   string `json:"channel" validate:"required,max=32"`
}

type productResponse struct {
	SKU             string          `json:"sku"`
	Title           string          `json:"title"`
	Cost            decimal.Decimal `json:"cost"`
	PhysicalGroupID *string         `json:"physical_group_id"`
	Active          bool            `json:"active"`
}

func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req upsertProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err := h.service.UpsertProduct(r.Context(), Product{
		SKU:    req.SKU,
		Title:  req.Title,
		Cost:   req.Cost,
		Active: req.Active,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"sku": req.SKU})
}

func (h *Handler) resolveGroup(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	members, err := h.service.ResolveGroup(r.Context(), sku)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]productResponse, 0, len(members))
	for _, p := range members {
		out = append(out, productResponse{
			SKU:             p.SKU,
			Title:           p.Title,
			Cost:            p.Cost,
			PhysicalGroupID: p.PhysicalGroupID,
			Active:          p.Active,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": out})
}

func (h *Handler) assignGroup(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	var req assignGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AssignGroup(r.Context(), sku, req.GroupID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"sku": sku, "group_id": req.GroupID})
}

func (h *Handler) upsertMapping(w http.ResponseWriter, r *http.Request) {
	var req upsertMappingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err := h.service.UpsertMapping(r.Context(), ChannelMapping{
		SellerSKU: req.SellerSKU,
		MasterSKU: req.MasterSKU,
		Channel:   req.Channel,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"seller_sku": req.SellerSKU, "master_sku": req.MasterSKU})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("catalog request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
