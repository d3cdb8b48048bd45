package suppliers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stocklane/stocklane/internal/platform/httpx"
)

// Handler wires HTTP endpoints for suppliers.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler constructs supplier handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers supplier routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/", h.create)
}

type createSupplierRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "supplier id is invalid")
		return
	}
	supplier, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get supplier", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, supplier)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.repo.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list suppliers", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suppliers": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createSupplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "name is required")
		return
	}
	id, err := h.repo.Create(r.Context(), Supplier{Name: req.Name, Email: req.Email, Active: true})
	if err != nil {
		h.logger.Error("create supplier", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": id})
}
