package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stocklane/stocklane/internal/catalog"
	"github.com/stocklane/stocklane/internal/fulfillment"
	"github.com/stocklane/stocklane/internal/inventory"
	"github.com/stocklane/stocklane/internal/masterdata/warehouses"
	"github.com/stocklane/stocklane/internal/observability"
	"github.com/stocklane/stocklane/internal/purchasing"
	"github.com/stocklane/stocklane/internal/suppliers"
	"github.com/stocklane/stocklane/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	PurchasingHandler  *purchasing.Handler
	FulfillmentHandler *fulfillment.Handler
	InventoryHandler   *inventory.Handler
	CatalogHandler     *catalog.Handler
	SuppliersHandler   *suppliers.Handler
	WarehousesHandler  *warehouses.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Stocklane defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		if params.PurchasingHandler != nil {
			api.Route("/purchase-orders", params.PurchasingHandler.MountRoutes)
		}
		if params.FulfillmentHandler != nil {
			api.Route("/fulfillment", params.FulfillmentHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			api.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.CatalogHandler != nil {
			api.Route("/catalog", params.CatalogHandler.MountRoutes)
		}
		if params.SuppliersHandler != nil {
			api.Route("/suppliers", params.SuppliersHandler.MountRoutes)
		}
		if params.WarehousesHandler != nil {
			api.Route("/warehouses", params.WarehousesHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
