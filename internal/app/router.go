package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zambezi-erp/zambezi-erp/internal/declaration"
	"github.com/zambezi-erp/zambezi-erp/internal/documents"
	"github.com/zambezi-erp/zambezi-erp/internal/escrow"
	"github.com/zambezi-erp/zambezi-erp/internal/observability"
	"github.com/zambezi-erp/zambezi-erp/internal/stock"
	"github.com/zambezi-erp/zambezi-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Pool         *pgxpool.Pool
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
	Documents    *documents.Handler
	Declarations *declaration.Handler
	Escrows      *escrow.Handler
	Stock        *stock.Handler
}

// NewRouter constructs the chi.Router serving the fiscal document API
// alongside health and job observability endpoints.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("readiness ping", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(TenantIdentity)
		if params.Documents != nil {
			params.Documents.MountRoutes(api)
		}
		if params.Declarations != nil {
			params.Declarations.MountRoutes(api)
		}
		if params.Escrows != nil {
			params.Escrows.MountRoutes(api)
		}
		if params.Stock != nil {
			params.Stock.MountRoutes(api)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
