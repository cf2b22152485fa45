package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stocklane/stocklane/internal/adjustment"
	"github.com/stocklane/stocklane/internal/availability"
	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/observability"
	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/reconcile"
	"github.com/stocklane/stocklane/internal/reservation"
	"github.com/stocklane/stocklane/internal/shared"
	"github.com/stocklane/stocklane/internal/transfer"
	"github.com/stocklane/stocklane/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	LedgerHandler       *ledger.Handler
	AvailabilityHandler *availability.Handler
	AdjustmentHandler   *adjustment.Handler
	ReservationHandler  *reservation.Handler
	TransferHandler     *transfer.Handler
	ReconcileHandler    *reconcile.Handler
	Auditor             *shared.AuditLogger
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with StockLane defaults.
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

	r.Route("/batches", params.LedgerHandler.MountRoutes)
	r.Route("/availability", params.AvailabilityHandler.MountRoutes)
	r.Route("/adjustments", params.AdjustmentHandler.MountRoutes)
	r.Route("/reservations", params.ReservationHandler.MountRoutes)
	r.Route("/transfers", params.TransferHandler.MountRoutes)
	r.Route("/transfer-requests", params.TransferHandler.MountRequestRoutes)
	r.Route("/reconciliation", params.ReconcileHandler.MountRoutes)

	if params.Auditor != nil {
		r.Get("/audit/{entity}/{entityID}", func(w http.ResponseWriter, req *http.Request) {
			entity := chi.URLParam(req, "entity")
			entityID := chi.URLParam(req, "entityID")
			logs, err := params.Auditor.List(req.Context(), entity, entityID)
			if err != nil {
				params.Logger.Warn("list audit logs failed", slog.String("entity", entity), slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			httpx.JSON(w, http.StatusOK, map[string]any{"entries": logs})
		})
	}

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
