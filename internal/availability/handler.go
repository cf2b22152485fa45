package availability

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stocklane/stocklane/internal/platform/httpx"
)

// Handler exposes read-only availability queries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers availability routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/batches/{id}", h.forBatch)
	r.Get("/products/{id}", h.forProduct)
}

func (h *Handler) forBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return
	}
	res, err := h.service.ForBatch(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"batch_id":      res.BatchID,
		"available":     res.Available,
		"reserved":      res.Reserved,
		"allocated_out": res.AllocatedOut,
		"clamped":       res.Clamped,
	})
}

func (h *Handler) forProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	var warehouseID int64
	if raw := r.URL.Query().Get("warehouse_id"); raw != "" {
		warehouseID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid warehouse id")
			return
		}
	}
	breakdown, err := h.service.ForProduct(r.Context(), id, warehouseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, breakdown)
}
