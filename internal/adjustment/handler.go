package adjustment

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocklane/stocklane/internal/availability"
	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler exposes adjustment CRUD and the approve/reject actions.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers adjustment routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
}

type createRequest struct {
	BatchID int64   `json:"batch_id" validate:"required"`
	Type    string  `json:"type" validate:"required"`
	Delta   float64 `json:"delta"`
	Reason  string  `json:"reason" validate:"required"`
}

type adjustmentResponse struct {
	ID          int64      `json:"id"`
	BatchID     int64      `json:"batch_id"`
	Type        string     `json:"type"`
	Delta       float64    `json:"delta"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason"`
	RequestedBy int64      `json:"requested_by"`
	ApprovedBy  int64      `json:"approved_by,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`

	Availability *availability.Result `json:"availability,omitempty"`
}

func toAdjustmentResponse(adj Adjustment) adjustmentResponse {
	resp := adjustmentResponse{
		ID:          adj.ID,
		BatchID:     adj.BatchID,
		Type:        string(adj.Type),
		Delta:       adj.Delta,
		Status:      string(adj.Status),
		Reason:      adj.Reason,
		RequestedBy: adj.RequestedBy,
		ApprovedBy:  adj.ApprovedBy,
		RequestedAt: adj.RequestedAt,
	}
	if adj.DecidedAt.Unix() > 0 {
		resp.DecidedAt = &adj.DecidedAt
	}
	return resp
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	adj, err := h.service.Create(r.Context(), CreateInput{
		BatchID:     req.BatchID,
		Type:        Type(req.Type),
		Delta:       req.Delta,
		Reason:      req.Reason,
		RequestedBy: actor.ID,
	})
	if err != nil {
		h.logger.Warn("create adjustment failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAdjustmentResponse(adj))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid adjustment id")
		return
	}
	adj, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAdjustmentResponse(adj))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid adjustment id")
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	adj, result, err := h.service.Approve(r.Context(), id, actor)
	if err != nil {
		h.logger.Warn("approve adjustment failed", slog.Int64("adjustment", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := toAdjustmentResponse(adj)
	resp.Availability = &result
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid adjustment id")
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	adj, err := h.service.Reject(r.Context(), id, actor)
	if err != nil {
		h.logger.Warn("reject adjustment failed", slog.Int64("adjustment", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAdjustmentResponse(adj))
}
