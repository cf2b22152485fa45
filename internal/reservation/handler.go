package reservation

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocklane/stocklane/internal/platform/httpx"
)

// Handler exposes the cart-hold operations consumed by the sales collaborator.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers reservation routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.reserve)
	r.Get("/{id}", h.get)
	r.Post("/{id}/release", h.release)
	r.Post("/{id}/commit", h.commit)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/sessions/{sessionID}/release", h.releaseSession)
}

type reserveRequest struct {
	BatchID       int64   `json:"batch_id" validate:"required"`
	Qty           float64 `json:"qty" validate:"gt=0"`
	SessionID     string  `json:"session_id" validate:"required"`
	ExpiryMinutes int     `json:"expiry_minutes" validate:"gte=0"`
}

type reservationResponse struct {
	ID         string     `json:"id"`
	BatchID    int64      `json:"batch_id"`
	SessionID  string     `json:"session_id"`
	Qty        float64    `json:"qty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

func toReservationResponse(res Reservation) reservationResponse {
	resp := reservationResponse{
		ID:        res.ID,
		BatchID:   res.BatchID,
		SessionID: res.SessionID,
		Qty:       res.Qty,
		Status:    string(res.Status),
		CreatedAt: res.CreatedAt,
		ExpiresAt: res.ExpiresAt,
	}
	if !res.ReleasedAt.IsZero() {
		resp.ReleasedAt = &res.ReleasedAt
	}
	return resp
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	res, err := h.service.Reserve(r.Context(), ReserveInput{
		BatchID:       req.BatchID,
		Qty:           req.Qty,
		SessionID:     req.SessionID,
		ExpiryMinutes: req.ExpiryMinutes,
	})
	if err != nil {
		h.logger.Warn("reserve failed", slog.Int64("batch", req.BatchID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toReservationResponse(res))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Release)
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Commit)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (Reservation, error)) {
	res, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handler) releaseSession(w http.ResponseWriter, r *http.Request) {
	released, err := h.service.ReleaseAllForSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"released": released})
}
