package transfer

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler exposes both transfer workflows: the push transfer state machine
// and the storefront pull requests.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	audit     *shared.AuditLogger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audit *shared.AuditLogger) *Handler {
	return &Handler{logger: logger, service: service, audit: audit, validator: validator.New()}
}

// MountRoutes registers push-model transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/dispatch", h.dispatch)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/receipt", h.confirmReceipt)
}

// MountRequestRoutes registers pull-model request routes.
func (h *Handler) MountRequestRoutes(r chi.Router) {
	r.Post("/", h.createRequest)
	r.Get("/{id}", h.getRequest)
	r.Post("/{id}/assign", h.assignRequest)
	r.Post("/{id}/fulfill", h.manualFulfill)
	r.Post("/{id}/cancel", h.cancelRequest)
}

type lineRequest struct {
	BatchID   int64   `json:"batch_id" validate:"required"`
	ProductID int64   `json:"product_id" validate:"required"`
	Qty       float64 `json:"qty" validate:"gt=0"`
}

type createTransferRequest struct {
	Reference string        `json:"reference"`
	SourceID  int64         `json:"source_id" validate:"required"`
	DestID    int64         `json:"dest_id" validate:"required"`
	RequestID int64         `json:"request_id"`
	Lines     []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type lineResponse struct {
	ID           int64   `json:"id"`
	BatchID      int64   `json:"batch_id"`
	ProductID    int64   `json:"product_id"`
	RequestedQty float64 `json:"requested_qty"`
	ApprovedQty  float64 `json:"approved_qty"`
	FulfilledQty float64 `json:"fulfilled_qty"`
}

type transferResponse struct {
	ID         int64             `json:"id"`
	Reference  string            `json:"reference"`
	SourceID   int64             `json:"source_id"`
	DestID     int64             `json:"dest_id"`
	Status     string            `json:"status"`
	RequestID  int64             `json:"request_id,omitempty"`
	CreatedBy  int64             `json:"created_by"`
	ReceivedBy int64             `json:"received_by,omitempty"`
	ReceivedAt *time.Time        `json:"received_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Lines      []lineResponse    `json:"lines"`
	AuditTrail []shared.AuditLog `json:"audit_trail,omitempty"`
}

func (h *Handler) toTransferResponse(ctx context.Context, tr Transfer, withAudit bool) transferResponse {
	resp := transferResponse{
		ID:         tr.ID,
		Reference:  tr.Reference,
		SourceID:   tr.SourceID,
		DestID:     tr.DestID,
		Status:     string(tr.Status),
		RequestID:  tr.RequestID,
		CreatedBy:  tr.CreatedBy,
		ReceivedBy: tr.ReceivedBy,
		CreatedAt:  tr.CreatedAt,
		UpdatedAt:  tr.UpdatedAt,
	}
	if !tr.ReceivedAt.IsZero() && tr.ReceivedAt.Unix() > 0 {
		resp.ReceivedAt = &tr.ReceivedAt
	}
	for _, line := range tr.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:           line.ID,
			BatchID:      line.BatchID,
			ProductID:    line.ProductID,
			RequestedQty: line.RequestedQty,
			ApprovedQty:  line.ApprovedQty,
			FulfilledQty: line.FulfilledQty,
		})
	}
	if withAudit && h.audit != nil {
		trail, err := h.audit.List(ctx, "transfer", strconv.FormatInt(tr.ID, 10))
		if err != nil {
			h.logger.Warn("load audit trail", slog.Int64("transfer", tr.ID), slog.Any("error", err))
		} else {
			resp.AuditTrail = trail
		}
	}
	return resp
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	input := CreateInput{
		Reference: req.Reference,
		SourceID:  req.SourceID,
		DestID:    req.DestID,
		RequestID: req.RequestID,
		CreatedBy: actor.ID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{BatchID: line.BatchID, ProductID: line.ProductID, Qty: line.Qty})
	}
	tr, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Warn("create transfer failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toTransferResponse(r.Context(), tr, false))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	tr, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toTransferResponse(r.Context(), tr, true))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.Submit)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.Dispatch)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.Reject)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.Cancel)
}

func (h *Handler) confirmReceipt(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.ConfirmReceipt)
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, shared.Actor) (Transfer, error)) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	tr, err := fn(r.Context(), id, actor)
	if err != nil {
		h.logger.Warn("transfer action failed", slog.Int64("transfer", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toTransferResponse(r.Context(), tr, true))
}

type approveTransferRequest struct {
	ApprovedQty map[int64]float64 `json:"approved_qty"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	var req approveTransferRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
			return
		}
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	tr, err := h.service.Approve(r.Context(), id, ApproveInput{ApprovedQty: req.ApprovedQty}, actor)
	if err != nil {
		h.logger.Warn("approve transfer failed", slog.Int64("transfer", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toTransferResponse(r.Context(), tr, true))
}

type completeTransferRequest struct {
	FulfilledQty map[int64]float64 `json:"fulfilled_qty"`
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	var req completeTransferRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
			return
		}
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	tr, err := h.service.Complete(r.Context(), id, CompleteInput{FulfilledQty: req.FulfilledQty}, actor)
	if err != nil {
		h.logger.Warn("complete transfer failed", slog.Int64("transfer", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toTransferResponse(r.Context(), tr, true))
}

type requestLinePayload struct {
	ProductID int64   `json:"product_id" validate:"required"`
	Qty       float64 `json:"qty" validate:"gt=0"`
}

type createRequestPayload struct {
	StorefrontID int64                `json:"storefront_id" validate:"required"`
	Priority     string               `json:"priority"`
	Lines        []requestLinePayload `json:"lines" validate:"required,min=1,dive"`
}

type requestLineResponse struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Qty       float64 `json:"qty"`
}

type requestResponse struct {
	ID           int64                 `json:"id"`
	StorefrontID int64                 `json:"storefront_id"`
	Status       string                `json:"status"`
	Priority     string                `json:"priority"`
	TransferID   int64                 `json:"transfer_id,omitempty"`
	RequestedBy  int64                 `json:"requested_by"`
	FulfilledBy  int64                 `json:"fulfilled_by,omitempty"`
	FulfilledAt  *time.Time            `json:"fulfilled_at,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	Lines        []requestLineResponse `json:"lines"`
}

func toRequestResponse(req TransferRequest) requestResponse {
	resp := requestResponse{
		ID:           req.ID,
		StorefrontID: req.StorefrontID,
		Status:       string(req.Status),
		Priority:     string(req.Priority),
		TransferID:   req.TransferID,
		RequestedBy:  req.RequestedBy,
		FulfilledBy:  req.FulfilledBy,
		CreatedAt:    req.CreatedAt,
	}
	if !req.FulfilledAt.IsZero() && req.FulfilledAt.Unix() > 0 {
		resp.FulfilledAt = &req.FulfilledAt
	}
	for _, line := range req.Lines {
		resp.Lines = append(resp.Lines, requestLineResponse{ID: line.ID, ProductID: line.ProductID, Qty: line.Qty})
	}
	return resp
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var payload createRequestPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	input := CreateRequestInput{
		StorefrontID: payload.StorefrontID,
		Priority:     Priority(payload.Priority),
		RequestedBy:  actor.ID,
	}
	for _, line := range payload.Lines {
		input.Lines = append(input.Lines, RequestLineInput{ProductID: line.ProductID, Qty: line.Qty})
	}
	req, err := h.service.CreateRequest(r.Context(), input)
	if err != nil {
		h.logger.Warn("create transfer request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRequestResponse(req))
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request id")
		return
	}
	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRequestResponse(req))
}

type assignRequestPayload struct {
	TransferID int64 `json:"transfer_id" validate:"required"`
}

func (h *Handler) assignRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request id")
		return
	}
	var payload assignRequestPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	req, err := h.service.AssignRequest(r.Context(), id, payload.TransferID, actor)
	if err != nil {
		h.logger.Warn("assign transfer request failed", slog.Int64("request", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRequestResponse(req))
}

type manualFulfillPayload struct {
	BatchQty map[int64]float64 `json:"batch_qty" validate:"required,min=1"`
}

func (h *Handler) manualFulfill(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request id")
		return
	}
	var payload manualFulfillPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	req, err := h.service.ManualFulfill(r.Context(), id, ManualFulfillInput{BatchQty: payload.BatchQty}, actor)
	if err != nil {
		h.logger.Warn("manual fulfill failed", slog.Int64("request", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) cancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request id")
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	req, err := h.service.CancelRequest(r.Context(), id, actor)
	if err != nil {
		h.logger.Warn("cancel transfer request failed", slog.Int64("request", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRequestResponse(req))
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
