package ledger

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler exposes stock receipt and baseline endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createBatch)
	r.Get("/{id}", h.getBatch)
	r.Get("/{id}/baseline", h.getBaseline)
	r.Post("/{id}/correction", h.recordCorrection)
}

type createBatchRequest struct {
	ProductID      int64           `json:"product_id" validate:"required"`
	WarehouseID    int64           `json:"warehouse_id" validate:"required"`
	BaselineQty    float64         `json:"baseline_qty" validate:"gte=0"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	RetailPrice    decimal.Decimal `json:"retail_price"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
	ExpiresAt      time.Time       `json:"expires_at"`
	ReceiptCode    string          `json:"receipt_code"`
}

type batchResponse struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"product_id"`
	WarehouseID    int64           `json:"warehouse_id"`
	BaselineQty    float64         `json:"baseline_qty"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	RetailPrice    decimal.Decimal `json:"retail_price"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toBatchResponse(b StockBatch) batchResponse {
	resp := batchResponse{
		ID:             b.ID,
		ProductID:      b.ProductID,
		WarehouseID:    b.WarehouseID,
		BaselineQty:    b.BaselineQty,
		UnitCost:       b.UnitCost,
		RetailPrice:    b.RetailPrice,
		WholesalePrice: b.WholesalePrice,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
	if !b.ExpiresAt.IsZero() {
		resp.ExpiresAt = &b.ExpiresAt
	}
	return resp
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	batch, err := h.service.CreateBatch(r.Context(), CreateBatchInput{
		ProductID:      req.ProductID,
		WarehouseID:    req.WarehouseID,
		BaselineQty:    req.BaselineQty,
		UnitCost:       req.UnitCost,
		RetailPrice:    req.RetailPrice,
		WholesalePrice: req.WholesalePrice,
		ExpiresAt:      req.ExpiresAt,
		ReceiptCode:    req.ReceiptCode,
		ActorID:        actor.ID,
	})
	if err != nil {
		h.logger.Warn("create batch failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBatchResponse(batch))
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return
	}
	batch, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchResponse(batch))
}

func (h *Handler) getBaseline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return
	}
	baseline, err := h.service.GetBaseline(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batch_id": id, "baseline_qty": baseline})
}

type correctionRequest struct {
	NewQty float64 `json:"new_qty" validate:"gte=0"`
	Reason string  `json:"reason" validate:"required"`
}

func (h *Handler) recordCorrection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return
	}
	var req correctionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	batch, err := h.service.RecordManualCorrection(r.Context(), ManualCorrectionInput{
		BatchID: id,
		NewQty:  req.NewQty,
		Reason:  req.Reason,
	}, actor)
	if err != nil {
		h.logger.Warn("manual correction failed", slog.String("batch", fmt.Sprintf("%d", id)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchResponse(batch))
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
