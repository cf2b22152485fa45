package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockBatch identifies one received lot of a product at one warehouse.
// BaselineQty is set once at receipt and is never written by adjustment,
// transfer, reservation, or sale processing; RecordManualCorrection is the
// only sanctioned mutation path.
type StockBatch struct {
	ID             int64
	ProductID      int64
	WarehouseID    int64
	BaselineQty    float64
	UnitCost       decimal.Decimal
	RetailPrice    decimal.Decimal
	WholesalePrice decimal.Decimal
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateBatchInput describes a stock receipt.
type CreateBatchInput struct {
	ProductID      int64
	WarehouseID    int64
	BaselineQty    float64
	UnitCost       decimal.Decimal
	RetailPrice    decimal.Decimal
	WholesalePrice decimal.Decimal
	ExpiresAt      time.Time
	ReceiptCode    string
	ActorID        int64
}

// ManualCorrectionInput describes the audited baseline rewrite.
type ManualCorrectionInput struct {
	BatchID int64
	NewQty  float64
	Reason  string
}
