package reconcile

import "time"

// Components are the independently measured inputs of a reconciliation run.
// Each is a non-negative magnitude except CorrectionUnits, which keeps the
// signed sum of correction adjustments.
type Components struct {
	WarehouseOnHand   float64 `json:"warehouse_on_hand"`
	StorefrontOnHand  float64 `json:"storefront_on_hand"`
	SoldUnits         float64 `json:"sold_units"`
	ShrinkageUnits    float64 `json:"shrinkage_units"`
	CorrectionUnits   float64 `json:"correction_units"`
	ReservationsUnits float64 `json:"reservations_linked_units"`
}

// Report is the per-batch discrepancy view. A non-zero Delta is a finding for
// human investigation, never auto-corrected.
type Report struct {
	BatchID            int64      `json:"batch_id"`
	RecordedBaseline   float64    `json:"recorded_baseline"`
	CalculatedBaseline float64    `json:"calculated_baseline"`
	Delta              float64    `json:"delta"`
	Components         Components `json:"components"`
	GeneratedAt        time.Time  `json:"generated_at"`
}

// Build applies the reconciliation formula. Sold and shrinkage subtract,
// corrections add, linked reservations subtract. Delta is recorded minus
// calculated: positive means the books claim more than the evidence supports.
func Build(batchID int64, recorded float64, c Components, at time.Time) Report {
	calculated := c.WarehouseOnHand + c.StorefrontOnHand - c.SoldUnits - c.ShrinkageUnits + c.CorrectionUnits - c.ReservationsUnits
	return Report{
		BatchID:            batchID,
		RecordedBaseline:   recorded,
		CalculatedBaseline: calculated,
		Delta:              recorded - calculated,
		Components:         c,
		GeneratedAt:        at,
	}
}
