// Package availability derives sellable quantity from the immutable baseline
// and the event layers stacked on top of it. Nothing here persists or caches:
// every number is recomputed from inputs at call time.
package availability

import "time"

// ReservationHold is one ACTIVE reservation counted against a batch.
type ReservationHold struct {
	ReservationID string    `json:"reservation_id"`
	SessionID     string    `json:"session_id"`
	Qty           float64   `json:"qty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// BatchInputs collects everything the derivation needs for a single batch.
// AdjustmentDeltas are COMPLETED deltas only; Holds are ACTIVE reservations
// only; AllocatedOut is quantity already committed to other locations via
// dispatched transfers.
type BatchInputs struct {
	BatchID          int64
	Baseline         float64
	AdjustmentDeltas []float64
	Holds            []ReservationHold
	AllocatedOut     float64
}

// Result is the derived availability for one batch. Clamped flags a negative
// intermediate value that was floored at zero; callers should surface it as a
// warning, never an error.
type Result struct {
	BatchID      int64   `json:"batch_id"`
	Available    float64 `json:"available"`
	Reserved     float64 `json:"reserved"`
	AllocatedOut float64 `json:"allocated_out"`
	Clamped      bool    `json:"clamped,omitempty"`
}

// Compute applies the derivation:
//
//	available = baseline + Σ completed adjustments − Σ active holds − allocated out
//
// floored at zero.
func Compute(in BatchInputs) Result {
	available := in.Baseline
	for _, delta := range in.AdjustmentDeltas {
		available += delta
	}
	var reserved float64
	for _, hold := range in.Holds {
		reserved += hold.Qty
	}
	available -= reserved
	available -= in.AllocatedOut

	res := Result{
		BatchID:      in.BatchID,
		Available:    available,
		Reserved:     reserved,
		AllocatedOut: in.AllocatedOut,
	}
	if available < 0 {
		res.Available = 0
		res.Clamped = true
	}
	return res
}

// BatchDetail is the per-batch line of a Breakdown.
type BatchDetail struct {
	BatchID      int64     `json:"batch_id"`
	WarehouseID  int64     `json:"warehouse_id"`
	Baseline     float64   `json:"baseline"`
	Available    float64   `json:"available"`
	Reserved     float64   `json:"reserved"`
	AllocatedOut float64   `json:"allocated_out"`
	Clamped      bool      `json:"clamped,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Breakdown aggregates availability across batches. The full structure, not
// just the scalar, is the public contract: consumers must be able to explain
// why something is unavailable.
type Breakdown struct {
	TotalAvailable     float64           `json:"total_available"`
	ReservedQty        float64           `json:"reserved_quantity"`
	UnreservedQty      float64           `json:"unreserved_quantity"`
	Batches            []BatchDetail     `json:"batches"`
	ActiveReservations []ReservationHold `json:"active_reservations"`
}

// Aggregate folds per-batch inputs into a Breakdown. WarehouseIDs and expiry
// dates ride along via the detail function so the calculator stays free of
// repository types.
func Aggregate(inputs []BatchInputs, detail func(batchID int64) (warehouseID int64, expiresAt time.Time)) Breakdown {
	var bd Breakdown
	for _, in := range inputs {
		res := Compute(in)
		line := BatchDetail{
			BatchID:      in.BatchID,
			Baseline:     in.Baseline,
			Available:    res.Available,
			Reserved:     res.Reserved,
			AllocatedOut: res.AllocatedOut,
			Clamped:      res.Clamped,
		}
		if detail != nil {
			line.WarehouseID, line.ExpiresAt = detail(in.BatchID)
		}
		// total counts sellable on-hand before holds; unreserved is what a
		// new cart could still take.
		bd.TotalAvailable += res.Available + res.Reserved
		bd.ReservedQty += res.Reserved
		bd.UnreservedQty += res.Available
		bd.Batches = append(bd.Batches, line)
		bd.ActiveReservations = append(bd.ActiveReservations, in.Holds...)
	}
	return bd
}
