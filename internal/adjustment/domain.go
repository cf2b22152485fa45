package adjustment

import (
	"time"
)

// Type enumerates the tagged adjustment variants. The approval gate applies
// one unconditional rule to every type; shrinkage and correction groupings
// only matter to reconciliation.
type Type string

const (
	TypeTheft                Type = "theft"
	TypeDamage               Type = "damage"
	TypeExpired              Type = "expired"
	TypeSpoilage             Type = "spoilage"
	TypeLoss                 Type = "loss"
	TypeSample               Type = "sample"
	TypeWriteOff             Type = "write_off"
	TypeSupplierReturn       Type = "supplier_return"
	TypeCustomerReturn       Type = "customer_return"
	TypeFound                Type = "found"
	TypeCorrectionIncrease   Type = "correction_increase"
	TypeCorrection           Type = "correction"
	TypeTransferIn           Type = "transfer_in"
	TypeTransferOut          Type = "transfer_out"
	TypePromotion            Type = "promotion"
	TypeStockCountCorrection Type = "stock_count_correction"
)

// IsValid reports whether the type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeTheft, TypeDamage, TypeExpired, TypeSpoilage, TypeLoss, TypeSample,
		TypeWriteOff, TypeSupplierReturn, TypeCustomerReturn, TypeFound,
		TypeCorrectionIncrease, TypeCorrection, TypeTransferIn, TypeTransferOut,
		TypePromotion, TypeStockCountCorrection:
		return true
	default:
		return false
	}
}

// Shrinkage reports whether the type represents stock lost to theft, damage,
// spoilage, expiry, or write-off.
func (t Type) Shrinkage() bool {
	switch t {
	case TypeTheft, TypeDamage, TypeExpired, TypeSpoilage, TypeLoss, TypeWriteOff:
		return true
	default:
		return false
	}
}

// Correction reports whether the type represents an audited count correction.
func (t Type) Correction() bool {
	switch t {
	case TypeCorrection, TypeCorrectionIncrease, TypeStockCountCorrection:
		return true
	default:
		return false
	}
}

// Status enumerates the adjustment lifecycle. Approval fuses APPROVED and
// COMPLETED: a successful approve lands directly on COMPLETED.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

// Adjustment is a signed quantity delta layered on a batch's baseline.
// COMPLETED adjustments are immutable and feed every availability derivation.
type Adjustment struct {
	ID          int64
	BatchID     int64
	Type        Type
	Delta       float64
	Status      Status
	Reason      string
	RequestedBy int64
	ApprovedBy  int64
	RequestedAt time.Time
	DecidedAt   time.Time
}
