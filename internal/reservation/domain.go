package reservation

import (
	"time"
)

// Status enumerates the reservation lifecycle. Only ACTIVE holds subtract
// from availability.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCommitted Status = "COMMITTED"
	StatusReleased  Status = "RELEASED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status permits no further transition.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// DefaultExpiry is applied when the caller does not pass an expiry window.
const DefaultExpiry = 30 * time.Minute

// Reservation is a time-bounded hold against a batch's derived availability,
// representing items sitting in an in-progress cart.
type Reservation struct {
	ID         string
	BatchID    int64
	Qty        float64
	SessionID  string
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ReleasedAt time.Time
}
