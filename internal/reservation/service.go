package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/availability"
	"github.com/stocklane/stocklane/internal/shared"
)

// ErrInvalidQuantity indicates a non-positive reservation quantity.
var ErrInvalidQuantity = errors.New("reservation: quantity must be positive")

// TxRepository exposes transactional operations used by Service. Reserve runs
// its availability check and its insert in one transaction with the batch row
// locked, so two concurrent holds against the same batch serialize.
type TxRepository interface {
	BatchInputsForUpdate(ctx context.Context, batchID int64) (availability.BatchInputs, error)
	InsertReservation(ctx context.Context, res Reservation) error
	GetReservationForUpdate(ctx context.Context, id string) (Reservation, error)
	UpdateStatus(ctx context.Context, id string, status Status, releasedAt time.Time) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
	ReleaseAllForSession(ctx context.Context, sessionID string, now time.Time) (int64, error)
}

// MetricsPort receives engine counters; nil disables instrumentation.
type MetricsPort interface {
	ReservationCreated()
	ReservationsReleased(cause string, count int64)
	InsufficientStock()
}

// Service manages short-lived holds against batch availability.
type Service struct {
	repo       RepositoryPort
	audit      shared.AuditPort
	metrics    MetricsPort
	defaultTTL time.Duration
	now        func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, defaultTTL: DefaultExpiry, now: time.Now}
}

// SetDefaultTTL overrides the default hold lifetime, usually from config.
func (s *Service) SetDefaultTTL(ttl time.Duration) {
	if ttl > 0 {
		s.defaultTTL = ttl
	}
}

// ReserveInput describes a hold request from the cart collaborator.
type ReserveInput struct {
	BatchID       int64
	Qty           float64
	SessionID     string
	ExpiryMinutes int
}

// Reserve checks availability and creates an ACTIVE hold atomically. If the
// requested quantity exceeds what is available the call fails with an
// insufficient-stock error carrying the shortfall.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Reservation, error) {
	if input.BatchID == 0 {
		return Reservation{}, errors.New("reservation: batch required")
	}
	if input.Qty <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	if input.SessionID == "" {
		return Reservation{}, errors.New("reservation: session required")
	}
	expiry := time.Duration(input.ExpiryMinutes) * time.Minute
	if expiry <= 0 {
		expiry = s.defaultTTL
	}
	now := s.now().UTC()
	res := Reservation{
		ID:        uuid.NewString(),
		BatchID:   input.BatchID,
		Qty:       input.Qty,
		SessionID: input.SessionID,
		Status:    StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(expiry),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inputs, err := tx.BatchInputsForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		avail := availability.Compute(inputs)
		if input.Qty > avail.Available {
			return &shared.InsufficientStockError{
				BatchID:   input.BatchID,
				Available: avail.Available,
				Requested: input.Qty,
			}
		}
		return tx.InsertReservation(ctx, res)
	})
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientStock) && s.metrics != nil {
			s.metrics.InsufficientStock()
		}
		return Reservation{}, err
	}
	if s.metrics != nil {
		s.metrics.ReservationCreated()
	}
	s.recordAudit(ctx, "reservation:create", res.ID, map[string]any{
		"batch_id": res.BatchID,
		"qty":      res.Qty,
		"session":  res.SessionID,
	})
	return res, nil
}

// Get returns one reservation.
func (s *Service) Get(ctx context.Context, id string) (Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}

// Release marks the hold RELEASED. Idempotent: releasing a reservation that
// is already RELEASED, COMMITTED, or CANCELLED is a no-op.
func (s *Service) Release(ctx context.Context, id string) (Reservation, error) {
	return s.transition(ctx, id, StatusReleased, "reservation:release", "release")
}

// Commit marks the hold COMMITTED when the underlying sale completes. The row
// is permanently excluded from availability but retained as sold history.
func (s *Service) Commit(ctx context.Context, id string) (Reservation, error) {
	return s.transition(ctx, id, StatusCommitted, "reservation:commit", "commit")
}

// Cancel marks the hold CANCELLED.
func (s *Service) Cancel(ctx context.Context, id string) (Reservation, error) {
	return s.transition(ctx, id, StatusCancelled, "reservation:cancel", "cancel")
}

func (s *Service) transition(ctx context.Context, id string, target Status, action, cause string) (Reservation, error) {
	var res Reservation
	var already bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.Status.Terminal() {
			// repeated release is success, not failure
			if target == StatusReleased || res.Status == target {
				already = true
				return nil
			}
			return &shared.StateError{Current: string(res.Status), Expected: string(StatusActive)}
		}
		releasedAt := s.now().UTC()
		if err := tx.UpdateStatus(ctx, id, target, releasedAt); err != nil {
			return err
		}
		res.Status = target
		res.ReleasedAt = releasedAt
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	if already {
		return res, nil
	}
	if s.metrics != nil && target != StatusCommitted {
		s.metrics.ReservationsReleased(cause, 1)
	}
	s.recordAudit(ctx, action, res.ID, map[string]any{
		"batch_id": res.BatchID,
		"qty":      res.Qty,
	})
	return res, nil
}

// ReleaseExpired sweeps every ACTIVE reservation past its expiry. Safe to run
// concurrently and on any cadence; each row transition is a single atomic
// UPDATE. The engine does not self-schedule this — the worker's cron entry is
// the operational dependency.
func (s *Service) ReleaseExpired(ctx context.Context) (int64, error) {
	released, err := s.repo.ReleaseExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if s.metrics != nil && released > 0 {
		s.metrics.ReservationsReleased("expired", released)
	}
	if released > 0 {
		s.recordAudit(ctx, "reservation:expire_sweep", "sweep", map[string]any{"released": released})
	}
	return released, nil
}

// ReleaseAllForSession releases every ACTIVE hold tied to the cart session.
// Safe to call for a session with none.
func (s *Service) ReleaseAllForSession(ctx context.Context, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, errors.New("reservation: session required")
	}
	released, err := s.repo.ReleaseAllForSession(ctx, sessionID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if s.metrics != nil && released > 0 {
		s.metrics.ReservationsReleased("session", released)
	}
	if released > 0 {
		s.recordAudit(ctx, "reservation:release_session", sessionID, map[string]any{"released": released})
	}
	return released, nil
}

func (s *Service) recordAudit(ctx context.Context, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "reservation",
		EntityID: id,
		Meta:     meta,
	})
}
