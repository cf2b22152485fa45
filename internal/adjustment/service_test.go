package adjustment

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/availability"
	"github.com/stocklane/stocklane/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	nextID    int64
	baselines map[int64]float64
	holds     map[int64]float64
	items     map[int64]Adjustment
}

func newMemoryRepo(baselines map[int64]float64) *memoryRepo {
	return &memoryRepo{
		nextID:    1,
		baselines: baselines,
		holds:     make(map[int64]float64),
		items:     make(map[int64]Adjustment),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m)
}

func (m *memoryRepo) InsertAdjustment(_ context.Context, adj Adjustment) (Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	adj.ID = m.nextID
	m.nextID++
	m.items[adj.ID] = adj
	return adj, nil
}

func (m *memoryRepo) GetAdjustment(_ context.Context, id int64) (Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	adj, ok := m.items[id]
	if !ok {
		return Adjustment{}, shared.ErrNotFound
	}
	return adj, nil
}

func (m *memoryRepo) ListForBatch(_ context.Context, batchID int64) ([]Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Adjustment
	for _, adj := range m.items {
		if adj.BatchID == batchID {
			out = append(out, adj)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetAdjustmentForUpdate(_ context.Context, id int64) (Adjustment, error) {
	adj, ok := m.items[id]
	if !ok {
		return Adjustment{}, shared.ErrNotFound
	}
	return adj, nil
}

func (m *memoryRepo) BatchInputsForUpdate(_ context.Context, batchID int64) (availability.BatchInputs, error) {
	baseline, ok := m.baselines[batchID]
	if !ok {
		return availability.BatchInputs{}, shared.ErrNotFound
	}
	inputs := availability.BatchInputs{BatchID: batchID, Baseline: baseline}
	for _, adj := range m.items {
		if adj.BatchID == batchID && adj.Status == StatusCompleted {
			inputs.AdjustmentDeltas = append(inputs.AdjustmentDeltas, adj.Delta)
		}
	}
	if hold := m.holds[batchID]; hold > 0 {
		inputs.Holds = []availability.ReservationHold{{ReservationID: "hold", Qty: hold}}
	}
	return inputs, nil
}

func (m *memoryRepo) CompleteAdjustment(_ context.Context, id int64, approver int64) error {
	adj := m.items[id]
	adj.Status = StatusCompleted
	adj.ApprovedBy = approver
	m.items[id] = adj
	return nil
}

func (m *memoryRepo) RejectAdjustment(_ context.Context, id int64, approver int64) error {
	adj := m.items[id]
	adj.Status = StatusRejected
	adj.ApprovedBy = approver
	m.items[id] = adj
	return nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

var (
	manager = shared.Actor{ID: 7, Role: shared.RoleManager}
	staff   = shared.Actor{ID: 8, Role: shared.RoleStaff}
)

func TestCreateRecordsPendingAdjustment(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 100})
	audit := &memoryAudit{}
	svc := NewService(repo, audit)

	adj, err := svc.Create(context.Background(), CreateInput{
		BatchID:     1,
		Type:        TypeDamage,
		Delta:       -10,
		Reason:      "dropped pallet",
		RequestedBy: staff.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, adj.Status)
	assert.NotZero(t, adj.ID)

	// PENDING adjustments never touch availability
	inputs, err := repo.BatchInputsForUpdate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, availability.Compute(inputs).Available)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, "adjustment:create", audit.logs[0].Action)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(map[int64]float64{1: 100}), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{BatchID: 1, Type: "guess", Delta: -1, Reason: "x"})
	assert.Error(t, err)

	_, err = svc.Create(ctx, CreateInput{BatchID: 1, Type: TypeDamage, Delta: 0, Reason: "x"})
	assert.ErrorIs(t, err, ErrInvalidDelta)

	_, err = svc.Create(ctx, CreateInput{BatchID: 1, Type: TypeDamage, Delta: math.NaN(), Reason: "x"})
	assert.ErrorIs(t, err, ErrInvalidDelta)

	_, err = svc.Create(ctx, CreateInput{BatchID: 1, Type: TypeDamage, Delta: -1})
	assert.Error(t, err)
}

func TestApproveCompletesAndReturnsRecomputedAvailability(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 100})
	svc := NewService(repo, &memoryAudit{})
	ctx := context.Background()

	adj, err := svc.Create(ctx, CreateInput{BatchID: 1, Type: TypeDamage, Delta: -10, Reason: "dropped", RequestedBy: staff.ID})
	require.NoError(t, err)

	approved, result, err := svc.Approve(ctx, adj.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, approved.Status)
	assert.Equal(t, manager.ID, approved.ApprovedBy)
	assert.Equal(t, 90.0, result.Available)
}

func TestApproveRequiresSupervisoryRole(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 100})
	svc := NewService(repo, nil)
	ctx := context.Background()

	adj, err := svc.Create(ctx, CreateInput{BatchID: 1, Type: TypeDamage, Delta: -5, Reason: "dropped"})
	require.NoError(t, err)

	_, _, err = svc.Approve(ctx, adj.ID, staff)
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)

	stored, err := svc.Get(ctx, adj.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestApproveTwiceFailsWithStateError(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 100})
	svc := NewService(repo, nil)
	ctx := context.Background()

	adj, err := svc.Create(ctx, CreateInput{BatchID: 1, Type: TypeFound, Delta: 5, Reason: "count"})
	require.NoError(t, err)

	_, _, err = svc.Approve(ctx, adj.ID, manager)
	require.NoError(t, err)

	_, _, err = svc.Approve(ctx, adj.ID, manager)
	var se *shared.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, string(StatusCompleted), se.Current)
}

func TestApproveBlockedWhenDeltaWouldOversellReservedStock(t *testing.T) {
	// 20 on hand, 15 held by an active reservation: only 5 are free, so a
	// -8 shrinkage cannot be approved without overselling the hold
	repo := newMemoryRepo(map[int64]float64{1: 20})
	repo.holds[1] = 15
	svc := NewService(repo, nil)
	ctx := context.Background()

	adj, err := svc.Create(ctx, CreateInput{BatchID: 1, Type: TypeTheft, Delta: -8, Reason: "missing"})
	require.NoError(t, err)

	_, _, err = svc.Approve(ctx, adj.ID, manager)
	require.Error(t, err)
	var ise *shared.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 5.0, ise.Available)
	assert.Equal(t, 8.0, ise.Requested)

	stored, err := svc.Get(ctx, adj.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestRejectIsTerminal(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 100})
	svc := NewService(repo, &memoryAudit{})
	ctx := context.Background()

	adj, err := svc.Create(ctx, CreateInput{BatchID: 1, Type: TypeDamage, Delta: -10, Reason: "dropped"})
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, adj.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)

	_, _, err = svc.Approve(ctx, adj.ID, manager)
	var se *shared.StateError
	require.ErrorAs(t, err, &se)

	// availability untouched
	inputs, err := repo.BatchInputsForUpdate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, availability.Compute(inputs).Available)
}

func TestShrinkageAndCorrectionGroupings(t *testing.T) {
	for _, typ := range []Type{TypeTheft, TypeDamage, TypeExpired, TypeSpoilage, TypeLoss, TypeWriteOff} {
		assert.True(t, typ.Shrinkage(), string(typ))
		assert.False(t, typ.Correction(), string(typ))
	}
	for _, typ := range []Type{TypeCorrection, TypeCorrectionIncrease, TypeStockCountCorrection} {
		assert.True(t, typ.Correction(), string(typ))
		assert.False(t, typ.Shrinkage(), string(typ))
	}
	assert.False(t, TypeSample.Shrinkage())
	assert.False(t, TypeCustomerReturn.Correction())
}
