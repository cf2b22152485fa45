package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/availability"
	"github.com/stocklane/stocklane/internal/shared"
)

type allocation struct {
	BatchID    int64
	TransferID int64
	Qty        float64
}

type stockKey struct {
	LocationID int64
	ProductID  int64
}

// memoryRepo backs Service with maps. WithTx snapshots state and restores it
// when fn fails, mirroring the transaction rollback the SQL repository gets
// for free.
type memoryRepo struct {
	mu            sync.Mutex
	nextID        int64
	transfers     map[int64]Transfer
	requests      map[int64]TransferRequest
	baselines     map[int64]float64
	batchProducts map[int64]int64
	allocations   []allocation
	locationStock map[stockKey]float64
	lockOrder     []int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextID:        1,
		transfers:     make(map[int64]Transfer),
		requests:      make(map[int64]TransferRequest),
		baselines:     make(map[int64]float64),
		batchProducts: make(map[int64]int64),
		locationStock: make(map[stockKey]float64),
	}
}

func (m *memoryRepo) addBatch(batchID, productID int64, baseline float64) {
	m.baselines[batchID] = baseline
	m.batchProducts[batchID] = productID
}

func (m *memoryRepo) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	transfers := make(map[int64]Transfer, len(m.transfers))
	for k, v := range m.transfers {
		v.Lines = append([]LineItem(nil), v.Lines...)
		transfers[k] = v
	}
	requests := make(map[int64]TransferRequest, len(m.requests))
	for k, v := range m.requests {
		v.Lines = append([]RequestLine(nil), v.Lines...)
		requests[k] = v
	}
	allocations := append([]allocation(nil), m.allocations...)
	stock := make(map[stockKey]float64, len(m.locationStock))
	for k, v := range m.locationStock {
		stock[k] = v
	}

	if err := fn(ctx, m); err != nil {
		m.transfers = transfers
		m.requests = requests
		m.allocations = allocations
		m.locationStock = stock
		return err
	}
	return nil
}

func (m *memoryRepo) CreateTransfer(_ context.Context, tr Transfer) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr.ID = m.id()
	for i := range tr.Lines {
		tr.Lines[i].ID = m.id()
		tr.Lines[i].TransferID = tr.ID
	}
	m.transfers[tr.ID] = tr
	return tr, nil
}

func (m *memoryRepo) GetTransfer(_ context.Context, id int64) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.transfers[id]
	if !ok {
		return Transfer{}, shared.ErrNotFound
	}
	return tr, nil
}

func (m *memoryRepo) CreateRequest(_ context.Context, req TransferRequest) (TransferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.ID = m.id()
	for i := range req.Lines {
		req.Lines[i].ID = m.id()
		req.Lines[i].RequestID = req.ID
	}
	m.requests[req.ID] = req
	return req, nil
}

func (m *memoryRepo) GetRequest(_ context.Context, id int64) (TransferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return TransferRequest{}, shared.ErrNotFound
	}
	return req, nil
}

func (m *memoryRepo) GetTransferForUpdate(_ context.Context, id int64) (Transfer, error) {
	tr, ok := m.transfers[id]
	if !ok {
		return Transfer{}, shared.ErrNotFound
	}
	return tr, nil
}

func (m *memoryRepo) UpdateTransferStatus(_ context.Context, id int64, status Status) error {
	tr := m.transfers[id]
	tr.Status = status
	m.transfers[id] = tr
	return nil
}

func (m *memoryRepo) UpdateLineApprovedQty(_ context.Context, lineID int64, qty float64) error {
	return m.updateLine(lineID, func(line *LineItem) { line.ApprovedQty = qty })
}

func (m *memoryRepo) UpdateLineFulfilledQty(_ context.Context, lineID int64, qty float64) error {
	return m.updateLine(lineID, func(line *LineItem) { line.FulfilledQty = qty })
}

func (m *memoryRepo) updateLine(lineID int64, apply func(*LineItem)) error {
	for id, tr := range m.transfers {
		for i := range tr.Lines {
			if tr.Lines[i].ID == lineID {
				apply(&tr.Lines[i])
				m.transfers[id] = tr
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func (m *memoryRepo) SetReceipt(_ context.Context, id int64, receivedBy int64, receivedAt time.Time) error {
	tr := m.transfers[id]
	tr.ReceivedBy = receivedBy
	tr.ReceivedAt = receivedAt
	m.transfers[id] = tr
	return nil
}

func (m *memoryRepo) BatchInputsForUpdate(_ context.Context, batchID int64) (availability.BatchInputs, error) {
	baseline, ok := m.baselines[batchID]
	if !ok {
		return availability.BatchInputs{}, shared.ErrNotFound
	}
	m.lockOrder = append(m.lockOrder, batchID)
	inputs := availability.BatchInputs{BatchID: batchID, Baseline: baseline}
	for _, alloc := range m.allocations {
		if alloc.BatchID == batchID {
			inputs.AllocatedOut += alloc.Qty
		}
	}
	return inputs, nil
}

func (m *memoryRepo) BatchProduct(_ context.Context, batchID int64) (int64, error) {
	productID, ok := m.batchProducts[batchID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return productID, nil
}

func (m *memoryRepo) InsertAllocation(_ context.Context, batchID, transferID int64, qty float64) error {
	m.allocations = append(m.allocations, allocation{BatchID: batchID, TransferID: transferID, Qty: qty})
	return nil
}

func (m *memoryRepo) SetAllocationQty(_ context.Context, transferID, batchID int64, qty float64) error {
	kept := m.allocations[:0]
	for _, alloc := range m.allocations {
		if alloc.TransferID == transferID && alloc.BatchID == batchID {
			if qty <= 0 {
				continue
			}
			alloc.Qty = qty
		}
		kept = append(kept, alloc)
	}
	m.allocations = kept
	return nil
}

func (m *memoryRepo) DeleteAllocations(_ context.Context, transferID int64) error {
	kept := m.allocations[:0]
	for _, alloc := range m.allocations {
		if alloc.TransferID != transferID {
			kept = append(kept, alloc)
		}
	}
	m.allocations = kept
	return nil
}

func (m *memoryRepo) AddLocationStock(_ context.Context, locationID, productID int64, qty float64) error {
	m.locationStock[stockKey{locationID, productID}] += qty
	return nil
}

func (m *memoryRepo) GetRequestForUpdate(_ context.Context, id int64) (TransferRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return TransferRequest{}, shared.ErrNotFound
	}
	return req, nil
}

func (m *memoryRepo) UpdateRequestStatus(_ context.Context, id int64, status RequestStatus, transferID int64) error {
	req := m.requests[id]
	req.Status = status
	req.TransferID = transferID
	m.requests[id] = req
	return nil
}

func (m *memoryRepo) SetRequestFulfilled(_ context.Context, id int64, fulfilledBy int64, fulfilledAt time.Time) error {
	req := m.requests[id]
	req.Status = RequestStatusFulfilled
	req.FulfilledBy = fulfilledBy
	req.FulfilledAt = fulfilledAt
	m.requests[id] = req
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

func (m *memoryAudit) byAction(action string) []shared.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shared.AuditLog
	for _, log := range m.logs {
		if log.Action == action {
			out = append(out, log)
		}
	}
	return out
}

type memoryMetrics struct {
	mu           sync.Mutex
	dispatched   int
	insufficient int
}

func (m *memoryMetrics) TransferDispatched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched++
}

func (m *memoryMetrics) InsufficientStock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insufficient++
}

var (
	manager = shared.Actor{ID: 7, Role: shared.RoleManager}
	staff   = shared.Actor{ID: 8, Role: shared.RoleStaff}
)

const (
	warehouseID  = int64(100)
	storefrontID = int64(200)
)

func availableFor(t *testing.T, repo *memoryRepo, batchID int64) float64 {
	t.Helper()
	inputs, err := repo.BatchInputsForUpdate(context.Background(), batchID)
	require.NoError(t, err)
	return availability.Compute(inputs).Available
}

func draftTransfer(t *testing.T, svc *Service, lines ...LineInput) Transfer {
	t.Helper()
	tr, err := svc.Create(context.Background(), CreateInput{
		SourceID:  warehouseID,
		DestID:    storefrontID,
		CreatedBy: staff.ID,
		Lines:     lines,
	})
	require.NoError(t, err)
	return tr
}

func TestCreateValidatesDraft(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{SourceID: 1, DestID: 1, Lines: []LineInput{{BatchID: 1, ProductID: 1, Qty: 1}}})
	assert.Error(t, err)

	_, err = svc.Create(ctx, CreateInput{SourceID: 1, DestID: 2})
	assert.Error(t, err)

	_, err = svc.Create(ctx, CreateInput{SourceID: 1, DestID: 2, Lines: []LineInput{{BatchID: 1, ProductID: 1, Qty: 0}}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCreateAssignsReferenceAndDraftStatus(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 50)
	svc := NewService(repo, &memoryAudit{}, nil)

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 20})
	assert.Equal(t, StatusDraft, tr.Status)
	assert.NotEmpty(t, tr.Reference)
	require.Len(t, tr.Lines, 1)
	assert.Equal(t, 20.0, tr.Lines[0].RequestedQty)
	assert.Zero(t, tr.Lines[0].ApprovedQty)
}

func TestPushWorkflowHappyPathWithPartialFulfillment(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	repo.addBatch(2, 11, 40)
	audit := &memoryAudit{}
	metrics := &memoryMetrics{}
	svc := NewService(repo, audit, metrics)
	ctx := context.Background()

	tr := draftTransfer(t, svc,
		LineInput{BatchID: 1, ProductID: 10, Qty: 30},
		LineInput{BatchID: 2, ProductID: 11, Qty: 15},
	)

	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, tr.Status)

	// manager lowers the first line from 30 to 25
	tr, err = svc.Approve(ctx, tr.ID, ApproveInput{ApprovedQty: map[int64]float64{tr.Lines[0].ID: 25}}, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, tr.Status)
	assert.Equal(t, 25.0, tr.Lines[0].ApprovedQty)
	assert.Equal(t, 15.0, tr.Lines[1].ApprovedQty)

	tr, err = svc.Dispatch(ctx, tr.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, tr.Status)
	assert.Equal(t, 1, metrics.dispatched)

	// allocations subtract from source availability immediately
	assert.Equal(t, 75.0, availableFor(t, repo, 1))
	assert.Equal(t, 25.0, availableFor(t, repo, 2))

	// second line arrives short: 15 approved, 12 fulfilled
	tr, err = svc.Complete(ctx, tr.ID, CompleteInput{FulfilledQty: map[int64]float64{tr.Lines[1].ID: 12}}, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tr.Status)
	assert.Equal(t, 25.0, tr.Lines[0].FulfilledQty)
	assert.Equal(t, 12.0, tr.Lines[1].FulfilledQty)

	// destination gains exactly the fulfilled quantities
	assert.Equal(t, 25.0, repo.locationStock[stockKey{storefrontID, 10}])
	assert.Equal(t, 12.0, repo.locationStock[stockKey{storefrontID, 11}])

	require.Len(t, audit.byAction("transfer:dispatch"), 1)
	require.Len(t, audit.byAction("transfer:complete"), 1)
}

func TestApproveCannotRaiseQuantity(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 20})
	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, tr.ID, ApproveInput{ApprovedQty: map[int64]float64{tr.Lines[0].ID: 21}}, manager)
	assert.ErrorIs(t, err, ErrQuantityRaised)

	stored, err := svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, stored.Status)
}

func TestCompleteCannotRaiseFulfilledQuantity(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 20})
	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	tr, err = svc.Dispatch(ctx, tr.ID, manager)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, tr.ID, CompleteInput{FulfilledQty: map[int64]float64{tr.Lines[0].ID: 25}}, manager)
	assert.ErrorIs(t, err, ErrQuantityRaised)
}

func TestDispatchFailsAtomicallyOnShortfall(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 50)
	repo.addBatch(2, 11, 35)
	metrics := &memoryMetrics{}
	svc := NewService(repo, nil, metrics)
	ctx := context.Background()

	tr := draftTransfer(t, svc,
		LineInput{BatchID: 1, ProductID: 10, Qty: 40},
		LineInput{BatchID: 2, ProductID: 11, Qty: 30},
	)
	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)

	// second batch drops to 25 between approval and dispatch
	repo.baselines[2] = 25

	_, err = svc.Dispatch(ctx, tr.ID, manager)
	require.Error(t, err)
	var ise *shared.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, int64(2), ise.BatchID)
	assert.Equal(t, 25.0, ise.Available)
	assert.Equal(t, 30.0, ise.Requested)
	assert.Equal(t, 1, metrics.insufficient)

	// no partial effect: first line's allocation rolled back, status unchanged
	stored, err := svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	assert.Empty(t, repo.allocations)
	assert.Equal(t, 50.0, availableFor(t, repo, 1))
}

func TestApproveChecksSourceAvailability(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 10)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 15})
	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	var ise *shared.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 10.0, ise.Available)
}

func TestSupervisoryGates(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 5})
	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, tr.ID, ApproveInput{}, staff)
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)
	_, err = svc.Dispatch(ctx, tr.ID, staff)
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)
	_, err = svc.Complete(ctx, tr.ID, CompleteInput{}, staff)
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)
	_, err = svc.Reject(ctx, tr.ID, staff)
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestRejectedTransferCanBeResubmitted(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	svc := NewService(repo, &memoryAudit{}, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 5})
	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)

	tr, err = svc.Reject(ctx, tr.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, tr.Status)

	tr, err = svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, tr.Status)
}

func TestInvalidTransitionsFailWithStateError(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 5})

	var se *shared.StateError

	// DRAFT cannot be approved, dispatched, completed, or rejected
	_, err := svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.ErrorAs(t, err, &se)
	_, err = svc.Dispatch(ctx, tr.ID, manager)
	require.ErrorAs(t, err, &se)
	_, err = svc.Complete(ctx, tr.ID, CompleteInput{}, manager)
	require.ErrorAs(t, err, &se)
	_, err = svc.Reject(ctx, tr.ID, manager)
	require.ErrorAs(t, err, &se)

	// DRAFT can be cancelled; cancellation is terminal
	tr, err = svc.Cancel(ctx, tr.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, tr.Status)

	_, err = svc.Submit(ctx, tr.ID, staff)
	require.ErrorAs(t, err, &se)
	_, err = svc.Cancel(ctx, tr.ID, staff)
	require.ErrorAs(t, err, &se)
}

func TestConfirmReceiptIsIdempotentAndFulfillsLinkedRequest(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	audit := &memoryAudit{}
	svc := NewService(repo, audit, nil)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{
		StorefrontID: storefrontID,
		RequestedBy:  staff.ID,
		Lines:        []RequestLineInput{{ProductID: 10, Qty: 20}},
	})
	require.NoError(t, err)

	tr, err := svc.Create(ctx, CreateInput{
		SourceID:  warehouseID,
		DestID:    storefrontID,
		RequestID: req.ID,
		CreatedBy: staff.ID,
		Lines:     []LineInput{{BatchID: 1, ProductID: 10, Qty: 20}},
	})
	require.NoError(t, err)

	req, err = svc.AssignRequest(ctx, req.ID, tr.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, RequestStatusAssigned, req.Status)
	assert.Equal(t, tr.ID, req.TransferID)

	tr, err = svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	tr, err = svc.Dispatch(ctx, tr.ID, manager)
	require.NoError(t, err)

	tr, err = svc.ConfirmReceipt(ctx, tr.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, staff.ID, tr.ReceivedBy)
	assert.False(t, tr.ReceivedAt.IsZero())

	req, err = svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestStatusFulfilled, req.Status)

	// a repeated confirmation changes nothing
	again, err := svc.ConfirmReceipt(ctx, tr.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, staff.ID, again.ReceivedBy)
	assert.Equal(t, tr.ReceivedAt, again.ReceivedAt)
	require.Len(t, audit.byAction("transfer:confirm_receipt"), 1)
}

func TestCancelAfterDispatchReleasesAllocations(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	svc := NewService(repo, &memoryAudit{}, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 30})
	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	tr, err = svc.Dispatch(ctx, tr.ID, manager)
	require.NoError(t, err)
	require.Equal(t, 70.0, availableFor(t, repo, 1))

	tr, err = svc.Cancel(ctx, tr.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, tr.Status)

	// the stock never arrived anywhere, so the source gets it back in full
	assert.Empty(t, repo.allocations)
	assert.Equal(t, 100.0, availableFor(t, repo, 1))
	assert.Zero(t, repo.locationStock[stockKey{storefrontID, 10}])
}

func TestCancelBeforeDispatchLeavesAllocationsOfOthersAlone(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	// an unrelated manual allocation against the same batch
	require.NoError(t, repo.InsertAllocation(ctx, 1, 0, 5))

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 30})
	tr, err := svc.Cancel(ctx, tr.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, tr.Status)
	require.Len(t, repo.allocations, 1)
	assert.Equal(t, 95.0, availableFor(t, repo, 1))
}

func TestPartialCompletionReturnsShortfallToSource(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 15})
	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	tr, err = svc.Dispatch(ctx, tr.ID, manager)
	require.NoError(t, err)
	require.Equal(t, 85.0, availableFor(t, repo, 1))

	tr, err = svc.Complete(ctx, tr.ID, CompleteInput{FulfilledQty: map[int64]float64{tr.Lines[0].ID: 12}}, manager)
	require.NoError(t, err)

	// the allocation shrinks to the 12 that actually moved; the 3-unit
	// shortfall is back in source availability, destination gains only 12
	assert.Equal(t, 88.0, availableFor(t, repo, 1))
	assert.Equal(t, 12.0, repo.locationStock[stockKey{storefrontID, 10}])
	require.Len(t, repo.allocations, 1)
	assert.Equal(t, 12.0, repo.allocations[0].Qty)
}

func TestCompleteWithZeroFulfilledDropsAllocation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 50)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 10})
	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	tr, err = svc.Dispatch(ctx, tr.ID, manager)
	require.NoError(t, err)

	tr, err = svc.Complete(ctx, tr.ID, CompleteInput{FulfilledQty: map[int64]float64{tr.Lines[0].ID: 0}}, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tr.Status)
	assert.Empty(t, repo.allocations)
	assert.Equal(t, 50.0, availableFor(t, repo, 1))
	assert.Zero(t, repo.locationStock[stockKey{storefrontID, 10}])
}

func TestDispatchLocksBatchesInIDOrder(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(9, 19, 50)
	repo.addBatch(3, 13, 50)
	repo.addBatch(6, 16, 50)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc,
		LineInput{BatchID: 9, ProductID: 19, Qty: 5},
		LineInput{BatchID: 3, ProductID: 13, Qty: 5},
		LineInput{BatchID: 6, ProductID: 16, Qty: 5},
	)
	tr, err := svc.Submit(ctx, tr.ID, staff)
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)

	repo.lockOrder = nil
	_, err = svc.Dispatch(ctx, tr.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 6, 9}, repo.lockOrder)
}

func TestManualFulfillLocksBatchesInIDOrder(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(9, 19, 50)
	repo.addBatch(3, 13, 50)
	repo.addBatch(6, 16, 50)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{
		StorefrontID: storefrontID,
		Lines:        []RequestLineInput{{ProductID: 19, Qty: 2}},
	})
	require.NoError(t, err)

	repo.lockOrder = nil
	_, err = svc.ManualFulfill(ctx, req.ID, ManualFulfillInput{BatchQty: map[int64]float64{9: 2, 3: 2, 6: 2}}, manager)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 6, 9}, repo.lockOrder)
}

func TestConfirmReceiptRequiresInTransit(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 100)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	tr := draftTransfer(t, svc, LineInput{BatchID: 1, ProductID: 10, Qty: 5})

	_, err := svc.ConfirmReceipt(ctx, tr.ID, staff)
	var se *shared.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, string(StatusDraft), se.Current)
}

func TestCreateRequestDefaultsPriority(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	req, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		StorefrontID: storefrontID,
		Lines:        []RequestLineInput{{ProductID: 10, Qty: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, RequestStatusNew, req.Status)
	assert.Equal(t, PriorityNormal, req.Priority)
}

func TestCancelRequest(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{
		StorefrontID: storefrontID,
		Lines:        []RequestLineInput{{ProductID: 10, Qty: 3}},
	})
	require.NoError(t, err)

	req, err = svc.CancelRequest(ctx, req.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, RequestStatusCancelled, req.Status)

	_, err = svc.CancelRequest(ctx, req.ID, staff)
	var se *shared.StateError
	require.ErrorAs(t, err, &se)
}

func TestManualFulfillMovesStockWithoutTransfer(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 50)
	audit := &memoryAudit{}
	metrics := &memoryMetrics{}
	svc := NewService(repo, audit, metrics)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{
		StorefrontID: storefrontID,
		Priority:     PriorityUrgent,
		RequestedBy:  staff.ID,
		Lines:        []RequestLineInput{{ProductID: 10, Qty: 12}},
	})
	require.NoError(t, err)

	req, err = svc.ManualFulfill(ctx, req.ID, ManualFulfillInput{BatchQty: map[int64]float64{1: 12}}, manager)
	require.NoError(t, err)
	assert.Equal(t, RequestStatusFulfilled, req.Status)
	assert.Equal(t, manager.ID, req.FulfilledBy)
	assert.False(t, req.FulfilledAt.IsZero())

	// the storefront gains the stock and the source loses availability, yet
	// no Transfer exists
	assert.Equal(t, 12.0, repo.locationStock[stockKey{storefrontID, 10}])
	assert.Equal(t, 38.0, availableFor(t, repo, 1))
	assert.Empty(t, repo.transfers)

	require.Len(t, repo.allocations, 1)
	assert.Zero(t, repo.allocations[0].TransferID)
	require.Len(t, audit.byAction("transfer_request:manual_fulfill"), 1)
}

func TestManualFulfillChecksAvailabilityAndRole(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(1, 10, 5)
	metrics := &memoryMetrics{}
	svc := NewService(repo, nil, metrics)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{
		StorefrontID: storefrontID,
		Lines:        []RequestLineInput{{ProductID: 10, Qty: 8}},
	})
	require.NoError(t, err)

	_, err = svc.ManualFulfill(ctx, req.ID, ManualFulfillInput{BatchQty: map[int64]float64{1: 8}}, staff)
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = svc.ManualFulfill(ctx, req.ID, ManualFulfillInput{BatchQty: map[int64]float64{1: 8}}, manager)
	var ise *shared.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 5.0, ise.Available)
	assert.Equal(t, 1, metrics.insufficient)

	// request untouched, no stock moved
	stored, err := svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestStatusNew, stored.Status)
	assert.Empty(t, repo.allocations)
	assert.Zero(t, repo.locationStock[stockKey{storefrontID, 10}])
}
