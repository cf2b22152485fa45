package transfer

import (
	"time"
)

// Status enumerates the push-model transfer lifecycle.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusRequested Status = "REQUESTED"
	StatusApproved  Status = "APPROVED"
	StatusInTransit Status = "IN_TRANSIT"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further workflow transition is possible.
// REJECTED is not terminal: a rejected transfer may be resubmitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanSubmit covers first submission and resubmission after rejection.
func (s Status) CanSubmit() bool {
	return s == StatusDraft || s == StatusRejected
}

// CanCancel covers every non-terminal state.
func (s Status) CanCancel() bool {
	return !s.Terminal()
}

// RequestStatus enumerates the pull-model request lifecycle.
type RequestStatus string

const (
	RequestStatusNew       RequestStatus = "NEW"
	RequestStatusAssigned  RequestStatus = "ASSIGNED"
	RequestStatusFulfilled RequestStatus = "FULFILLED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// Priority orders storefront restock requests.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Transfer is a manager-approved movement of stock between two locations.
type Transfer struct {
	ID          int64
	Reference   string
	SourceID    int64
	DestID      int64
	Status      Status
	RequestID   int64
	CreatedBy   int64
	ReceivedBy  int64
	ReceivedAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lines       []LineItem
}

// LineItem carries per-batch quantities through the workflow. ApprovedQty may
// only be lowered from RequestedQty, FulfilledQty may only be lowered from
// ApprovedQty.
type LineItem struct {
	ID           int64
	TransferID   int64
	BatchID      int64
	ProductID    int64
	RequestedQty float64
	ApprovedQty  float64
	FulfilledQty float64
}

// TransferRequest is a storefront-originated ask for restock, satisfied by a
// Transfer or by direct manual fulfillment.
type TransferRequest struct {
	ID           int64
	StorefrontID int64
	Status       RequestStatus
	Priority     Priority
	TransferID   int64
	RequestedBy  int64
	FulfilledBy  int64
	FulfilledAt  time.Time
	CreatedAt    time.Time
	Lines        []RequestLine
}

// RequestLine is one product the storefront asked for.
type RequestLine struct {
	ID        int64
	RequestID int64
	ProductID int64
	Qty       float64
}
