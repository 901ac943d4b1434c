// Package queue holds print jobs between intake and the poller.
//
// A job is created PENDING, claimed into PRINTING by exactly one poller and
// reported COMPLETED or FAILED once. Backends enforce the claim atomically;
// every failed status update is returned as an *UpdateError.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adcondev/receipt-daemon/internal/receipt"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPrinting  Status = "PRINTING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusPrinting
	case StatusPrinting:
		return to.Terminal()
	default:
		return false
	}
}

// Job is one print request.
type Job struct {
	ID      string       `json:"id"`
	Kind    receipt.Kind `json:"kind"`
	Printer string       `json:"printer,omitempty"`
	Paper   string       `json:"paper,omitempty"`
	// Document is the receipt template as submitted.
	Document  json.RawMessage `json:"document"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Queue is the collaborator the poller drives.
type Queue interface {
	// FetchPending returns PENDING jobs in queue order.
	FetchPending(ctx context.Context) ([]Job, error)
	// MarkPrinting claims a PENDING job. It fails with ErrAlreadyClaimed when
	// another caller claimed it first.
	MarkPrinting(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

var (
	ErrNotFound          = errors.New("job not found")
	ErrAlreadyClaimed    = errors.New("job already claimed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQueueFull         = errors.New("queue full")
	// ErrUpdateFailed matches every *UpdateError.
	ErrUpdateFailed = errors.New("queue update failed")
)

// UpdateError is a status update the queue did not persist.
type UpdateError struct {
	JobID string
	To    Status
	Err   error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("queue update %s → %s: %v", e.JobID, e.To, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Is matches ErrUpdateFailed.
func (e *UpdateError) Is(target error) bool { return target == ErrUpdateFailed }

func updateErr(id string, to Status, err error) error {
	return &UpdateError{JobID: id, To: to, Err: err}
}

// transitionErr picks the error for a rejected update of a job in state from.
func transitionErr(from, to Status) error {
	if to == StatusPrinting && from != StatusPending {
		return ErrAlreadyClaimed
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}
