// Package queue implements the notification delivery queue: idempotent
// enqueue, safe concurrent claiming via conditional updates, bounded
// exponential-backoff retries and an append-only audit trail.
package queue

import (
	"context"
	"time"

	"github.com/kavanga/importdesk/internal/domain"
)

// Repository defines the interface for queue data access. The queue row is
// the only shared mutable resource; every mutation is a single-row
// conditional update keyed on the expected current status.
type Repository interface {
	// Insert creates a new job row, filling id and timestamps on the passed
	// job. A unique-index violation on the idempotency key is returned as
	// ErrDuplicateIdempotencyKey.
	Insert(ctx context.Context, job *domain.NotificationJob) error

	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.NotificationJob, error)

	// ClaimNext atomically claims the highest-priority eligible pending job
	// by flipping it to processing with a compare-and-swap on the status
	// column. Returns ErrNoEligibleJobs when nothing is claimable.
	ClaimNext(ctx context.Context, now time.Time) (*domain.NotificationJob, error)

	// MarkSent transitions a processing job to sent, stores the transport
	// message id and increments attempts, all in one conditional update.
	// Returns ErrAlreadyTerminal if the job is no longer processing.
	MarkSent(ctx context.Context, id string, messageID *string, processedAt time.Time) (*domain.NotificationJob, error)

	// MarkFailed records a failed attempt: back to pending with a retry
	// time, or to failed when terminal. Conditional on status=processing.
	MarkFailed(ctx context.Context, id string, p FailureUpdate) (*domain.NotificationJob, error)

	// Cancel moves a pending or processing job to cancelled. Returns false
	// when the job was already terminal.
	Cancel(ctx context.Context, id string, reason string) (bool, error)

	// ResetFailed moves a failed job back to pending with a fresh attempt
	// budget, for manual replay. Returns false if the job is not failed.
	ResetFailed(ctx context.Context, id string) (bool, error)

	// ConfirmDelivery transitions a sent job to delivered on a transport
	// delivery receipt. Returns false if the job is not in sent.
	ConfirmDelivery(ctx context.Context, id string, deliveryStatus string) (bool, error)

	ListFailed(ctx context.Context, limit int) ([]domain.NotificationJob, error)
	Stats(ctx context.Context) (*domain.QueueStats, error)

	// AppendEvent writes one immutable audit record.
	AppendEvent(ctx context.Context, event *domain.NotificationEvent) error
	ListEvents(ctx context.Context, jobID string) ([]domain.NotificationEvent, error)
}

// FailureUpdate carries the computed outcome of a failed attempt.
type FailureUpdate struct {
	Attempts     int // new attempt count
	Terminal     bool
	NextRetryAt  *time.Time // nil when terminal
	ErrorMessage string
	ErrorCode    *string
}
