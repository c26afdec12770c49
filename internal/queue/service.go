package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kavanga/importdesk/internal/domain"
)

// Default job parameters.
const (
	DefaultPriority    = 5
	DefaultMaxAttempts = 3
)

// EnqueueInput holds data for enqueuing a notification.
type EnqueueInput struct {
	RecipientPhone  string
	RecipientName   *string
	RecipientUserID *string
	Kind            domain.NotificationKind
	OrderID         *string
	QuoteID         *string
	Payload         domain.NotificationPayload
	TriggeredBy     *string
	TriggeredByRole *domain.Role
	Priority        int        // 0 means DefaultPriority
	MaxAttempts     int        // 0 means DefaultMaxAttempts
	ScheduledAt     *time.Time // nil means now (deferred sends set a future time)
	IdempotencyKey  string     // empty means derive from entity/kind/status
}

// Service implements the queue business logic: idempotent enqueue, atomic
// claiming, outcome recording and cancellation. All state lives in the
// repository; the service owns transition rules and the audit trail.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new queue service.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enqueue inserts a new pending job unless one with the same idempotency
// key already exists, in which case the existing job id is returned and
// nothing is written. Callers in business-transaction handlers must treat
// an error here as best-effort: log and proceed, never abort the
// transaction that triggered the notification.
func (s *Service) Enqueue(ctx context.Context, input EnqueueInput) (string, error) {
	if input.RecipientPhone == "" {
		return "", errors.New("recipient phone is required")
	}
	if !input.Kind.IsValid() {
		return "", fmt.Errorf("invalid notification kind: %s", input.Kind)
	}

	now := s.now()

	key := input.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(input.OrderID, input.QuoteID, input.Kind, input.Payload.Status, now)
	}

	existing, err := s.repo.GetByIdempotencyKey(ctx, key)
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		return "", fmt.Errorf("lookup idempotency key: %w", err)
	}
	if existing != nil {
		slog.Debug("duplicate enqueue suppressed",
			"idempotency_key", key,
			"job_id", existing.ID,
		)
		return existing.ID, nil
	}

	priority := input.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	maxAttempts := input.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	scheduledAt := now
	if input.ScheduledAt != nil {
		scheduledAt = *input.ScheduledAt
	}

	job := &domain.NotificationJob{
		RecipientPhone:  input.RecipientPhone,
		RecipientName:   input.RecipientName,
		RecipientUserID: input.RecipientUserID,
		Kind:            input.Kind,
		OrderID:         input.OrderID,
		QuoteID:         input.QuoteID,
		Payload:         input.Payload,
		Status:          domain.JobStatusPending,
		Attempts:        0,
		MaxAttempts:     maxAttempts,
		IdempotencyKey:  key,
		Priority:        priority,
		ScheduledAt:     scheduledAt,
		TriggeredBy:     input.TriggeredBy,
		TriggeredByRole: input.TriggeredByRole,
	}

	if err := s.repo.Insert(ctx, job); err != nil {
		// Two concurrent enqueues can both miss the lookup; the unique
		// index is the authoritative dedup, so re-fetch on conflict.
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			winner, getErr := s.repo.GetByIdempotencyKey(ctx, key)
			if getErr == nil {
				return winner.ID, nil
			}
		}
		return "", fmt.Errorf("insert job: %w", err)
	}

	statusAfter := domain.JobStatusPending
	s.appendEvent(ctx, &domain.NotificationEvent{
		JobID:       job.ID,
		Type:        domain.EventCreated,
		StatusAfter: &statusAfter,
	})

	slog.Info("notification enqueued",
		"job_id", job.ID,
		"kind", job.Kind,
		"priority", job.Priority,
	)
	return job.ID, nil
}

// ClaimNext claims the next eligible pending job, ordered by priority then
// schedule time. Returns (nil, nil) when no job is claimable; a lost claim
// race is treated the same way, not as an error.
func (s *Service) ClaimNext(ctx context.Context) (*domain.NotificationJob, error) {
	job, err := s.repo.ClaimNext(ctx, s.now())
	if err != nil {
		if errors.Is(err, ErrNoEligibleJobs) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	before := domain.JobStatusPending
	after := domain.JobStatusProcessing
	attempt := job.Attempts + 1
	s.appendEvent(ctx, &domain.NotificationEvent{
		JobID:         job.ID,
		Type:          domain.EventProcessingStarted,
		StatusBefore:  &before,
		StatusAfter:   &after,
		AttemptNumber: &attempt,
	})

	return job, nil
}

// RecordSuccess transitions a claimed job to sent: stores the transport
// message id, stamps processed_at and increments attempts in the same
// conditional update, so success and failure can never both count an
// attempt for one claim.
func (s *Service) RecordSuccess(ctx context.Context, jobID string, messageID *string, raw []byte, duration time.Duration) error {
	job, err := s.repo.MarkSent(ctx, jobID, messageID, s.now())
	if err != nil {
		if errors.Is(err, ErrAlreadyTerminal) {
			slog.Warn("success outcome for non-processing job ignored", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("mark sent: %w", err)
	}

	before := domain.JobStatusProcessing
	after := domain.JobStatusSent
	durationMs := duration.Milliseconds()
	s.appendEvent(ctx, &domain.NotificationEvent{
		JobID:         jobID,
		Type:          domain.EventMessageSent,
		StatusBefore:  &before,
		StatusAfter:   &after,
		AttemptNumber: &job.Attempts,
		APIResponse:   raw,
		DurationMs:    &durationMs,
	})

	slog.Info("notification sent",
		"job_id", jobID,
		"attempts", job.Attempts,
		"duration_ms", durationMs,
	)
	return nil
}

// RecordFailure records a failed attempt. Below the attempt ceiling the job
// goes back to pending with an exponential-backoff retry time; at the
// ceiling it becomes failed permanently and is retained for inspection.
// Transient and permanent transport errors are retried identically; the
// error code is persisted for operators but never short-circuits retries.
func (s *Service) RecordFailure(ctx context.Context, jobID string, sendErr error, duration time.Duration) error {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	var errorCode *string
	var raw []byte
	var terr *TransportError
	if errors.As(sendErr, &terr) {
		if terr.Code != "" {
			errorCode = &terr.Code
		}
		raw = terr.Raw
	}

	newAttempts := job.Attempts + 1
	terminal := newAttempts >= job.MaxAttempts

	update := FailureUpdate{
		Attempts:     newAttempts,
		Terminal:     terminal,
		ErrorMessage: sendErr.Error(),
		ErrorCode:    errorCode,
	}
	if !terminal {
		next := s.now().Add(BackoffDelay(job.Attempts))
		update.NextRetryAt = &next
	}

	updated, err := s.repo.MarkFailed(ctx, jobID, update)
	if err != nil {
		if errors.Is(err, ErrAlreadyTerminal) {
			slog.Warn("failure outcome for non-processing job ignored", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("mark failed: %w", err)
	}

	before := domain.JobStatusProcessing
	after := updated.Status
	eventType := domain.EventRetryScheduled
	if terminal {
		eventType = domain.EventFailed
	}
	errMsg := sendErr.Error()
	durationMs := duration.Milliseconds()
	s.appendEvent(ctx, &domain.NotificationEvent{
		JobID:         jobID,
		Type:          eventType,
		StatusBefore:  &before,
		StatusAfter:   &after,
		AttemptNumber: &newAttempts,
		APIResponse:   raw,
		ErrorMessage:  &errMsg,
		ErrorCode:     errorCode,
		DurationMs:    &durationMs,
	})

	if terminal {
		slog.Error("notification failed permanently",
			"job_id", jobID,
			"attempts", newAttempts,
			"error", sendErr,
		)
	} else {
		slog.Info("notification retry scheduled",
			"job_id", jobID,
			"attempt", newAttempts,
			"next_retry_at", update.NextRetryAt,
			"error", sendErr,
		)
	}
	return nil
}

// Cancel moves a pending or processing job to cancelled. Returns false when
// the job is already terminal. Cancellation is cooperative: it never
// interrupts an in-flight transport call, it only prevents reclaiming.
func (s *Service) Cancel(ctx context.Context, jobID, reason string) (bool, error) {
	if reason == "" {
		reason = "cancelled by operator"
	}

	ok, err := s.repo.Cancel(ctx, jobID, reason)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	if !ok {
		return false, nil
	}

	after := domain.JobStatusCancelled
	s.appendEvent(ctx, &domain.NotificationEvent{
		JobID:        jobID,
		Type:         domain.EventCancelled,
		StatusAfter:  &after,
		ErrorMessage: &reason,
	})

	slog.Info("notification cancelled", "job_id", jobID, "reason", reason)
	return true, nil
}

// RetryFailed resets a permanently failed job for manual replay: back to
// pending with a fresh attempt budget. Returns false if the job is not in
// failed.
func (s *Service) RetryFailed(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.repo.ResetFailed(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("reset failed job: %w", err)
	}
	if !ok {
		return false, nil
	}

	before := domain.JobStatusFailed
	after := domain.JobStatusPending
	s.appendEvent(ctx, &domain.NotificationEvent{
		JobID:        jobID,
		Type:         domain.EventCreated,
		StatusBefore: &before,
		StatusAfter:  &after,
	})

	slog.Info("failed notification requeued", "job_id", jobID)
	return true, nil
}

// ConfirmDelivery applies a delivery receipt from the transport, moving a
// sent job to delivered. Returns false if the job is not in sent.
func (s *Service) ConfirmDelivery(ctx context.Context, jobID, deliveryStatus string) (bool, error) {
	if deliveryStatus == "" {
		deliveryStatus = "delivered"
	}

	ok, err := s.repo.ConfirmDelivery(ctx, jobID, deliveryStatus)
	if err != nil {
		return false, fmt.Errorf("confirm delivery: %w", err)
	}
	if !ok {
		return false, nil
	}

	before := domain.JobStatusSent
	after := domain.JobStatusDelivered
	s.appendEvent(ctx, &domain.NotificationEvent{
		JobID:        jobID,
		Type:         domain.EventDeliveryConfirmed,
		StatusBefore: &before,
		StatusAfter:  &after,
	})

	return true, nil
}

// GetJob returns a single job by id.
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.NotificationJob, error) {
	return s.repo.GetByID(ctx, jobID)
}

// ListFailed returns permanently failed jobs, newest first, for review.
func (s *Service) ListFailed(ctx context.Context, limit int) ([]domain.NotificationJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListFailed(ctx, limit)
}

// ListEvents returns the audit trail of a job, oldest first.
func (s *Service) ListEvents(ctx context.Context, jobID string) ([]domain.NotificationEvent, error) {
	return s.repo.ListEvents(ctx, jobID)
}

// Stats returns per-status counts and the oldest pending job's age.
func (s *Service) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return s.repo.Stats(ctx)
}

// appendEvent writes an audit record. The audit trail is best-effort
// relative to the transition itself: a log write failure must not undo or
// fail a state change that already happened.
func (s *Service) appendEvent(ctx context.Context, event *domain.NotificationEvent) {
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		slog.Error("failed to append notification event",
			"job_id", event.JobID,
			"event_type", event.Type,
			"error", err,
		)
	}
}
