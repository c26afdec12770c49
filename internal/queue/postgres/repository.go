// Package postgres provides the PostgreSQL implementation of the queue
// repository. Concurrent safety comes from single-row conditional updates
// keyed on the expected current status: the claim is an UPDATE guarded by
// status='pending' whose affected-row count decides the race, equivalent
// in effect to SELECT ... FOR UPDATE SKIP LOCKED without explicit locks.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kavanga/importdesk/internal/domain"
	"github.com/kavanga/importdesk/internal/queue"
)

// claimCandidates bounds how many eligible rows one ClaimNext call will
// race for before giving up.
const claimCandidates = 5

// Repository implements queue.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL queue repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const jobColumns = `
	id, recipient_phone, recipient_name, recipient_user_id, kind,
	order_id, quote_id, payload, status, attempts, max_attempts,
	next_retry_at, last_error, last_error_code, message_id, delivery_status,
	idempotency_key, priority, scheduled_at, created_at, updated_at,
	processed_at, triggered_by, triggered_by_role
`

// Insert creates a new job row. The unique index on idempotency_key is the
// authoritative duplicate guard; a violation maps to
// queue.ErrDuplicateIdempotencyKey so the caller can return the winner.
func (r *Repository) Insert(ctx context.Context, job *domain.NotificationJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO notification_queue (
			recipient_phone, recipient_name, recipient_user_id, kind,
			order_id, quote_id, payload, status, attempts, max_attempts,
			idempotency_key, priority, scheduled_at, triggered_by, triggered_by_role
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		job.RecipientPhone,
		job.RecipientName,
		job.RecipientUserID,
		job.Kind,
		job.OrderID,
		job.QuoteID,
		payload,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.IdempotencyKey,
		job.Priority,
		job.ScheduledAt,
		job.TriggeredBy,
		job.TriggeredByRole,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return queue.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by id.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_queue WHERE id = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByIdempotencyKey retrieves a job by its idempotency key.
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_queue WHERE idempotency_key = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job by idempotency key: %w", err)
	}
	return job, nil
}

// ClaimNext selects eligible pending jobs in claim order and tries to win
// each with a compare-and-swap to processing. Zero affected rows means
// another worker got there first; the next candidate is tried. With no
// winnable candidate it returns queue.ErrNoEligibleJobs.
func (r *Repository) ClaimNext(ctx context.Context, now time.Time) (*domain.NotificationJob, error) {
	selectQuery := `
		SELECT id FROM notification_queue
		WHERE status = 'pending'
		  AND scheduled_at <= $1
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY priority ASC, scheduled_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, selectQuery, now, claimCandidates)
	if err != nil {
		return nil, fmt.Errorf("select claim candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]string, 0, claimCandidates)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan candidate id: %w", err)
		}
		candidates = append(candidates, id)
	}
	rows.Close()

	claimQuery := `
		UPDATE notification_queue
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + jobColumns

	for _, id := range candidates {
		job, err := scanJob(r.db.QueryRow(ctx, claimQuery, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Lost the race for this row; try the next candidate.
				continue
			}
			return nil, fmt.Errorf("claim job %s: %w", id, err)
		}
		return job, nil
	}

	return nil, queue.ErrNoEligibleJobs
}

// MarkSent transitions a processing job to sent. The attempt increment
// rides the same conditional update, so it is counted exactly once per
// successful claim.
func (r *Repository) MarkSent(ctx context.Context, id string, messageID *string, processedAt time.Time) (*domain.NotificationJob, error) {
	query := `
		UPDATE notification_queue
		SET status = 'sent',
		    message_id = $2,
		    delivery_status = 'sent',
		    attempts = attempts + 1,
		    processed_at = $3,
		    next_retry_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query, id, messageID, processedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.conflictError(ctx, id)
		}
		return nil, fmt.Errorf("mark sent: %w", err)
	}
	return job, nil
}

// MarkFailed records a failed attempt: back to pending with a retry time,
// or to failed permanently. Conditional on the job still being processing.
func (r *Repository) MarkFailed(ctx context.Context, id string, p queue.FailureUpdate) (*domain.NotificationJob, error) {
	status := domain.JobStatusPending
	if p.Terminal {
		status = domain.JobStatusFailed
	}

	query := `
		UPDATE notification_queue
		SET status = $2,
		    attempts = $3,
		    next_retry_at = $4,
		    last_error = $5,
		    last_error_code = $6,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query, id, status, p.Attempts, p.NextRetryAt, p.ErrorMessage, p.ErrorCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.conflictError(ctx, id)
		}
		return nil, fmt.Errorf("mark failed: %w", err)
	}
	return job, nil
}

// Cancel moves a pending or processing job to cancelled.
func (r *Repository) Cancel(ctx context.Context, id string, reason string) (bool, error) {
	query := `
		UPDATE notification_queue
		SET status = 'cancelled', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	result, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ResetFailed requeues a permanently failed job with a clean slate.
func (r *Repository) ResetFailed(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE notification_queue
		SET status = 'pending',
		    attempts = 0,
		    next_retry_at = NULL,
		    last_error = NULL,
		    last_error_code = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("reset failed job: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ConfirmDelivery applies a transport delivery receipt to a sent job.
func (r *Repository) ConfirmDelivery(ctx context.Context, id string, deliveryStatus string) (bool, error) {
	query := `
		UPDATE notification_queue
		SET status = 'delivered', delivery_status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'sent'
	`
	result, err := r.db.Exec(ctx, query, id, deliveryStatus)
	if err != nil {
		return false, fmt.Errorf("confirm delivery: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListFailed returns permanently failed jobs, newest first.
func (r *Repository) ListFailed(ctx context.Context, limit int) ([]domain.NotificationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_queue
		WHERE status = 'failed'
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.NotificationJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// Stats returns per-status counts and the oldest pending job's creation
// time in a single aggregate query.
func (r *Repository) Stats(ctx context.Context) (*domain.QueueStats, error) {
	query := `
		SELECT status, COUNT(*), MIN(created_at)
		FROM notification_queue
		GROUP BY status
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.QueueStats{}
	for rows.Next() {
		var status domain.JobStatus
		var count int64
		var oldest time.Time
		if err := rows.Scan(&status, &count, &oldest); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}

		switch status {
		case domain.JobStatusPending:
			stats.Pending = count
			stats.OldestPending = &oldest
		case domain.JobStatusProcessing:
			stats.Processing = count
		case domain.JobStatusSent:
			stats.Sent = count
		case domain.JobStatusDelivered:
			stats.Delivered = count
		case domain.JobStatusFailed:
			stats.Failed = count
		case domain.JobStatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, nil
}

// AppendEvent writes one immutable audit record.
func (r *Repository) AppendEvent(ctx context.Context, event *domain.NotificationEvent) error {
	query := `
		INSERT INTO notification_log (
			queue_id, event_type, status_before, status_after,
			attempt_number, api_response, error_message, error_code, duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	var apiResponse []byte
	if len(event.APIResponse) > 0 {
		apiResponse = event.APIResponse
	}

	err := r.db.QueryRow(ctx, query,
		event.JobID,
		event.Type,
		event.StatusBefore,
		event.StatusAfter,
		event.AttemptNumber,
		apiResponse,
		event.ErrorMessage,
		event.ErrorCode,
		event.DurationMs,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns a job's audit trail, oldest first.
func (r *Repository) ListEvents(ctx context.Context, jobID string) ([]domain.NotificationEvent, error) {
	query := `
		SELECT id, queue_id, event_type, status_before, status_after,
		       attempt_number, api_response, error_message, error_code,
		       duration_ms, created_at
		FROM notification_log
		WHERE queue_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.NotificationEvent, 0)
	for rows.Next() {
		var ev domain.NotificationEvent
		err := rows.Scan(
			&ev.ID,
			&ev.JobID,
			&ev.Type,
			&ev.StatusBefore,
			&ev.StatusAfter,
			&ev.AttemptNumber,
			&ev.APIResponse,
			&ev.ErrorMessage,
			&ev.ErrorCode,
			&ev.DurationMs,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// conflictError distinguishes a missing job from one whose status moved on.
func (r *Repository) conflictError(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return queue.ErrAlreadyTerminal
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.NotificationJob, error) {
	var job domain.NotificationJob
	var payload []byte

	err := row.Scan(
		&job.ID,
		&job.RecipientPhone,
		&job.RecipientName,
		&job.RecipientUserID,
		&job.Kind,
		&job.OrderID,
		&job.QuoteID,
		&payload,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.NextRetryAt,
		&job.LastError,
		&job.LastErrorCode,
		&job.MessageID,
		&job.DeliveryStatus,
		&job.IdempotencyKey,
		&job.Priority,
		&job.ScheduledAt,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ProcessedAt,
		&job.TriggeredBy,
		&job.TriggeredByRole,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &job, nil
}
