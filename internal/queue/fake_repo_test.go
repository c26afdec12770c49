package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kavanga/importdesk/internal/domain"
)

// fakeRepo is an in-memory Repository with the same conditional-update
// semantics as the postgres implementation, including the claim CAS.
type fakeRepo struct {
	mu     sync.Mutex
	nextID int
	jobs   map[string]*domain.NotificationJob
	events []domain.NotificationEvent

	eventErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: make(map[string]*domain.NotificationJob)}
}

func (f *fakeRepo) Insert(_ context.Context, job *domain.NotificationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.jobs {
		if existing.IdempotencyKey == job.IdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
	}

	f.nextID++
	job.ID = fmt.Sprintf("job-%d", f.nextID)
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt

	clone := *job
	f.jobs[job.ID] = &clone
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*domain.NotificationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (f *fakeRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.NotificationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.IdempotencyKey == key {
			clone := *job
			return &clone, nil
		}
	}
	return nil, ErrJobNotFound
}

func (f *fakeRepo) ClaimNext(_ context.Context, now time.Time) (*domain.NotificationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var eligible []*domain.NotificationJob
	for _, job := range f.jobs {
		if job.Status != domain.JobStatusPending {
			continue
		}
		if job.ScheduledAt.After(now) {
			continue
		}
		if job.NextRetryAt != nil && job.NextRetryAt.After(now) {
			continue
		}
		eligible = append(eligible, job)
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleJobs
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].ScheduledAt.Before(eligible[j].ScheduledAt)
	})

	winner := eligible[0]
	winner.Status = domain.JobStatusProcessing
	winner.UpdatedAt = now
	clone := *winner
	return &clone, nil
}

func (f *fakeRepo) MarkSent(_ context.Context, id string, messageID *string, processedAt time.Time) (*domain.NotificationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return nil, ErrAlreadyTerminal
	}

	sent := "sent"
	job.Status = domain.JobStatusSent
	job.MessageID = messageID
	job.DeliveryStatus = &sent
	job.Attempts++
	job.ProcessedAt = &processedAt
	job.NextRetryAt = nil
	clone := *job
	return &clone, nil
}

func (f *fakeRepo) MarkFailed(_ context.Context, id string, p FailureUpdate) (*domain.NotificationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return nil, ErrAlreadyTerminal
	}

	if p.Terminal {
		job.Status = domain.JobStatusFailed
	} else {
		job.Status = domain.JobStatusPending
	}
	job.Attempts = p.Attempts
	job.NextRetryAt = p.NextRetryAt
	job.LastError = &p.ErrorMessage
	job.LastErrorCode = p.ErrorCode
	clone := *job
	return &clone, nil
}

func (f *fakeRepo) Cancel(_ context.Context, id string, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusProcessing {
		return false, nil
	}
	job.Status = domain.JobStatusCancelled
	job.LastError = &reason
	return true, nil
}

func (f *fakeRepo) ResetFailed(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok || job.Status != domain.JobStatusFailed {
		return false, nil
	}
	job.Status = domain.JobStatusPending
	job.Attempts = 0
	job.NextRetryAt = nil
	job.LastError = nil
	job.LastErrorCode = nil
	return true, nil
}

func (f *fakeRepo) ConfirmDelivery(_ context.Context, id string, deliveryStatus string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok || job.Status != domain.JobStatusSent {
		return false, nil
	}
	job.Status = domain.JobStatusDelivered
	job.DeliveryStatus = &deliveryStatus
	return true, nil
}

func (f *fakeRepo) ListFailed(_ context.Context, limit int) ([]domain.NotificationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var failed []domain.NotificationJob
	for _, job := range f.jobs {
		if job.Status == domain.JobStatusFailed {
			failed = append(failed, *job)
		}
	}
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].CreatedAt.After(failed[j].CreatedAt)
	})
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

func (f *fakeRepo) Stats(_ context.Context) (*domain.QueueStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &domain.QueueStats{}
	for _, job := range f.jobs {
		switch job.Status {
		case domain.JobStatusPending:
			stats.Pending++
			if stats.OldestPending == nil || job.CreatedAt.Before(*stats.OldestPending) {
				created := job.CreatedAt
				stats.OldestPending = &created
			}
		case domain.JobStatusProcessing:
			stats.Processing++
		case domain.JobStatusSent:
			stats.Sent++
		case domain.JobStatusDelivered:
			stats.Delivered++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (f *fakeRepo) AppendEvent(_ context.Context, event *domain.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.eventErr != nil {
		return f.eventErr
	}
	event.ID = fmt.Sprintf("event-%d", len(f.events)+1)
	event.CreatedAt = time.Now()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeRepo) ListEvents(_ context.Context, jobID string) ([]domain.NotificationEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var events []domain.NotificationEvent
	for _, ev := range f.events {
		if ev.JobID == jobID {
			events = append(events, ev)
		}
	}
	return events, nil
}

// eventTypes returns the audit event types recorded for a job, in order.
func (f *fakeRepo) eventTypes(jobID string) []domain.NotificationEventType {
	f.mu.Lock()
	defer f.mu.Unlock()

	var types []domain.NotificationEventType
	for _, ev := range f.events {
		if ev.JobID == jobID {
			types = append(types, ev.Type)
		}
	}
	return types
}
