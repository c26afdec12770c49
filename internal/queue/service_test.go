package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavanga/importdesk/internal/domain"
)

func strPtr(s string) *string { return &s }

func newTestService(repo *fakeRepo, at time.Time) *Service {
	return NewService(repo).WithClock(func() time.Time { return at })
}

func enqueueStatusChange(t *testing.T, svc *Service, orderID, status string) string {
	t.Helper()
	jobID, err := svc.Enqueue(context.Background(), EnqueueInput{
		RecipientPhone: "+24107123456",
		Kind:           domain.KindStatusChange,
		OrderID:        &orderID,
		Payload:        domain.NotificationPayload{Status: status},
	})
	require.NoError(t, err)
	return jobID
}

func TestEnqueue_Defaults(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(repo, now)

	jobID := enqueueStatusChange(t, svc, "order-1", "deposit_paid")

	job, err := repo.GetByID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, DefaultPriority, job.Priority)
	assert.Equal(t, now, job.ScheduledAt)
	assert.NotEmpty(t, job.IdempotencyKey)

	assert.Equal(t, []domain.NotificationEventType{domain.EventCreated}, repo.eventTypes(jobID))
}

func TestEnqueue_Validation(t *testing.T) {
	svc := newTestService(newFakeRepo(), time.Now())

	_, err := svc.Enqueue(context.Background(), EnqueueInput{Kind: domain.KindCustom})
	assert.ErrorContains(t, err, "phone")

	_, err = svc.Enqueue(context.Background(), EnqueueInput{
		RecipientPhone: "+24107123456",
		Kind:           "carrier_pigeon",
	})
	assert.ErrorContains(t, err, "invalid notification kind")
}

func TestEnqueue_DuplicateWithinBucketReturnsExistingJob(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)
	svc := newTestService(repo, now)

	first := enqueueStatusChange(t, svc, "order-1", "deposit_paid")

	// Same transition 20 seconds later, still inside the minute bucket.
	svc = newTestService(repo, now.Add(20*time.Second))
	second := enqueueStatusChange(t, svc, "order-1", "deposit_paid")

	assert.Equal(t, first, second)
	assert.Len(t, repo.jobs, 1)
	// No second created event for the suppressed duplicate.
	assert.Len(t, repo.eventTypes(first), 1)
}

func TestEnqueue_DistinctBucketsCreateDistinctJobs(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)

	first := enqueueStatusChange(t, newTestService(repo, now), "order-1", "deposit_paid")
	second := enqueueStatusChange(t, newTestService(repo, now.Add(2*time.Minute)), "order-1", "deposit_paid")

	assert.NotEqual(t, first, second)
	assert.Len(t, repo.jobs, 2)
}

func TestEnqueue_DifferentStatusSameBucketCreatesDistinctJobs(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(repo, now)

	first := enqueueStatusChange(t, svc, "order-1", "deposit_paid")
	second := enqueueStatusChange(t, svc, "order-1", "vehicle_purchased")

	assert.NotEqual(t, first, second)
}

func TestEnqueue_CallerSuppliedKeyOverridesDerivation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, time.Now())

	jobID, err := svc.Enqueue(context.Background(), EnqueueInput{
		RecipientPhone: "+24107123456",
		Kind:           domain.KindCustom,
		Payload:        domain.NotificationPayload{CustomMessage: "hello"},
		IdempotencyKey: "my-key",
	})
	require.NoError(t, err)

	job, err := repo.GetByID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "my-key", job.IdempotencyKey)
}

// raceRepo reports a lookup miss on the first call so two concurrent
// enqueues both reach Insert, where the unique index settles the race.
type raceRepo struct {
	*fakeRepo
	missed bool
}

func (r *raceRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.NotificationJob, error) {
	if !r.missed {
		r.missed = true
		return nil, ErrJobNotFound
	}
	return r.fakeRepo.GetByIdempotencyKey(ctx, key)
}

func TestEnqueue_InsertRaceReturnsWinner(t *testing.T) {
	now := time.Now()
	repo := &raceRepo{fakeRepo: newFakeRepo()}
	winner := enqueueStatusChange(t, NewService(repo.fakeRepo).WithClock(func() time.Time { return now }), "order-1", "customs")

	// The racing enqueue misses the lookup, collides on insert, re-fetches.
	svc := NewService(repo).WithClock(func() time.Time { return now })
	second := enqueueStatusChange(t, svc, "order-1", "customs")
	assert.Equal(t, winner, second)
	assert.Len(t, repo.jobs, 1)
}

func TestClaimNext_EmptyQueueReturnsNil(t *testing.T) {
	svc := newTestService(newFakeRepo(), time.Now())

	job, err := svc.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimNext_PriorityThenScheduleOrder(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	early := now.Add(-2 * time.Hour)
	late := now.Add(-1 * time.Hour)

	lowPriority, err := newTestService(repo, now).Enqueue(ctx, EnqueueInput{
		RecipientPhone: "+1", Kind: domain.KindCustom,
		Payload: domain.NotificationPayload{CustomMessage: "low"}, IdempotencyKey: "low",
		Priority: 5, ScheduledAt: &early,
	})
	require.NoError(t, err)

	highPriority, err := newTestService(repo, now).Enqueue(ctx, EnqueueInput{
		RecipientPhone: "+2", Kind: domain.KindCustom,
		Payload: domain.NotificationPayload{CustomMessage: "high"}, IdempotencyKey: "high",
		Priority: 2, ScheduledAt: &late,
	})
	require.NoError(t, err)

	svc := newTestService(repo, now)

	first, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, highPriority, first.ID, "lower priority value wins despite later schedule")

	second, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, lowPriority, second.ID)
}

func TestClaimNext_SkipsDeferredJobs(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	ctx := context.Background()

	_, err := newTestService(repo, now).Enqueue(ctx, EnqueueInput{
		RecipientPhone: "+1", Kind: domain.KindPaymentReminder,
		IdempotencyKey: "deferred", ScheduledAt: &future,
	})
	require.NoError(t, err)

	job, err := newTestService(repo, now).ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "deferred job must not be claimable before its schedule")

	job, err = newTestService(repo, future.Add(time.Second)).ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestClaimNext_ConcurrentClaimsAreExclusive(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	svc := newTestService(repo, now)
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		_, err := svc.Enqueue(ctx, EnqueueInput{
			RecipientPhone: "+24107123456",
			Kind:           domain.KindCustom,
			Payload:        domain.NotificationPayload{CustomMessage: "x"},
			IdempotencyKey: string(rune('a' + i)),
		})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := svc.ClaimNext(ctx)
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, count := range claimed {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}

func TestRecordSuccess_HappyPath(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(repo, now)
	ctx := context.Background()

	jobID, err := svc.Enqueue(ctx, EnqueueInput{
		RecipientPhone: "+123",
		Kind:           domain.KindStatusChange,
		OrderID:        strPtr("O1"),
		Payload:        domain.NotificationPayload{Status: "deposit_paid"},
		Priority:       2,
	})
	require.NoError(t, err)

	job, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, jobID, job.ID)

	err = svc.RecordSuccess(ctx, jobID, strPtr("wamid.ABC"), []byte(`{"sent":true}`), 120*time.Millisecond)
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.MessageID)
	assert.Equal(t, "wamid.ABC", *stored.MessageID)
	require.NotNil(t, stored.ProcessedAt)

	assert.Equal(t, []domain.NotificationEventType{
		domain.EventCreated,
		domain.EventProcessingStarted,
		domain.EventMessageSent,
	}, repo.eventTypes(jobID))
}

func TestRecordFailure_SchedulesRetryWithBackoff(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(repo, now)
	ctx := context.Background()

	jobID := enqueueStatusChange(t, svc, "order-1", "customs")

	job, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, jobID, job.ID)

	err = svc.RecordFailure(ctx, jobID, &TransportError{Code: "HTTP_503", Message: "unavailable", Retryable: true}, time.Second)
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.NextRetryAt)
	// First failure: attempts was 0 at claim, so the delay is 2^0 = 1 minute.
	assert.Equal(t, now.Add(time.Minute), *stored.NextRetryAt)
	require.NotNil(t, stored.LastErrorCode)
	assert.Equal(t, "HTTP_503", *stored.LastErrorCode)

	types := repo.eventTypes(jobID)
	assert.Equal(t, domain.EventRetryScheduled, types[len(types)-1])
}

func TestRecordFailure_BackoffGrowsPerAttempt(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	jobID, err := newTestService(repo, now).Enqueue(ctx, EnqueueInput{
		RecipientPhone: "+1", Kind: domain.KindCustom,
		Payload: domain.NotificationPayload{CustomMessage: "x"}, IdempotencyKey: "k",
		MaxAttempts: 10,
	})
	require.NoError(t, err)

	wantDelays := []time.Duration{1, 2, 4, 8, 16, 32}
	for i, want := range wantDelays {
		// Advance past the previous retry time so the job is claimable.
		at := now.Add(time.Duration(i) * time.Hour)
		svc := newTestService(repo, at)

		job, err := svc.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", i+1)

		require.NoError(t, svc.RecordFailure(ctx, jobID, errors.New("boom"), time.Second))

		stored, err := repo.GetByID(ctx, jobID)
		require.NoError(t, err)
		require.NotNil(t, stored.NextRetryAt)
		assert.Equal(t, at.Add(want*time.Minute), *stored.NextRetryAt, "attempt %d", i+1)
	}
}

func TestRecordFailure_TerminalAtMaxAttempts(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	jobID := enqueueStatusChange(t, newTestService(repo, now), "order-1", "customs")

	for i := 0; i < DefaultMaxAttempts; i++ {
		at := now.Add(time.Duration(i) * time.Hour)
		svc := newTestService(repo, at)

		job, err := svc.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", i+1)

		require.NoError(t, svc.RecordFailure(ctx, jobID, errors.New("gateway down"), time.Second))
	}

	stored, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, DefaultMaxAttempts, stored.Attempts)
	assert.Nil(t, stored.NextRetryAt)

	// The terminal job is never claimable again.
	job, err := newTestService(repo, now.Add(100*time.Hour)).ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	types := repo.eventTypes(jobID)
	assert.Equal(t, domain.EventFailed, types[len(types)-1])
}

func TestCancel_PendingJob(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, time.Now())
	ctx := context.Background()

	jobID := enqueueStatusChange(t, svc, "order-1", "customs")

	ok, err := svc.Cancel(ctx, jobID, "customer withdrew")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, stored.Status)

	// Cancelled jobs are terminal.
	job, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	ok, err = svc.Cancel(ctx, jobID, "again")
	require.NoError(t, err)
	assert.False(t, ok, "terminal job cannot be cancelled twice")
}

func TestCancel_RaceWithWorkerYieldsSingleOutcome(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	svc := newTestService(repo, now)
	ctx := context.Background()

	jobID := enqueueStatusChange(t, svc, "order-1", "customs")

	job, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	// Operator cancels while the worker holds the claim.
	ok, err := svc.Cancel(ctx, jobID, "operator cancel")
	require.NoError(t, err)
	assert.True(t, ok)

	// The worker's outcome lands after the cancel and is ignored.
	err = svc.RecordSuccess(ctx, jobID, strPtr("wamid.X"), nil, time.Second)
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, stored.Status)
	assert.Nil(t, stored.MessageID)
}

func TestRetryFailed_ResetsJob(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	jobID := enqueueStatusChange(t, newTestService(repo, now), "order-1", "customs")

	for i := 0; i < DefaultMaxAttempts; i++ {
		svc := newTestService(repo, now.Add(time.Duration(i)*time.Hour))
		job, err := svc.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.NoError(t, svc.RecordFailure(ctx, jobID, errors.New("down"), time.Second))
	}

	svc := newTestService(repo, now.Add(24*time.Hour))
	ok, err := svc.RetryFailed(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	assert.Nil(t, stored.NextRetryAt)

	// Only failed jobs can be replayed.
	ok, err = svc.RetryFailed(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmDelivery_SentOnly(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, time.Now())
	ctx := context.Background()

	jobID := enqueueStatusChange(t, svc, "order-1", "delivered")

	// Not sent yet: receipt rejected.
	ok, err := svc.ConfirmDelivery(ctx, jobID, "delivered")
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, svc.RecordSuccess(ctx, jobID, strPtr("wamid.Z"), nil, time.Second))

	ok, err = svc.ConfirmDelivery(ctx, jobID, "read")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDelivered, stored.Status)
	require.NotNil(t, stored.DeliveryStatus)
	assert.Equal(t, "read", *stored.DeliveryStatus)

	types := repo.eventTypes(jobID)
	assert.Equal(t, domain.EventDeliveryConfirmed, types[len(types)-1])
}

func TestAuditTrailFailureDoesNotFailTransition(t *testing.T) {
	repo := newFakeRepo()
	repo.eventErr = errors.New("log table unavailable")
	svc := newTestService(repo, time.Now())
	ctx := context.Background()

	jobID := enqueueStatusChange(t, svc, "order-1", "customs")

	stored, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status, "enqueue survives audit write failure")
}

func TestStats(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	svc := newTestService(repo, now)
	ctx := context.Background()

	enqueueStatusChange(t, svc, "order-1", "customs")
	enqueueStatusChange(t, svc, "order-2", "customs")

	job, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, svc.RecordSuccess(ctx, job.ID, nil, nil, time.Second))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Sent)
	assert.NotNil(t, stats.OldestPending)
}
