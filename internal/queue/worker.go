package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kavanga/importdesk/internal/domain"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	BatchSize    int           // max jobs drained per poll
	PollInterval time.Duration
	SendTimeout  time.Duration // per-send ceiling; a hung send becomes a failure
	NumWorkers   int
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:    10,
		PollInterval: 30 * time.Second,
		SendTimeout:  30 * time.Second,
		NumWorkers:   2,
	}
}

// BatchResult summarizes one drain pass over the queue.
type BatchResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Worker drains the notification queue: claim, send, record outcome.
// Multiple workers, in-process or on different hosts, are safe because
// claiming is a conditional update on the job row.
type Worker struct {
	config    WorkerConfig
	service   *Service
	transport Transport

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a new queue worker.
func NewWorker(config WorkerConfig, service *Service, transport Transport) *Worker {
	return &Worker{
		config:    config,
		service:   service,
		transport: transport,
		stopCh:    make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers. In-flight sends run to completion or
// timeout; a job already claimed is finished, never abandoned in processing.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("notification worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			result := w.ProcessBatch(ctx)
			if result.Processed > 0 {
				slog.Debug("processed notification batch",
					"worker", workerID,
					"processed", result.Processed,
					"succeeded", result.Succeeded,
					"failed", result.Failed,
				)
			}
		}
	}
}

// ProcessBatch claims and processes jobs until the queue is drained or the
// batch limit is reached. It is the single entry point for both the poll
// loop and one-shot scheduler invocations (cron, the ops endpoint).
func (w *Worker) ProcessBatch(ctx context.Context) BatchResult {
	var result BatchResult

	for i := 0; i < w.config.BatchSize; i++ {
		job, err := w.service.ClaimNext(ctx)
		if err != nil {
			slog.Error("failed to claim next notification", "error", err)
			result.Errors = append(result.Errors, err.Error())
			break
		}
		if job == nil {
			break
		}

		result.Processed++
		recordQueueClaimed()

		if w.processJob(ctx, job) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	return result
}

// processJob sends one claimed job and records exactly one outcome.
// Returns true on success.
func (w *Worker) processJob(ctx context.Context, job *domain.NotificationJob) bool {
	start := time.Now()

	sendCtx, cancel := context.WithTimeout(ctx, w.config.SendTimeout)
	defer cancel()

	res, err := w.transport.Send(sendCtx, job.RecipientPhone, job.Kind, job.Payload)
	duration := time.Since(start)

	if err != nil {
		if sendCtx.Err() == context.DeadlineExceeded {
			err = &TransportError{Code: "TIMEOUT", Message: "send timed out", Retryable: true}
		}
		if recErr := w.service.RecordFailure(ctx, job.ID, err, duration); recErr != nil {
			slog.Error("failed to record failure", "job_id", job.ID, "error", recErr)
		}
		recordNotificationProcessed(string(job.Kind), "failed")
		return false
	}

	var messageID *string
	var raw []byte
	if res != nil {
		if res.MessageID != "" {
			messageID = &res.MessageID
		}
		raw = res.Raw
	}

	if recErr := w.service.RecordSuccess(ctx, job.ID, messageID, raw, duration); recErr != nil {
		slog.Error("failed to record success", "job_id", job.ID, "error", recErr)
	}

	recordNotificationProcessed(string(job.Kind), "sent")
	recordSendDuration(string(job.Kind), duration)
	return true
}
