package queue

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kavanga/importdesk/internal/domain"
	"github.com/kavanga/importdesk/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrJobNotFound, Status: http.StatusNotFound, Message: "notification job not found"},
}

// Handler handles HTTP requests for the notification queue: the worker
// trigger called by an external scheduler plus the operator surface
// (stats, failed jobs, manual enqueue, retry, cancel).
type Handler struct {
	service   *Service
	worker    *Worker
	validator *validator.Validate
	workerKey string
}

// NewHandler creates a new queue handler. workerKey protects the process
// endpoint when it is invoked by an external cron; empty disables it.
func NewHandler(service *Service, worker *Worker, workerKey string) *Handler {
	return &Handler{
		service:   service,
		worker:    worker,
		validator: validator.New(),
		workerKey: workerKey,
	}
}

// RegisterRoutes registers queue routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.EnqueueNotification)
		r.Post("/process", h.ProcessQueue)
		r.Get("/stats", h.GetStats)
		r.Get("/failed", h.ListFailed)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetJob)
			r.Get("/events", h.ListEvents)
			r.Post("/retry", h.RetryJob)
			r.Post("/cancel", h.CancelJob)
			r.Post("/delivery", h.ConfirmDelivery)
		})
	})
}

// EnqueueRequest represents the request body for a manual enqueue.
type EnqueueRequest struct {
	RecipientPhone  string                     `json:"recipient_phone" validate:"required"`
	RecipientName   *string                    `json:"recipient_name"`
	RecipientUserID *string                    `json:"recipient_user_id"`
	Kind            string                     `json:"kind" validate:"required,oneof=status_change document_upload order_confirmation payment_reminder shipping_update delivery_notification custom"`
	OrderID         *string                    `json:"order_id"`
	QuoteID         *string                    `json:"quote_id"`
	Payload         domain.NotificationPayload `json:"payload"`
	Priority        int                        `json:"priority" validate:"omitempty,min=1,max=10"`
	MaxAttempts     int                        `json:"max_attempts" validate:"omitempty,min=1,max=10"`
	ScheduledAt     *time.Time                 `json:"scheduled_at"`
	IdempotencyKey  string                     `json:"idempotency_key"`
}

// CancelRequest represents the request body for cancelling a job.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// DeliveryRequest represents a transport delivery receipt.
type DeliveryRequest struct {
	Status string `json:"status"`
}

// EnqueueNotification handles POST /notifications.
func (h *Handler) EnqueueNotification(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor := httputil.GetActor(r.Context())

	jobID, err := h.service.Enqueue(r.Context(), EnqueueInput{
		RecipientPhone:  req.RecipientPhone,
		RecipientName:   req.RecipientName,
		RecipientUserID: req.RecipientUserID,
		Kind:            domain.NotificationKind(req.Kind),
		OrderID:         req.OrderID,
		QuoteID:         req.QuoteID,
		Payload:         req.Payload,
		Priority:        req.Priority,
		MaxAttempts:     req.MaxAttempts,
		ScheduledAt:     req.ScheduledAt,
		IdempotencyKey:  req.IdempotencyKey,
		TriggeredBy:     actor.ID,
		TriggeredByRole: actor.Role,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// ProcessQueue handles POST /notifications/process: drains one batch and
// returns the results with current stats, for cron-style invocation.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeWorker(r) {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result := h.worker.ProcessBatch(r.Context())

	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"results": result,
		"stats":   stats,
	})
}

// GetStats handles GET /notifications/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, stats)
}

// ListFailed handles GET /notifications/failed.
func (h *Handler) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	jobs, err := h.service.ListFailed(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, jobs)
}

// GetJob handles GET /notifications/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, job)
}

// ListEvents handles GET /notifications/{id}/events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, events)
}

// RetryJob handles POST /notifications/{id}/retry.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	ok, err := h.service.RetryFailed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if !ok {
		httputil.Error(w, http.StatusConflict, "job is not in failed state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelJob handles POST /notifications/{id}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.Body != nil {
		// Body is optional; a bare POST cancels with the default reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ok, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if !ok {
		httputil.Error(w, http.StatusConflict, "job is already in a terminal state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmDelivery handles POST /notifications/{id}/delivery: the delivery
// receipt callback from the transport.
func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	var req DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	ok, err := h.service.ConfirmDelivery(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if !ok {
		httputil.Error(w, http.StatusConflict, "job is not in sent state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) authorizeWorker(r *http.Request) bool {
	if h.workerKey == "" {
		return true
	}
	key := r.Header.Get("X-Api-Key")
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.workerKey)) == 1
}
