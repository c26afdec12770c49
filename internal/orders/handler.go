package orders

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kavanga/importdesk/internal/domain"
	"github.com/kavanga/importdesk/internal/pkg/httputil"
)

// Handler exposes the business action endpoints and the status log.
type Handler struct {
	notifier  *StatusNotifier
	repo      Repository
	validator *validator.Validate
}

// NewHandler creates a new orders handler.
func NewHandler(notifier *StatusNotifier, repo Repository) *Handler {
	return &Handler{
		notifier:  notifier,
		repo:      repo,
		validator: validator.New(),
	}
}

// RegisterRoutes registers order routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/status-change", h.RecordStatusChange)
		r.Post("/documents", h.NotifyDocuments)
		r.Post("/messages", h.SendCustomMessage)
		r.Get("/{id}/status-log", h.ListOrderStatusLog)
	})
	r.Get("/quotes/{id}/status-log", h.ListQuoteStatusLog)
	r.Get("/status-log", h.ListRecentStatusLog)
}

// StatusChangeRequest is the request body for recording a status change.
type StatusChangeRequest struct {
	OrderID         *string                `json:"order_id" validate:"required_without=QuoteID"`
	QuoteID         *string                `json:"quote_id"`
	OrderNumber     *string                `json:"order_number"`
	PreviousStatus  *string                `json:"previous_status"`
	NewStatus       string                 `json:"new_status" validate:"required"`
	RecipientPhone  string                 `json:"recipient_phone"`
	RecipientName   *string                `json:"recipient_name"`
	RecipientUserID *string                `json:"recipient_user_id"`
	Vehicle         *domain.VehicleSummary `json:"vehicle"`
	Documents       []domain.DocumentRef   `json:"documents"`
	ShippingETA     string                 `json:"shipping_eta"`
	Note            *string                `json:"note"`
	Metadata        map[string]any         `json:"metadata"`
}

// DocumentUploadRequest is the request body for a document notification.
type DocumentUploadRequest struct {
	OrderID         *string                `json:"order_id" validate:"required_without=QuoteID"`
	QuoteID         *string                `json:"quote_id"`
	OrderNumber     *string                `json:"order_number"`
	RecipientPhone  string                 `json:"recipient_phone" validate:"required"`
	RecipientName   *string                `json:"recipient_name"`
	RecipientUserID *string                `json:"recipient_user_id"`
	Vehicle         *domain.VehicleSummary `json:"vehicle"`
	Documents       []domain.DocumentRef   `json:"documents" validate:"required,min=1"`
}

// CustomMessageRequest is the request body for a free-form message.
type CustomMessageRequest struct {
	OrderID         *string `json:"order_id"`
	QuoteID         *string `json:"quote_id"`
	RecipientPhone  string  `json:"recipient_phone" validate:"required"`
	RecipientName   *string `json:"recipient_name"`
	RecipientUserID *string `json:"recipient_user_id"`
	Message         string  `json:"message" validate:"required"`
}

// RecordStatusChange handles POST /orders/status-change.
func (h *Handler) RecordStatusChange(w http.ResponseWriter, r *http.Request) {
	var req StatusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor := httputil.GetActor(r.Context())
	ip := r.RemoteAddr
	agent := r.UserAgent()

	record, err := h.notifier.NotifyStatusChange(r.Context(), StatusChangeInput{
		OrderID:         req.OrderID,
		QuoteID:         req.QuoteID,
		OrderNumber:     req.OrderNumber,
		PreviousStatus:  req.PreviousStatus,
		NewStatus:       domain.OrderStatus(req.NewStatus),
		RecipientPhone:  req.RecipientPhone,
		RecipientName:   req.RecipientName,
		RecipientUserID: req.RecipientUserID,
		Vehicle:         req.Vehicle,
		Documents:       req.Documents,
		ShippingETA:     req.ShippingETA,
		Note:            req.Note,
		Metadata:        req.Metadata,
		ChangedBy:       actor.ID,
		ChangedByRole:   actor.Role,
		IPAddress:       &ip,
		UserAgent:       &agent,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusCreated, record)
}

// NotifyDocuments handles POST /orders/documents.
func (h *Handler) NotifyDocuments(w http.ResponseWriter, r *http.Request) {
	var req DocumentUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor := httputil.GetActor(r.Context())

	jobID, err := h.notifier.NotifyDocumentUpload(r.Context(), DocumentUploadInput{
		OrderID:         req.OrderID,
		QuoteID:         req.QuoteID,
		OrderNumber:     req.OrderNumber,
		RecipientPhone:  req.RecipientPhone,
		RecipientName:   req.RecipientName,
		RecipientUserID: req.RecipientUserID,
		Vehicle:         req.Vehicle,
		Documents:       req.Documents,
		UploadedBy:      actor.ID,
		UploadedByRole:  actor.Role,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	if jobID == "" {
		httputil.Success(w, http.StatusOK, map[string]string{"status": "skipped"})
		return
	}

	httputil.Success(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// SendCustomMessage handles POST /orders/messages.
func (h *Handler) SendCustomMessage(w http.ResponseWriter, r *http.Request) {
	var req CustomMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor := httputil.GetActor(r.Context())

	jobID, err := h.notifier.NotifyCustom(r.Context(), CustomMessageInput{
		OrderID:         req.OrderID,
		QuoteID:         req.QuoteID,
		RecipientPhone:  req.RecipientPhone,
		RecipientName:   req.RecipientName,
		RecipientUserID: req.RecipientUserID,
		Message:         req.Message,
		SentBy:          actor.ID,
		SentByRole:      actor.Role,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// ListOrderStatusLog handles GET /orders/{id}/status-log.
func (h *Handler) ListOrderStatusLog(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ListByOrder(r.Context(), chi.URLParam(r, "id"), listLimit(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, records)
}

// ListQuoteStatusLog handles GET /quotes/{id}/status-log.
func (h *Handler) ListQuoteStatusLog(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ListByQuote(r.Context(), chi.URLParam(r, "id"), listLimit(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, records)
}

// ListRecentStatusLog handles GET /status-log.
func (h *Handler) ListRecentStatusLog(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ListRecent(r.Context(), listLimit(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, records)
}

func listLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return 0
}
