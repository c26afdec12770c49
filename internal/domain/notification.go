package domain

import "time"

// NotificationKind represents the kind of outbound notification.
type NotificationKind string

// Notification kinds.
const (
	KindStatusChange         NotificationKind = "status_change"
	KindDocumentUpload       NotificationKind = "document_upload"
	KindOrderConfirmation    NotificationKind = "order_confirmation"
	KindPaymentReminder      NotificationKind = "payment_reminder"
	KindShippingUpdate       NotificationKind = "shipping_update"
	KindDeliveryNotification NotificationKind = "delivery_notification"
	KindCustom               NotificationKind = "custom"
)

// IsValid reports whether the kind is a known notification kind.
func (k NotificationKind) IsValid() bool {
	switch k {
	case KindStatusChange, KindDocumentUpload, KindOrderConfirmation,
		KindPaymentReminder, KindShippingUpdate, KindDeliveryNotification, KindCustom:
		return true
	}
	return false
}

// JobStatus represents the delivery state of a queued notification.
type JobStatus string

// Job statuses.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusDelivered  JobStatus = "delivered"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions may leave the status.
// Sent is terminal for the queue itself; only a delivery receipt from the
// transport moves it to delivered.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSent, JobStatusDelivered, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// VehicleSummary is the minimal vehicle description carried in payloads.
type VehicleSummary struct {
	Make     string `json:"make"`
	Model    string `json:"model"`
	Year     int    `json:"year"`
	ImageURL string `json:"image_url,omitempty"`
}

// DocumentRef references a document shared with the customer.
type DocumentRef struct {
	Name            string `json:"name"`
	URL             string `json:"url"`
	Type            string `json:"type"` // image, pdf, link
	VisibleToClient *bool  `json:"visible_to_client,omitempty"`
}

// NotificationPayload carries the data needed to render a message.
// The queue treats it as opaque; only the renderer and the business
// layer interpret its fields.
type NotificationPayload struct {
	Status         string          `json:"status,omitempty"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	Vehicle        *VehicleSummary `json:"vehicle,omitempty"`
	OrderNumber    string          `json:"order_number,omitempty"`
	QuoteNumber    string          `json:"quote_number,omitempty"`
	CustomerName   string          `json:"customer_name,omitempty"`
	Documents      []DocumentRef   `json:"documents,omitempty"`
	CustomMessage  string          `json:"custom_message,omitempty"`
	DashboardURL   string          `json:"dashboard_url,omitempty"`
	ShippingETA    string          `json:"shipping_eta,omitempty"`
	Note           string          `json:"note,omitempty"`
}

// NotificationJob is one row in the notification queue. Jobs are created
// only via the enqueue service and mutated only by claiming and outcome
// recording; terminal rows are retained for audit.
type NotificationJob struct {
	ID              string              `json:"id"`
	RecipientPhone  string              `json:"recipient_phone"`
	RecipientName   *string             `json:"recipient_name"`
	RecipientUserID *string             `json:"recipient_user_id"`
	Kind            NotificationKind    `json:"kind"`
	OrderID         *string             `json:"order_id"`
	QuoteID         *string             `json:"quote_id"`
	Payload         NotificationPayload `json:"payload"`
	Status          JobStatus           `json:"status"`
	Attempts        int                 `json:"attempts"`
	MaxAttempts     int                 `json:"max_attempts"`
	NextRetryAt     *time.Time          `json:"next_retry_at"`
	LastError       *string             `json:"last_error"`
	LastErrorCode   *string             `json:"last_error_code"`
	MessageID       *string             `json:"message_id"`        // transport-assigned id
	DeliveryStatus  *string             `json:"delivery_status"`   // transport-reported status
	IdempotencyKey  string              `json:"idempotency_key"`
	Priority        int                 `json:"priority"` // lower = more urgent
	ScheduledAt     time.Time           `json:"scheduled_at"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	ProcessedAt     *time.Time          `json:"processed_at"`
	TriggeredBy     *string             `json:"triggered_by"`
	TriggeredByRole *Role               `json:"triggered_by_role"`
}

// NotificationEventType identifies a state transition in the audit trail.
type NotificationEventType string

// Audit event types.
const (
	EventCreated           NotificationEventType = "created"
	EventProcessingStarted NotificationEventType = "processing_started"
	EventMessageSent       NotificationEventType = "message_sent"
	EventDeliveryConfirmed NotificationEventType = "delivery_confirmed"
	EventRetryScheduled    NotificationEventType = "retry_scheduled"
	EventFailed            NotificationEventType = "failed"
	EventCancelled         NotificationEventType = "cancelled"
)

// NotificationEvent is one append-only audit record for a job transition.
// Rows are never updated or deleted.
type NotificationEvent struct {
	ID            string                `json:"id"`
	JobID         string                `json:"job_id"`
	Type          NotificationEventType `json:"type"`
	StatusBefore  *JobStatus            `json:"status_before"`
	StatusAfter   *JobStatus            `json:"status_after"`
	AttemptNumber *int                  `json:"attempt_number"`
	APIResponse   []byte                `json:"api_response,omitempty"` // raw transport response, JSON
	ErrorMessage  *string               `json:"error_message"`
	ErrorCode     *string               `json:"error_code"`
	DurationMs    *int64                `json:"duration_ms"`
	CreatedAt     time.Time             `json:"created_at"`
}

// QueueStats summarizes the queue for operational dashboards.
type QueueStats struct {
	Pending       int64      `json:"pending"`
	Processing    int64      `json:"processing"`
	Sent          int64      `json:"sent"`
	Delivered     int64      `json:"delivered"`
	Failed        int64      `json:"failed"`
	Cancelled     int64      `json:"cancelled"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}
