package orders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kavanga/importdesk/internal/domain"
	"github.com/kavanga/importdesk/internal/queue"
)

// Enqueuer is the slice of the queue service the notifier needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, input queue.EnqueueInput) (string, error)
}

// StatusNotifier turns business transitions into status log rows and
// queued notifications. The ledger write is authoritative; the enqueue is
// best-effort and never fails the business transaction that triggered it.
type StatusNotifier struct {
	repo             Repository
	enqueuer         Enqueuer
	dashboardBaseURL string
}

// NewStatusNotifier creates a new StatusNotifier.
func NewStatusNotifier(repo Repository, enqueuer Enqueuer, dashboardBaseURL string) *StatusNotifier {
	return &StatusNotifier{
		repo:             repo,
		enqueuer:         enqueuer,
		dashboardBaseURL: dashboardBaseURL,
	}
}

// StatusChangeInput describes one order or quote status transition.
type StatusChangeInput struct {
	OrderID         *string
	QuoteID         *string
	OrderNumber     *string
	PreviousStatus  *string
	NewStatus       domain.OrderStatus
	RecipientPhone  string
	RecipientName   *string
	RecipientUserID *string
	Vehicle         *domain.VehicleSummary
	Documents       []domain.DocumentRef
	ShippingETA     string
	Note            *string
	Metadata        map[string]any
	ChangedBy       *string
	ChangedByEmail  *string
	ChangedByRole   *domain.Role
	IPAddress       *string
	UserAgent       *string
}

// DocumentUploadInput describes newly uploaded documents on an order.
type DocumentUploadInput struct {
	OrderID         *string
	QuoteID         *string
	OrderNumber     *string
	RecipientPhone  string
	RecipientName   *string
	RecipientUserID *string
	Vehicle         *domain.VehicleSummary
	Documents       []domain.DocumentRef
	UploadedBy      *string
	UploadedByRole  *domain.Role
}

// CustomMessageInput describes a free-form message to a customer.
type CustomMessageInput struct {
	OrderID         *string
	QuoteID         *string
	RecipientPhone  string
	RecipientName   *string
	RecipientUserID *string
	Message         string
	SentBy          *string
	SentByRole      *domain.Role
}

// NotifyStatusChange records the transition in the status log and enqueues
// the notification announcing it. The returned record carries the job id
// when enqueue succeeded; on enqueue failure the record is still written
// with notification_sent=false and a nil error is returned.
func (n *StatusNotifier) NotifyStatusChange(ctx context.Context, input StatusChangeInput) (*domain.StatusChangeRecord, error) {
	payload := domain.NotificationPayload{
		Status:       string(input.NewStatus),
		Vehicle:      input.Vehicle,
		Documents:    input.Documents,
		CustomerName: derefOr(input.RecipientName, ""),
		ShippingETA:  input.ShippingETA,
		DashboardURL: n.dashboardURL(input.OrderID),
	}
	if input.PreviousStatus != nil {
		payload.PreviousStatus = *input.PreviousStatus
	}
	if input.OrderNumber != nil {
		payload.OrderNumber = *input.OrderNumber
	}
	if input.Note != nil {
		payload.Note = *input.Note
	}

	var jobID *string
	sent := false
	if input.RecipientPhone != "" {
		id, err := n.enqueuer.Enqueue(ctx, queue.EnqueueInput{
			RecipientPhone:  input.RecipientPhone,
			RecipientName:   input.RecipientName,
			RecipientUserID: input.RecipientUserID,
			Kind:            domain.KindStatusChange,
			OrderID:         input.OrderID,
			QuoteID:         input.QuoteID,
			Payload:         payload,
			Priority:        PriorityForStatus(input.NewStatus),
			TriggeredBy:     input.ChangedBy,
			TriggeredByRole: input.ChangedByRole,
		})
		if err != nil {
			// The status change already happened; losing the announcement
			// must not roll it back.
			slog.Error("failed to enqueue status notification",
				"order_id", derefOr(input.OrderID, ""),
				"status", input.NewStatus,
				"error", err,
			)
		} else {
			jobID = &id
			sent = true
		}
	}

	record := &domain.StatusChangeRecord{
		OrderID:           input.OrderID,
		QuoteID:           input.QuoteID,
		OrderNumber:       input.OrderNumber,
		PreviousStatus:    input.PreviousStatus,
		NewStatus:         string(input.NewStatus),
		ChangedBy:         input.ChangedBy,
		ChangedByEmail:    input.ChangedByEmail,
		ChangedByRole:     input.ChangedByRole,
		NotificationSent:  sent,
		NotificationJobID: jobID,
		Note:              input.Note,
		Metadata:          input.Metadata,
		IPAddress:         input.IPAddress,
		UserAgent:         input.UserAgent,
	}

	if err := n.repo.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("insert status log record: %w", err)
	}

	slog.Info("order status change recorded",
		"order_id", derefOr(input.OrderID, ""),
		"quote_id", derefOr(input.QuoteID, ""),
		"new_status", input.NewStatus,
		"notification_sent", sent,
	)
	return record, nil
}

// NotifyDocumentUpload enqueues a document notification for the documents
// visible to the client. Returns the job id, or empty when nothing
// client-visible was uploaded.
func (n *StatusNotifier) NotifyDocumentUpload(ctx context.Context, input DocumentUploadInput) (string, error) {
	visible := make([]domain.DocumentRef, 0, len(input.Documents))
	for _, d := range input.Documents {
		if d.VisibleToClient != nil && !*d.VisibleToClient {
			continue
		}
		visible = append(visible, d)
	}
	if len(visible) == 0 {
		slog.Debug("no client-visible documents, skipping notification",
			"order_id", derefOr(input.OrderID, ""),
		)
		return "", nil
	}

	payload := domain.NotificationPayload{
		Vehicle:      input.Vehicle,
		Documents:    visible,
		CustomerName: derefOr(input.RecipientName, ""),
		DashboardURL: n.dashboardURL(input.OrderID),
	}
	if input.OrderNumber != nil {
		payload.OrderNumber = *input.OrderNumber
	}

	return n.enqueuer.Enqueue(ctx, queue.EnqueueInput{
		RecipientPhone:  input.RecipientPhone,
		RecipientName:   input.RecipientName,
		RecipientUserID: input.RecipientUserID,
		Kind:            domain.KindDocumentUpload,
		OrderID:         input.OrderID,
		QuoteID:         input.QuoteID,
		Payload:         payload,
		TriggeredBy:     input.UploadedBy,
		TriggeredByRole: input.UploadedByRole,
	})
}

// NotifyCustom enqueues a free-form message.
func (n *StatusNotifier) NotifyCustom(ctx context.Context, input CustomMessageInput) (string, error) {
	if input.Message == "" {
		return "", fmt.Errorf("custom message is empty")
	}

	return n.enqueuer.Enqueue(ctx, queue.EnqueueInput{
		RecipientPhone:  input.RecipientPhone,
		RecipientName:   input.RecipientName,
		RecipientUserID: input.RecipientUserID,
		Kind:            domain.KindCustom,
		OrderID:         input.OrderID,
		QuoteID:         input.QuoteID,
		Payload: domain.NotificationPayload{
			CustomMessage: input.Message,
			CustomerName:  derefOr(input.RecipientName, ""),
		},
		TriggeredBy:     input.SentBy,
		TriggeredByRole: input.SentByRole,
	})
}

// PriorityForStatus maps pipeline milestones to queue priority: payment and
// handover moments jump the line, mid-pipeline logistics can wait.
func PriorityForStatus(status domain.OrderStatus) int {
	switch status {
	case domain.OrderStatusDepositPaid, domain.OrderStatusDelivered, domain.OrderStatusReadyPickup:
		return 2
	case domain.OrderStatusVehiclePurchased, domain.OrderStatusDocumentsReady, domain.OrderStatusCustoms:
		return 4
	default:
		return queue.DefaultPriority
	}
}

func (n *StatusNotifier) dashboardURL(orderID *string) string {
	if n.dashboardBaseURL == "" || orderID == nil {
		return ""
	}
	return fmt.Sprintf("%s/orders/%s", n.dashboardBaseURL, *orderID)
}

func derefOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}
