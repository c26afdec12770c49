package queue

import (
	"context"

	"github.com/kavanga/importdesk/internal/domain"
)

// SendResult is what the transport reports for an accepted message.
type SendResult struct {
	MessageID string
	Raw       []byte // raw gateway response body
}

// Transport delivers a rendered notification to a phone number. The queue
// does not know how payloads become message content; implementations own
// rendering and gateway specifics. Failed sends should be returned as
// *TransportError where the gateway gave a usable error code.
type Transport interface {
	Send(ctx context.Context, phone string, kind domain.NotificationKind, payload domain.NotificationPayload) (*SendResult, error)
}
