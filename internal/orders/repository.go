// Package orders is the business action layer: it records order status
// transitions in the append-only status log and enqueues the notification
// announcing each one.
package orders

import (
	"context"

	"github.com/kavanga/importdesk/internal/domain"
)

// Repository persists the business event log. Rows are append-only; the
// ledger records what happened to the order regardless of whether the
// announcement was ever delivered.
type Repository interface {
	Insert(ctx context.Context, record *domain.StatusChangeRecord) error
	ListByOrder(ctx context.Context, orderID string, limit int) ([]domain.StatusChangeRecord, error)
	ListByQuote(ctx context.Context, quoteID string, limit int) ([]domain.StatusChangeRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.StatusChangeRecord, error)
}
