package queue

import (
	"fmt"
	"time"

	"github.com/kavanga/importdesk/internal/domain"
)

// Fallback components used when the enqueue call carries no entity or status.
const (
	noEntityKey = "no-order"
	noStatusKey = "no-status"
)

// idempotencyBucket is the time window within which two enqueue calls for
// the same (entity, kind, status) collapse into a single job.
const idempotencyBucket = time.Minute

// DeriveIdempotencyKey builds the deduplication key for an enqueue call:
// entity reference, kind, status and the timestamp floored to one minute.
// The same business event fired twice inside a bucket yields the same key;
// the same status reached again hours later yields a new one.
func DeriveIdempotencyKey(orderID, quoteID *string, kind domain.NotificationKind, status string, at time.Time) string {
	entity := noEntityKey
	switch {
	case orderID != nil && *orderID != "":
		entity = *orderID
	case quoteID != nil && *quoteID != "":
		entity = *quoteID
	}

	if status == "" {
		status = noStatusKey
	}

	bucket := at.UnixMilli() / idempotencyBucket.Milliseconds()
	return fmt.Sprintf("%s-%s-%s-%d", entity, kind, status, bucket)
}
