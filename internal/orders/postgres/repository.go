// Package postgres provides the PostgreSQL implementation of the order
// status log repository.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kavanga/importdesk/internal/domain"
)

// Repository implements orders.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL status log repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const recordColumns = `
	id, order_id, quote_id, order_number, previous_status, new_status,
	changed_by, changed_by_email, changed_by_role, notification_sent,
	notification_job_id, note, metadata, ip_address, user_agent, created_at
`

// Insert appends one status change record. The log is append-only; there
// is no update or delete path.
func (r *Repository) Insert(ctx context.Context, record *domain.StatusChangeRecord) error {
	metadata, err := marshalMetadata(record.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO order_status_log (
			order_id, quote_id, order_number, previous_status, new_status,
			changed_by, changed_by_email, changed_by_role, notification_sent,
			notification_job_id, note, metadata, ip_address, user_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at
	`
	err = r.db.QueryRow(ctx, query,
		record.OrderID,
		record.QuoteID,
		record.OrderNumber,
		record.PreviousStatus,
		record.NewStatus,
		record.ChangedBy,
		record.ChangedByEmail,
		record.ChangedByRole,
		record.NotificationSent,
		record.NotificationJobID,
		record.Note,
		metadata,
		record.IPAddress,
		record.UserAgent,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert status log record: %w", err)
	}
	return nil
}

// ListByOrder returns an order's transitions, newest first.
func (r *Repository) ListByOrder(ctx context.Context, orderID string, limit int) ([]domain.StatusChangeRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM order_status_log
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.list(ctx, query, orderID, clampLimit(limit))
}

// ListByQuote returns a quote's transitions, newest first.
func (r *Repository) ListByQuote(ctx context.Context, quoteID string, limit int) ([]domain.StatusChangeRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM order_status_log
		WHERE quote_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.list(ctx, query, quoteID, clampLimit(limit))
}

// ListRecent returns the latest transitions across all orders.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]domain.StatusChangeRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM order_status_log
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.list(ctx, query, clampLimit(limit))
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]domain.StatusChangeRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list status log records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StatusChangeRecord, 0)
	for rows.Next() {
		var rec domain.StatusChangeRecord
		var metadata []byte
		err := rows.Scan(
			&rec.ID,
			&rec.OrderID,
			&rec.QuoteID,
			&rec.OrderNumber,
			&rec.PreviousStatus,
			&rec.NewStatus,
			&rec.ChangedBy,
			&rec.ChangedByEmail,
			&rec.ChangedByRole,
			&rec.NotificationSent,
			&rec.NotificationJobID,
			&rec.Note,
			&metadata,
			&rec.IPAddress,
			&rec.UserAgent,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan status log record: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return raw, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
