package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/carebridge/notify/internal/delivery"
)

// DeliveryLogStore is the Postgres-backed delivery.Store.
type DeliveryLogStore struct {
	db *sql.DB
}

// NewDeliveryLogStore wraps the shared pool.
func NewDeliveryLogStore(db *Database) *DeliveryLogStore {
	return &DeliveryLogStore{db: db.DB}
}

// InsertDeliveryLog writes a new PENDING log row.
func (s *DeliveryLogStore) InsertDeliveryLog(ctx context.Context, log *delivery.Log) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_logs
			(id, notification_id, recipient_id, was_connected, connection_id,
			 status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)`,
		log.ID, log.NotificationID, log.RecipientID, log.WasConnected,
		log.ConnectionID, string(log.Status), log.CreatedAt, log.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert delivery log: %w", err)
	}
	return nil
}

// FinalizeDeliveryLog applies the terminal transition guarded on the row
// still being PENDING. Returns false when a terminal state was already set.
func (s *DeliveryLogStore) FinalizeDeliveryLog(ctx context.Context, id string, status delivery.Status, latencyMs *int64, errorReason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_logs
		SET status = $2, latency_ms = $3, error_reason = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`,
		id, string(status), latencyMs, errorReason)
	if err != nil {
		return false, fmt.Errorf("failed to finalize delivery log: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetDeliveryLog returns one log by ID, or nil if absent.
func (s *DeliveryLogStore) GetDeliveryLog(ctx context.Context, id string) (*delivery.Log, error) {
	row := s.db.QueryRowContext(ctx, deliveryLogSelect+` WHERE id = $1`, id)
	log, err := scanDeliveryLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return log, err
}

// ListDeliveryLogsByNotification lists attempts for one notification.
func (s *DeliveryLogStore) ListDeliveryLogsByNotification(ctx context.Context, notificationID string) ([]*delivery.Log, error) {
	return s.list(ctx, deliveryLogSelect+` WHERE notification_id = $1 ORDER BY created_at DESC`, notificationID)
}

// ListDeliveryLogsByRecipient lists recent attempts for one recipient.
func (s *DeliveryLogStore) ListDeliveryLogsByRecipient(ctx context.Context, recipientID string, limit int) ([]*delivery.Log, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, deliveryLogSelect+` WHERE recipient_id = $1 ORDER BY created_at DESC LIMIT $2`, recipientID, limit)
}

// ListDeliveryLogsByStatus lists attempts in the given state, newest first.
func (s *DeliveryLogStore) ListDeliveryLogsByStatus(ctx context.Context, status delivery.Status, limit int) ([]*delivery.Log, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, deliveryLogSelect+` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, string(status), limit)
}

const deliveryLogSelect = `
	SELECT id, notification_id, recipient_id, was_connected,
	       COALESCE(connection_id, ''), status, latency_ms,
	       COALESCE(error_reason, ''), created_at, updated_at
	FROM delivery_logs`

func (s *DeliveryLogStore) list(ctx context.Context, query string, args ...interface{}) ([]*delivery.Log, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	defer rows.Close()

	var out []*delivery.Log
	for rows.Next() {
		log, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

func scanDeliveryLog(row rowScanner) (*delivery.Log, error) {
	var (
		log       delivery.Log
		status    string
		latencyMs sql.NullInt64
	)
	err := row.Scan(&log.ID, &log.NotificationID, &log.RecipientID, &log.WasConnected,
		&log.ConnectionID, &status, &latencyMs, &log.ErrorReason,
		&log.CreatedAt, &log.UpdatedAt)
	if err != nil {
		return nil, err
	}
	log.Status = delivery.Status(status)
	if latencyMs.Valid {
		v := latencyMs.Int64
		log.LatencyMs = &v
	}
	return &log, nil
}
