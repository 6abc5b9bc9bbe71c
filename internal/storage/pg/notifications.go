package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carebridge/notify/internal/notify"
)

// NotificationStore is the Postgres-backed notification and preference store.
type NotificationStore struct {
	db *sql.DB
}

// NewNotificationStore wraps the shared pool.
func NewNotificationStore(db *Database) *NotificationStore {
	return &NotificationStore{db: db.DB}
}

// CreateNotification inserts the durable record. The row is immutable after
// insert except for read_at.
func (s *NotificationStore) CreateNotification(ctx context.Context, n *notify.Notification) error {
	var data interface{}
	if len(n.Data) > 0 {
		data = []byte(n.Data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications
			(id, recipient_id, type, title, message, data, is_actionable, action_url, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)`,
		n.ID, n.RecipientID, string(n.Type), n.Title, n.Message, data,
		n.IsActionable, n.ActionURL, n.CreatedAt, n.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// GetNotification returns one notification by ID, or nil if absent.
func (s *NotificationStore) GetNotification(ctx context.Context, id string) (*notify.Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipient_id, type, title, message, data, is_actionable,
		       COALESCE(action_url, ''), created_at, expires_at, read_at
		FROM notifications WHERE id = $1`, id)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

// ListNotifications returns the recipient's notifications, newest first.
func (s *NotificationStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]*notify.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, type, title, message, data, is_actionable,
		       COALESCE(action_url, ''), created_at, expires_at, read_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UnreadCount counts unread, unexpired notifications for the recipient.
func (s *NotificationStore) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1
		  AND read_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead sets read_at once; already-read rows are left as they are.
func (s *NotificationStore) MarkRead(ctx context.Context, notificationID, recipientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = NOW()
		WHERE id = $1 AND recipient_id = $2 AND read_at IS NULL`,
		notificationID, recipientID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead sets read_at on every unread row for the recipient.
func (s *NotificationStore) MarkAllRead(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = NOW()
		WHERE recipient_id = $1 AND read_at IS NULL`, recipientID)
	if err != nil {
		return fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	return nil
}

// GetPreferences returns the recipient's saved preferences, or the defaults
// when none have been saved.
func (s *NotificationStore) GetPreferences(ctx context.Context, recipientID string) (notify.Preferences, error) {
	var (
		channelsJSON []byte
		quietStart   sql.NullString
		quietEnd     sql.NullString
		timezone     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT channels, quiet_start, quiet_end, timezone
		FROM notification_preferences WHERE recipient_id = $1`, recipientID).
		Scan(&channelsJSON, &quietStart, &quietEnd, &timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.DefaultPreferences(recipientID), nil
	}
	if err != nil {
		return notify.Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}

	prefs := notify.Preferences{
		RecipientID: recipientID,
		Channels:    map[notify.Type]notify.ChannelPrefs{},
		QuietStart:  quietStart.String,
		QuietEnd:    quietEnd.String,
		Timezone:    timezone.String,
	}
	if len(channelsJSON) > 0 {
		if err := json.Unmarshal(channelsJSON, &prefs.Channels); err != nil {
			return notify.Preferences{}, fmt.Errorf("failed to decode channel preferences: %w", err)
		}
	}
	return prefs, nil
}

// PurgeDeliveryLogsBefore deletes terminal delivery logs older than cutoff.
// Retention housekeeping, driven by cron.
func (s *NotificationStore) PurgeDeliveryLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM delivery_logs
		WHERE status <> 'PENDING' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge delivery logs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*notify.Notification, error) {
	var (
		n         notify.Notification
		typ       string
		data      []byte
		expiresAt sql.NullTime
		readAt    sql.NullTime
	)
	err := row.Scan(&n.ID, &n.RecipientID, &typ, &n.Title, &n.Message, &data,
		&n.IsActionable, &n.ActionURL, &n.CreatedAt, &expiresAt, &readAt)
	if err != nil {
		return nil, err
	}
	n.Type = notify.Type(typ)
	if len(data) > 0 {
		n.Data = json.RawMessage(data)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		n.ExpiresAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	return &n, nil
}
