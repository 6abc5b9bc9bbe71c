package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carebridge/notify/internal/logger"
	"github.com/google/uuid"
)

// Status is the delivery-log state machine: PENDING transitions exactly once
// to DELIVERED or FAILED.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
)

// Log records one attempt to deliver a notification over the stream.
type Log struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	WasConnected   bool      `json:"was_connected"`
	ConnectionID   string    `json:"connection_id,omitempty"`
	Status         Status    `json:"status"`
	LatencyMs      *int64    `json:"latency_ms,omitempty"`
	ErrorReason    string    `json:"error_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store is the durable backing for delivery logs.
//
// Finalize must apply the terminal transition only while the log is still
// PENDING and report whether it did, so duplicate completion signals are
// tolerated without error.
type Store interface {
	InsertDeliveryLog(ctx context.Context, log *Log) error
	FinalizeDeliveryLog(ctx context.Context, id string, status Status, latencyMs *int64, errorReason string) (bool, error)
	GetDeliveryLog(ctx context.Context, id string) (*Log, error)
	ListDeliveryLogsByNotification(ctx context.Context, notificationID string) ([]*Log, error)
	ListDeliveryLogsByRecipient(ctx context.Context, recipientID string, limit int) ([]*Log, error)
	ListDeliveryLogsByStatus(ctx context.Context, status Status, limit int) ([]*Log, error)
}

// Tracker writes and finalizes delivery logs.
type Tracker struct {
	store  Store
	logger *logger.Logger
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store, log *logger.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: log.WithComponent("delivery_tracker"),
	}
}

// Create inserts a PENDING log capturing the connectivity snapshot taken just
// before the push attempt.
func (t *Tracker) Create(ctx context.Context, notificationID, recipientID string, wasConnected bool, connectionID string) (*Log, error) {
	now := time.Now().UTC()
	entry := &Log{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		RecipientID:    recipientID,
		WasConnected:   wasConnected,
		ConnectionID:   connectionID,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := t.store.InsertDeliveryLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to insert delivery log: %w", err)
	}
	return entry, nil
}

// MarkDelivered finalizes the log as DELIVERED with the measured latency.
// A log already in a terminal state is left untouched.
func (t *Tracker) MarkDelivered(ctx context.Context, logID string, latencyMs int64) error {
	applied, err := t.store.FinalizeDeliveryLog(ctx, logID, StatusDelivered, &latencyMs, "")
	if err != nil {
		return fmt.Errorf("failed to mark delivery log delivered: %w", err)
	}
	if !applied {
		t.logger.Debug("duplicate completion ignored",
			slog.String("log_id", logID),
			slog.String("attempted_status", string(StatusDelivered)))
	}
	return nil
}

// MarkFailed finalizes the log as FAILED with the push error.
// A log already in a terminal state is left untouched.
func (t *Tracker) MarkFailed(ctx context.Context, logID, reason string) error {
	applied, err := t.store.FinalizeDeliveryLog(ctx, logID, StatusFailed, nil, reason)
	if err != nil {
		return fmt.Errorf("failed to mark delivery log failed: %w", err)
	}
	if !applied {
		t.logger.Debug("duplicate completion ignored",
			slog.String("log_id", logID),
			slog.String("attempted_status", string(StatusFailed)))
	}
	return nil
}

// Get returns one delivery log by ID.
func (t *Tracker) Get(ctx context.Context, logID string) (*Log, error) {
	return t.store.GetDeliveryLog(ctx, logID)
}

// ByNotification lists attempts for one notification.
func (t *Tracker) ByNotification(ctx context.Context, notificationID string) ([]*Log, error) {
	return t.store.ListDeliveryLogsByNotification(ctx, notificationID)
}

// ByRecipient lists recent attempts for one recipient.
func (t *Tracker) ByRecipient(ctx context.Context, recipientID string, limit int) ([]*Log, error) {
	return t.store.ListDeliveryLogsByRecipient(ctx, recipientID, limit)
}

// ByStatus lists attempts in the given state, newest first.
func (t *Tracker) ByStatus(ctx context.Context, status Status, limit int) ([]*Log, error) {
	return t.store.ListDeliveryLogsByStatus(ctx, status, limit)
}
