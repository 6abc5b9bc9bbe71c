// Package store declares the persistence collaborators the pipeline consumes.
// The Postgres implementation lives in internal/storage/pg; tests use fakes.
package store

import (
	"context"
	"time"

	"github.com/carebridge/notify/internal/notify"
)

// NotificationStore persists notifications and preferences.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *notify.Notification) error
	GetNotification(ctx context.Context, id string) (*notify.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]*notify.Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, notificationID, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) error
	GetPreferences(ctx context.Context, recipientID string) (notify.Preferences, error)
}

// FamilyDirectory resolves the member list for a family.
type FamilyDirectory interface {
	ListMembers(ctx context.Context, familyID string) ([]notify.FamilyMember, error)
}

// Maintenance covers retention housekeeping run from cron.
type Maintenance interface {
	PurgeDeliveryLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
