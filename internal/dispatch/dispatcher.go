package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/notify/internal/delivery"
	"github.com/carebridge/notify/internal/logger"
	"github.com/carebridge/notify/internal/mailer"
	"github.com/carebridge/notify/internal/metrics"
	"github.com/carebridge/notify/internal/notify"
	"github.com/carebridge/notify/internal/oplog"
	"github.com/carebridge/notify/internal/registry"
	"github.com/carebridge/notify/internal/store"
	"github.com/google/uuid"
)

// ConnectionRegistry is the connectivity surface the dispatcher consumes.
type ConnectionRegistry interface {
	IsConnected(recipientID string) bool
	ConnectionID(recipientID string) string
	Push(recipientID string, event notify.Event) registry.PushResult
}

// Result is the aggregated outcome of one dispatch. Success is false only
// when the notification itself could not be persisted.
type Result struct {
	Notification    *notify.Notification `json:"notification,omitempty"`
	StreamDelivered bool                 `json:"stream_delivered"`
	EmailSent       bool                 `json:"email_sent"`
	DeliveryLogID   string               `json:"delivery_log_id,omitempty"`
	Success         bool                 `json:"success"`
	Errors          []string             `json:"errors,omitempty"`
}

// RecipientResult pairs one batch recipient with their outcome.
type RecipientResult struct {
	RecipientID string  `json:"recipient_id"`
	Result      *Result `json:"result"`
}

// BulkResult aggregates a settle-all batch.
type BulkResult struct {
	SuccessCount         int               `json:"success_count"`
	FailureCount         int               `json:"failure_count"`
	StreamDeliveredCount int               `json:"stream_delivered_count"`
	Results              []RecipientResult `json:"results"`
}

// DeliveryTracker is the subset of delivery.Tracker the dispatcher uses.
type DeliveryTracker interface {
	Create(ctx context.Context, notificationID, recipientID string, wasConnected bool, connectionID string) (*delivery.Log, error)
	MarkDelivered(ctx context.Context, logID string, latencyMs int64) error
	MarkFailed(ctx context.Context, logID, reason string) error
}

// Dispatcher turns a domain event into a durable notification, a best-effort
// stream push with a tracked outcome, and an optional email fan-out.
type Dispatcher struct {
	store     store.NotificationStore
	registry  ConnectionRegistry
	tracker   DeliveryTracker
	email     mailer.Channel // nil disables the email channel entirely
	directory store.FamilyDirectory
	ops       *oplog.Log
	logger    *logger.Logger

	bulkMaxConcurrent int
}

// New wires the dispatcher. email may be nil when the channel is disabled.
func New(
	st store.NotificationStore,
	reg ConnectionRegistry,
	tr DeliveryTracker,
	email mailer.Channel,
	directory store.FamilyDirectory,
	ops *oplog.Log,
	log *logger.Logger,
	bulkMaxConcurrent int,
) *Dispatcher {
	if bulkMaxConcurrent <= 0 {
		bulkMaxConcurrent = 32
	}
	return &Dispatcher{
		store:             st,
		registry:          reg,
		tracker:           tr,
		email:             email,
		directory:         directory,
		ops:               ops,
		logger:            log.WithComponent("dispatcher"),
		bulkMaxConcurrent: bulkMaxConcurrent,
	}
}

// Dispatch runs the full pipeline for one recipient.
//
// The returned error is non-nil only for the fatal case: the notification
// could not be persisted. Every downstream failure (push, unread recompute,
// email) is folded into the result instead.
func (d *Dispatcher) Dispatch(ctx context.Context, recipientID string, t notify.Type, content notify.Content, emailCtx *notify.EmailContext) (*Result, error) {
	result := &Result{}

	// Step 1: persist. This is the single source of truth; nothing else
	// happens if it fails.
	n := &notify.Notification{
		ID:           uuid.NewString(),
		RecipientID:  recipientID,
		Type:         t,
		Title:        content.Title,
		Message:      content.Message,
		Data:         content.Data,
		IsActionable: content.IsActionable,
		ActionURL:    content.ActionURL,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    content.ExpiresAt,
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("persist: %v", err))
		metrics.DispatchTotal.WithLabelValues("error").Inc()
		d.logger.LogError(ctx, err, "failed to persist notification",
			slog.String("recipient_id", recipientID),
			slog.String("type", string(t)))
		return result, fmt.Errorf("failed to persist notification: %w", err)
	}
	result.Notification = n
	result.Success = true

	// Step 2: snapshot connectivity, open the delivery log in PENDING.
	wasConnected := d.registry.IsConnected(recipientID)
	connectionID := d.registry.ConnectionID(recipientID)

	var logID string
	if entry, err := d.tracker.Create(ctx, n.ID, recipientID, wasConnected, connectionID); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("delivery log: %v", err))
		d.logger.LogError(ctx, err, "failed to create delivery log",
			slog.String("notification_id", n.ID))
	} else {
		logID = entry.ID
	}
	result.DeliveryLogID = logID

	// Step 3: best-effort push, then finalize the log exactly once.
	event, err := notify.NotificationEvent(n)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("encode event: %v", err))
		if logID != "" {
			if err := d.tracker.MarkFailed(ctx, logID, fmt.Sprintf("encode event: %v", err)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("mark failed: %v", err))
			}
		}
	} else {
		push := d.registry.Push(recipientID, event)
		if push.Success {
			latency := time.Since(n.CreatedAt).Milliseconds()
			if latency < 0 {
				latency = 0
			}
			result.StreamDelivered = true
			metrics.StreamPushTotal.WithLabelValues("delivered").Inc()
			metrics.DeliveryLatency.Observe(float64(latency) / 1000)
			if logID != "" {
				if err := d.tracker.MarkDelivered(ctx, logID, latency); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("mark delivered: %v", err))
				}
			}
		} else {
			reason := "not connected"
			if push.Err != nil && !errors.Is(push.Err, registry.ErrNotConnected) {
				reason = push.Err.Error()
				metrics.StreamPushTotal.WithLabelValues("write_error").Inc()
			} else {
				metrics.StreamPushTotal.WithLabelValues("not_connected").Inc()
			}
			if logID != "" {
				if err := d.tracker.MarkFailed(ctx, logID, reason); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("mark failed: %v", err))
				}
			}
		}
	}

	// Step 4: recompute and push the unread counter, best-effort.
	d.pushUnreadCount(ctx, recipientID)

	// Step 5: optional email fan-out. Never fails the dispatch.
	if emailCtx != nil {
		sent, err := d.sendEmail(ctx, n, *emailCtx)
		result.EmailSent = sent
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("email: %v", err))
		}
	}

	metrics.DispatchTotal.WithLabelValues("ok").Inc()
	d.ops.Info("dispatcher", "notification.dispatched", map[string]interface{}{
		"notification_id":  n.ID,
		"recipient_id":     recipientID,
		"type":             string(t),
		"stream_delivered": result.StreamDelivered,
		"email_sent":       result.EmailSent,
	})

	return result, nil
}

// DispatchBulk fans Dispatch out across recipients with settle-all semantics:
// every recipient gets a result and the batch call itself never fails.
func (d *Dispatcher) DispatchBulk(ctx context.Context, recipients []string, t notify.Type, content notify.Content) *BulkResult {
	targets := make([]target, len(recipients))
	for i, id := range recipients {
		targets[i] = target{recipientID: id}
	}
	return d.dispatchBatch(ctx, targets, t, content)
}

// ExcludeOptions filters family-wide dispatches.
type ExcludeOptions struct {
	ExcludeIDs []string
}

// DispatchFamily resolves the family's members, personalizes the email
// context per member, and delegates to the settle-all batch path. Excluded
// members and members without a contact address are skipped.
func (d *Dispatcher) DispatchFamily(ctx context.Context, familyID string, t notify.Type, content notify.Content, emailCtx *notify.EmailContext, opts ExcludeOptions) (*BulkResult, error) {
	members, err := d.directory.ListMembers(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve family members: %w", err)
	}

	excluded := make(map[string]bool, len(opts.ExcludeIDs))
	for _, id := range opts.ExcludeIDs {
		excluded[id] = true
	}

	var targets []target
	for _, m := range members {
		if excluded[m.UserID] || m.EmailAddress == "" {
			continue
		}
		tgt := target{recipientID: m.UserID}
		if emailCtx != nil {
			personalized := *emailCtx
			personalized.Address = m.EmailAddress
			personalized.RecipientName = m.Name
			tgt.email = &personalized
		}
		targets = append(targets, tgt)
	}

	d.logger.Info("dispatching to family",
		slog.String("family_id", familyID),
		slog.String("type", string(t)),
		slog.Int("members", len(members)),
		slog.Int("targets", len(targets)))

	return d.dispatchBatch(ctx, targets, t, content), nil
}

// MarkRead marks one notification read and pushes a fresh unread counter.
// Idempotent: re-marking a read notification changes nothing.
func (d *Dispatcher) MarkRead(ctx context.Context, notificationID, recipientID string) error {
	if err := d.store.MarkRead(ctx, notificationID, recipientID); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	d.pushUnreadCount(ctx, recipientID)
	return nil
}

// MarkAllRead marks every unread notification read and pushes the counter.
func (d *Dispatcher) MarkAllRead(ctx context.Context, recipientID string) error {
	if err := d.store.MarkAllRead(ctx, recipientID); err != nil {
		return fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	d.pushUnreadCount(ctx, recipientID)
	return nil
}

type target struct {
	recipientID string
	email       *notify.EmailContext
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, targets []target, t notify.Type, content notify.Content) *BulkResult {
	bulk := &BulkResult{
		Results: make([]RecipientResult, len(targets)),
	}

	sem := make(chan struct{}, d.bulkMaxConcurrent)
	var wg sync.WaitGroup

	for i, tgt := range targets {
		wg.Add(1)
		go func(i int, tgt target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Settle-all: a panicking recipient becomes a failed result,
			// never a failed batch.
			defer func() {
				if r := recover(); r != nil {
					bulk.Results[i] = RecipientResult{
						RecipientID: tgt.recipientID,
						Result: &Result{
							Success: false,
							Errors:  []string{fmt.Sprintf("panic: %v", r)},
						},
					}
				}
			}()

			result, err := d.Dispatch(ctx, tgt.recipientID, t, content, tgt.email)
			if err != nil && result == nil {
				result = &Result{Success: false, Errors: []string{err.Error()}}
			}
			bulk.Results[i] = RecipientResult{RecipientID: tgt.recipientID, Result: result}
		}(i, tgt)
	}
	wg.Wait()

	for _, r := range bulk.Results {
		if r.Result != nil && r.Result.Success {
			bulk.SuccessCount++
			if r.Result.StreamDelivered {
				bulk.StreamDeliveredCount++
			}
		} else {
			bulk.FailureCount++
		}
	}

	return bulk
}

// pushUnreadCount recomputes the unread counter and pushes it on the stream.
// Both steps are best-effort overlays on the durable record.
func (d *Dispatcher) pushUnreadCount(ctx context.Context, recipientID string) {
	count, err := d.store.UnreadCount(ctx, recipientID)
	if err != nil {
		d.logger.Warn("failed to recompute unread count",
			slog.String("recipient_id", recipientID),
			slog.String("error", err.Error()))
		return
	}

	event, err := notify.UnreadCountEvent(count)
	if err != nil {
		return
	}
	if push := d.registry.Push(recipientID, event); push.Success {
		d.ops.Info("dispatcher", "unread_count.changed", map[string]interface{}{
			"recipient_id": recipientID,
			"count":        count,
		})
	}
}
