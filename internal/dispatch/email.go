package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carebridge/notify/internal/mailer"
	"github.com/carebridge/notify/internal/metrics"
	"github.com/carebridge/notify/internal/notify"
)

// sendEmail evaluates preferences and quiet hours, then hands the rendered
// payload to the email channel. Returns whether an email was actually sent.
func (d *Dispatcher) sendEmail(ctx context.Context, n *notify.Notification, emailCtx notify.EmailContext) (bool, error) {
	if d.email == nil {
		d.logger.Debug("email channel disabled, skipping",
			slog.String("notification_id", n.ID))
		return false, nil
	}
	if emailCtx.Address == "" {
		return false, fmt.Errorf("email context has no address")
	}

	prefs, err := d.store.GetPreferences(ctx, n.RecipientID)
	if err != nil {
		metrics.EmailTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to load preferences: %w", err)
	}

	if !prefs.EmailEnabled(n.Type) {
		metrics.EmailTotal.WithLabelValues("skipped_preference").Inc()
		d.logger.Debug("email disabled by preference, skipping",
			slog.String("recipient_id", n.RecipientID),
			slog.String("type", string(n.Type)))
		return false, nil
	}

	// Emergency alerts always bypass quiet hours.
	if n.Type != notify.TypeEmergencyAlert && prefs.InQuietHours(time.Now()) {
		metrics.EmailTotal.WithLabelValues("skipped_quiet_hours").Inc()
		d.logger.Debug("inside quiet hours, skipping email",
			slog.String("recipient_id", n.RecipientID),
			slog.String("type", string(n.Type)))
		return false, nil
	}

	msg := buildEmailMessage(n, emailCtx)
	if err := d.email.Send(ctx, msg); err != nil {
		metrics.EmailTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to send email: %w", err)
	}

	metrics.EmailTotal.WithLabelValues("sent").Inc()
	return true, nil
}

// buildEmailMessage renders the type-specific email payload. Each known type
// has its own template and required fields; anything unrecognized falls back
// to the generic announcement shape.
func buildEmailMessage(n *notify.Notification, emailCtx notify.EmailContext) mailer.Message {
	msg := mailer.Message{
		To:            emailCtx.Address,
		RecipientName: emailCtx.RecipientName,
		Subject:       n.Title,
		Data: map[string]interface{}{
			"recipient_name":  emailCtx.RecipientName,
			"notification_id": n.ID,
			"title":           n.Title,
			"message":         n.Message,
		},
	}

	switch n.Type {
	case notify.TypeMessage:
		msg.Template = "new-message"
		msg.Subject = fmt.Sprintf("New message from %s", orUnknown(emailCtx.SenderName))
		msg.Data["sender_name"] = emailCtx.SenderName
		msg.Data["preview"] = n.Message

	case notify.TypeCareUpdate:
		msg.Template = "care-update"
		msg.Subject = fmt.Sprintf("Care update: %s", n.Title)
		msg.Data["action_url"] = n.ActionURL

	case notify.TypeEmergencyAlert:
		msg.Template = "emergency-alert"
		msg.Subject = fmt.Sprintf("EMERGENCY: %s", n.Title)
		msg.Data["priority"] = "high"
		msg.Data["family_name"] = emailCtx.FamilyName

	case notify.TypeFamilyActivity:
		msg.Template = "family-activity"
		msg.Subject = fmt.Sprintf("Activity in %s", orUnknown(emailCtx.FamilyName))
		msg.Data["family_name"] = emailCtx.FamilyName
		msg.Data["actor_name"] = emailCtx.SenderName

	default:
		// SYSTEM_ANNOUNCEMENT and anything unrecognized.
		msg.Template = "announcement"
	}

	return msg
}

func orUnknown(s string) string {
	if s == "" {
		return "your family"
	}
	return s
}
