package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/carebridge/notify/internal/logger"
	"github.com/nats-io/nats.go"
)

// Message is one rendered email handed to the external email worker.
type Message struct {
	To            string                 `json:"to"`
	RecipientName string                 `json:"recipient_name,omitempty"`
	From          string                 `json:"from"`
	Subject       string                 `json:"subject"`
	Template      string                 `json:"template"`
	Data          map[string]interface{} `json:"data"`
	QueuedAt      time.Time              `json:"queued_at"`
}

// Channel is the email transport collaborator. The pipeline renders payloads
// and hands them off; actual SMTP delivery happens elsewhere.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// NATSChannel publishes outbound email jobs to a NATS subject consumed by
// the email worker.
type NATSChannel struct {
	conn    *nats.Conn
	subject string
	from    string
	logger  *logger.Logger
}

// NewNATSChannel connects to NATS and returns the channel.
func NewNATSChannel(url, subject, from string, log *logger.Logger) (*NATSChannel, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSChannel{
		conn:    conn,
		subject: subject,
		from:    from,
		logger:  log.WithComponent("mailer"),
	}, nil
}

// Send enqueues one email job.
func (c *NATSChannel) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = c.from
	}
	msg.QueuedAt = time.Now().UTC()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal email message: %w", err)
	}

	if err := c.conn.Publish(c.subject, payload); err != nil {
		return fmt.Errorf("failed to publish email message: %w", err)
	}

	c.logger.Debug("email queued",
		slog.String("to", msg.To),
		slog.String("template", msg.Template),
		slog.String("subject", msg.Subject))
	return nil
}

// Close drains and closes the NATS connection.
func (c *NATSChannel) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("failed to drain NATS connection", slog.String("error", err.Error()))
	}
}
