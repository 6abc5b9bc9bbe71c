package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/notify/internal/logger"
	"github.com/carebridge/notify/internal/notify"
	"github.com/google/uuid"
)

// ErrNotConnected is returned by Push when the recipient has no live stream.
var ErrNotConnected = errors.New("not connected")

// StreamConn is the write side of a live push-stream connection.
// *websocket.Conn satisfies it; tests substitute fakes.
type StreamConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Connection is one live stream entry. Ephemeral, never persisted.
type Connection struct {
	ID          string
	RecipientID string
	OpenedAt    time.Time
	conn        StreamConn
}

// PushResult reports the outcome of a single push attempt.
type PushResult struct {
	Success      bool
	ConnectionID string
	Err          error
}

// Registry maps each recipient to their current stream connection.
//
// Single-connection-wins: registering a new connection for a recipient
// replaces the old entry, and unregister is compare-and-delete so the
// teardown of a replaced connection can never evict its successor.
//
// Thread-safety: all methods are safe for concurrent use. Writes to the
// underlying handle happen outside the lock against a copied reference.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection // recipientID → current connection
	logger *logger.Logger
}

// New creates an empty registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		logger: log.WithComponent("connection_registry"),
	}
}

// Register stores conn as the recipient's current connection and returns the
// generated connection ID. Any previous entry for the recipient is replaced
// (last write wins) and its handle is closed.
func (r *Registry) Register(recipientID string, conn StreamConn) string {
	entry := &Connection{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		OpenedAt:    time.Now(),
		conn:        conn,
	}

	r.mu.Lock()
	replaced := r.conns[recipientID]
	r.conns[recipientID] = entry
	r.mu.Unlock()

	if replaced != nil {
		replaced.conn.Close()
		r.logger.Debug("replaced existing connection",
			slog.String("recipient_id", recipientID),
			slog.String("old_connection_id", replaced.ID),
			slog.String("new_connection_id", entry.ID))
	} else {
		r.logger.Debug("connection registered",
			slog.String("recipient_id", recipientID),
			slog.String("connection_id", entry.ID))
	}

	return entry.ID
}

// Unregister removes the recipient's entry only if it still holds the given
// connection ID. A stale teardown (the ID of an already-replaced connection)
// is a no-op.
func (r *Registry) Unregister(recipientID, connectionID string) {
	r.mu.Lock()
	entry, ok := r.conns[recipientID]
	removed := ok && entry.ID == connectionID
	if removed {
		delete(r.conns, recipientID)
	}
	r.mu.Unlock()

	if removed {
		r.logger.Debug("connection unregistered",
			slog.String("recipient_id", recipientID),
			slog.String("connection_id", connectionID))
	}
}

// Push writes one event to the recipient's current connection. A missing
// entry or a failed write yields a failure result, never a panic; a broken
// handle is proactively unregistered and closed.
func (r *Registry) Push(recipientID string, event notify.Event) PushResult {
	r.mu.RLock()
	entry := r.conns[recipientID]
	r.mu.RUnlock()

	if entry == nil {
		return PushResult{Success: false, Err: ErrNotConnected}
	}

	if err := entry.conn.WriteJSON(event); err != nil {
		r.logger.Warn("stream write failed, evicting connection",
			slog.String("recipient_id", recipientID),
			slog.String("connection_id", entry.ID),
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()))
		r.Unregister(recipientID, entry.ID)
		entry.conn.Close()
		return PushResult{Success: false, ConnectionID: entry.ID, Err: err}
	}

	return PushResult{Success: true, ConnectionID: entry.ID}
}

// IsConnected reports whether the recipient currently has a live connection.
func (r *Registry) IsConnected(recipientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[recipientID]
	return ok
}

// ConnectionID returns the recipient's current connection ID, or "" if none.
func (r *Registry) ConnectionID(recipientID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.conns[recipientID]; ok {
		return entry.ID
	}
	return ""
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes and removes every connection. Used during server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, entry := range conns {
		entry.conn.Close()
	}

	if len(conns) > 0 {
		r.logger.Info("closed all connections", slog.Int("count", len(conns)))
	}
}
