package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/carebridge/notify/internal/auth"
	"github.com/carebridge/notify/internal/notify"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy enforced by the edge proxy
	},
}

// syncConn serializes writes to one websocket connection. Gorilla conns do
// not allow concurrent writers, and both the heartbeat ticker and dispatch
// pushes write to the same handle.
type syncConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *syncConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *syncConn) Close() error {
	return c.conn.Close()
}

// Stream handles GET /ws: upgrades, registers the connection as the
// recipient's current stream, acks, and keeps it alive with heartbeats
// until the peer goes away.
func (h *Handler) Stream(c *gin.Context) {
	log := h.logger.WithComponent("stream_handler")

	recipientID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed",
			slog.String("recipient_id", recipientID),
			slog.String("error", err.Error()))
		return
	}

	conn := &syncConn{conn: wsConn}
	connectionID := h.registry.Register(recipientID, conn)

	h.ops.Info("stream_handler", "stream opened", map[string]interface{}{
		"recipient_id":  recipientID,
		"connection_id": connectionID,
	})

	// Handshake ack, then the current unread count so a reconnecting client
	// reconciles immediately without a separate fetch.
	if ack, err := notify.NewEvent(notify.EventConnected, map[string]string{}); err == nil {
		conn.WriteJSON(ack)
	}
	if count, err := h.store.UnreadCount(c.Request.Context(), recipientID); err == nil {
		if event, err := notify.UnreadCountEvent(count); err == nil {
			conn.WriteJSON(event)
		}
	}

	stop := make(chan struct{})
	var once sync.Once
	closeStop := func() { once.Do(func() { close(stop) }) }

	// Heartbeat writer. A failed heartbeat means the peer is gone; the
	// registry evicts the handle and the read loop unblocks.
	go func() {
		ticker := time.NewTicker(h.heartbeatInterval)
		defer ticker.Stop()
		heartbeat, _ := notify.NewEvent(notify.EventHeartbeat, map[string]string{})
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteJSON(heartbeat); err != nil {
					closeStop()
					return
				}
			case <-stop:
				return
			}
		}
	}()

	// Read loop: the stream is server-to-client, so inbound frames carry no
	// commands; reading only detects the close.
	go func() {
		defer closeStop()
		for {
			if _, _, err := wsConn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	<-stop

	// Compare-and-delete: if a newer connection replaced this one, this
	// teardown must not evict it.
	h.registry.Unregister(recipientID, connectionID)
	wsConn.Close()

	h.ops.Info("stream_handler", "stream closed", map[string]interface{}{
		"recipient_id":  recipientID,
		"connection_id": connectionID,
	})
}
