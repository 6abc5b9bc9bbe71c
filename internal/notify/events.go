package notify

import (
	"encoding/json"
	"fmt"
)

// EventType is the closed set of stream frame types. Frames with a type
// outside this set parse to EventUnknown and are dropped by consumers.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventEntityCreated   EventType = "entity_created"
	EventEntityUpdated   EventType = "entity_updated"
	EventEntityDeleted   EventType = "entity_deleted"
	EventTypingUpdate    EventType = "typing_update"
	EventReactionAdded   EventType = "reaction_added"
	EventReactionRemoved EventType = "reaction_removed"
	EventUnreadCount     EventType = "unread_count"
	EventHeartbeat       EventType = "heartbeat"
	EventUnknown         EventType = "unknown"
)

var knownEventTypes = map[EventType]bool{
	EventConnected:       true,
	EventEntityCreated:   true,
	EventEntityUpdated:   true,
	EventEntityDeleted:   true,
	EventTypingUpdate:    true,
	EventReactionAdded:   true,
	EventReactionRemoved: true,
	EventUnreadCount:     true,
	EventHeartbeat:       true,
}

// ParseEventType maps a wire type tag onto the closed enum.
func ParseEventType(s string) EventType {
	t := EventType(s)
	if knownEventTypes[t] {
		return t
	}
	return EventUnknown
}

// Event is one frame on the push stream: {"type": ..., "data": {...}}.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent decodes a raw frame. A malformed frame is an error; an
// unrecognized type is not (Type comes back as EventUnknown).
func ParseEvent(raw []byte) (Event, error) {
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Event{}, fmt.Errorf("malformed stream frame: %w", err)
	}
	return Event{Type: ParseEventType(frame.Type), Data: frame.Data}, nil
}

// NewEvent builds a frame, marshalling data as the frame payload.
func NewEvent(t EventType, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return Event{Type: t, Data: raw}, nil
}

// NotificationEvent wraps a persisted notification for the stream.
func NotificationEvent(n *Notification) (Event, error) {
	return NewEvent(EventEntityCreated, n)
}

// UnreadCountEvent carries the recomputed unread counter.
func UnreadCountEvent(count int) (Event, error) {
	return NewEvent(EventUnreadCount, map[string]int{"count": count})
}

// TypingPayload is the data shape of typing_update frames.
type TypingPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// ReactionPayload is the data shape of reaction_added/reaction_removed frames.
type ReactionPayload struct {
	TargetID string `json:"targetId"`
	Emoji    string `json:"emoji"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
