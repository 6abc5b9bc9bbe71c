package notify

import (
	"encoding/json"
	"time"
)

// Type classifies a notification for routing and preference checks.
type Type string

const (
	TypeMessage            Type = "MESSAGE"
	TypeCareUpdate         Type = "CARE_UPDATE"
	TypeEmergencyAlert     Type = "EMERGENCY_ALERT"
	TypeSystemAnnouncement Type = "SYSTEM_ANNOUNCEMENT"
	TypeFamilyActivity     Type = "FAMILY_ACTIVITY"
)

// Notification is the durable record created once per dispatch.
// Immutable except for ReadAt.
type Notification struct {
	ID           string          `json:"id"`
	RecipientID  string          `json:"recipient_id"`
	Type         Type            `json:"type"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Data         json.RawMessage `json:"data,omitempty"`
	IsActionable bool            `json:"is_actionable"`
	ActionURL    string          `json:"action_url,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	ReadAt       *time.Time      `json:"read_at,omitempty"`
}

// Content is the caller-supplied body of a dispatch.
type Content struct {
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Data         json.RawMessage `json:"data,omitempty"`
	IsActionable bool            `json:"is_actionable,omitempty"`
	ActionURL    string          `json:"action_url,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
}

// EmailContext carries the addressing details for the optional email fan-out.
// Supplied by the caller; absence means no email is attempted.
type EmailContext struct {
	Address       string `json:"address"`
	RecipientName string `json:"recipient_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	SenderName    string `json:"sender_name,omitempty"`
}

// FamilyMember is one entry resolved from the family directory.
type FamilyMember struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	EmailAddress string `json:"email_address"`
}
