package notify

import (
	"fmt"
	"time"
)

// ChannelPrefs holds per-channel enable flags for one notification type.
type ChannelPrefs struct {
	Stream bool `json:"stream"`
	Email  bool `json:"email"`
}

// Preferences is the per-recipient notification configuration.
// Read-only to the pipeline; owned by the account settings surface.
type Preferences struct {
	RecipientID string                `json:"recipient_id"`
	Channels    map[Type]ChannelPrefs `json:"channels"`
	QuietStart  string                `json:"quiet_start"` // "22:00", empty disables quiet hours
	QuietEnd    string                `json:"quiet_end"`   // "07:00"
	Timezone    string                `json:"timezone"`    // IANA name, e.g. "America/Chicago"
}

// DefaultPreferences enables every channel with no quiet hours. Used when a
// recipient has never saved preferences.
func DefaultPreferences(recipientID string) Preferences {
	return Preferences{
		RecipientID: recipientID,
		Channels:    map[Type]ChannelPrefs{},
	}
}

// EmailEnabled reports whether email is enabled for the given type.
// Types with no saved entry default to enabled.
func (p Preferences) EmailEnabled(t Type) bool {
	prefs, ok := p.Channels[t]
	if !ok {
		return true
	}
	return prefs.Email
}

// InQuietHours reports whether now falls inside the recipient's quiet-hours
// window, evaluated in the recipient's timezone. Windows may wrap midnight
// ("22:00"–"07:00"). An unset or unparseable window never suppresses.
func (p Preferences) InQuietHours(now time.Time) bool {
	if p.QuietStart == "" || p.QuietEnd == "" {
		return false
	}

	loc := time.UTC
	if p.Timezone != "" {
		parsed, err := time.LoadLocation(p.Timezone)
		if err == nil {
			loc = parsed
		}
	}
	local := now.In(loc)

	start, err := minutesOfDay(p.QuietStart)
	if err != nil {
		return false
	}
	end, err := minutesOfDay(p.QuietEnd)
	if err != nil {
		return false
	}

	cur := local.Hour()*60 + local.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	// Window wraps midnight.
	return cur >= start || cur < end
}

func minutesOfDay(hhmm string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", hhmm, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", hhmm)
	}
	return h*60 + m, nil
}
