package telemetry

import (
	"encoding/json"
	"time"
)

// Auth lifecycle event types.
const (
	EventLogin          = "auth.login"
	EventLoginFailed    = "auth.login_failed"
	EventLogout         = "auth.logout"
	EventForcedLogout   = "auth.forced_logout"
	EventRefreshed      = "auth.token_refreshed"
	EventRefreshFailed  = "auth.token_refresh_failed"
	EventProfileUpdated = "auth.profile_updated"
	EventPasswordChange = "auth.password_changed"
	EventSessionRevoked = "session.invalidated"
)

// Event is one auth lifecycle occurrence. It never carries token or password material.
type Event struct {
	Type      string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Source    string            `json:"source,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewEvent returns an event of the given type stamped with the current time.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, CreatedAt: time.Now().UTC()}
}

// MetadataJSON encodes Metadata, or returns nil when there is none.
func (e *Event) MetadataJSON() []byte {
	if len(e.Metadata) == 0 {
		return nil
	}
	b, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil
	}
	return b
}
