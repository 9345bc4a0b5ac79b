package domain

import "time"

// DeviceInfo describes the client that opened a session.
type DeviceInfo struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"device_type"`
}

// Session is a server-tracked signed-in connection, as listed by the gateway.
// It is a read-only projection and is never cached by the client.
type Session struct {
	SessionID    string     `json:"session_id"`
	IPAddress    string     `json:"ip_address"`
	DeviceInfo   DeviceInfo `json:"device_info"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	ExpiresAt    time.Time  `json:"expires_at"`
	IsActive     bool       `json:"is_active"`
	IsExpired    bool       `json:"is_expired"`
}

// InvalidateResult is the gateway's answer to an invalidation. ForceLogout is true when
// the invalidated set included the caller's own session.
type InvalidateResult struct {
	ForceLogout bool   `json:"force_logout"`
	Message     string `json:"message,omitempty"`
	Count       int    `json:"invalidated_count,omitempty"`
}
