// Package producer publishes auth lifecycle events to a message broker.
package producer

import (
	"jobs-admin/client/internal/telemetry"
)

// Producer is an EventEmitter that owns a broker connection.
type Producer interface {
	telemetry.EventEmitter
	// Close flushes and releases the connection. Safe to call more than once.
	Close() error
}
