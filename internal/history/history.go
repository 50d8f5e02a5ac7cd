package history

import (
	"context"
	"time"
)

// Event is one committed server status transition, exported to external
// systems for auditing and uptime statistics.
type Event struct {
	OccurredAt   time.Time `json:"occurred_at"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	PID          int       `json:"pid,omitempty"`
	ProcessFound bool      `json:"process_found"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can return what they stored.
type Reader interface {
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Kind names a sink for logs and metrics when it implements
// interface{ Kind() string }; otherwise "unknown".
func Kind(s Sink) string {
	if k, ok := s.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	return "unknown"
}

// Table is the default table (or index) name used by every sink.
const Table = "status_history"
