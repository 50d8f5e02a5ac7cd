package client

import (
	"fmt"
	"time"
)

// Status is the detailed status document served at GET /status.
type Status struct {
	Status       string       `json:"status"`
	Timestamp    time.Time    `json:"timestamp"`
	ProcessFound bool         `json:"processFound"`
	PID          int          `json:"pid,omitempty"`
	Log          *LogEvidence `json:"log,omitempty"`
	Port         *PortState   `json:"port,omitempty"`
	Resources    *Resources   `json:"resources,omitempty"`
}

type LogEvidence struct {
	Active     bool    `json:"active"`
	AgeSeconds float64 `json:"ageSeconds,omitempty"`
}

type PortState struct {
	Listening bool `json:"listening"`
	Port      int  `json:"port,omitempty"`
}

// Resources is the latest CPU and memory sample of the server process.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// HistoryEvent is one recorded status transition.
type HistoryEvent struct {
	OccurredAt   time.Time `json:"occurred_at"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	PID          int       `json:"pid,omitempty"`
	ProcessFound bool      `json:"process_found"`
}

// Health is the body of GET /health.
type Health struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

type actionRequest struct {
	Action string `json:"action"`
}

type simpleStatus struct {
	Status string `json:"status"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
