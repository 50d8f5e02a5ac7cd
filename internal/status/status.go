// Package status tracks the lifecycle of the Minecraft server process as a
// four-state machine fed by explicit panel actions, terminal output and
// periodic process probes.
package status

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of the server.
type Status string

const (
	Stopped  Status = "stopped"
	Starting Status = "starting"
	Running  Status = "running"
	Stopping Status = "stopping"
)

// All lists every state in lifecycle order.
var All = []Status{Stopped, Starting, Running, Stopping}

func (s Status) String() string { return string(s) }

func (s Status) Valid() bool {
	switch s {
	case Stopped, Starting, Running, Stopping:
		return true
	default:
		return false
	}
}

// Parse converts a state name into a Status.
func Parse(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Info is a point-in-time snapshot of the machine. ProcessFound and PID carry
// the most recent process probe result.
type Info struct {
	Status       Status    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	ProcessFound bool      `json:"processFound"`
	PID          int       `json:"pid,omitempty"`
}

// Listener receives a snapshot after every committed transition. Returned
// errors and panics are logged and otherwise ignored.
type Listener func(Info) error

func stateNames() []string {
	out := make([]string, len(All))
	for i, s := range All {
		out[i] = string(s)
	}
	return out
}
