package probe

import (
	"context"
	"os"
	"time"
)

// DefaultLogWindow is how recently the log must have been written to count
// as a heartbeat.
const DefaultLogWindow = 30 * time.Second

// LogProbe treats recent writes to the server log (logs/latest.log) as a
// sign of life.
type LogProbe struct {
	Path   string
	Window time.Duration

	now func() time.Time
}

func NewLogProbe(path string, window time.Duration) *LogProbe {
	if window <= 0 {
		window = DefaultLogWindow
	}
	return &LogProbe{Path: path, Window: window, now: time.Now}
}

// IsLogActive stats the log file. A missing or unreadable file is inactive.
func (p *LogProbe) IsLogActive(_ context.Context) LogResult {
	if p.Path == "" {
		return LogResult{}
	}
	fi, err := os.Stat(p.Path)
	if err != nil {
		return LogResult{}
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	age := now().Sub(fi.ModTime())
	if age < 0 {
		age = 0
	}
	return LogResult{Active: age <= p.Window, Age: age}
}
