package status

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/probe"
	"github.com/loykin/mcpanel/internal/terminal"
)

const (
	DefaultRunningInterval  = 5 * time.Second
	DefaultStoppingInterval = 1 * time.Second
)

var (
	ErrInvalidStatus = errors.New("invalid status")
	ErrInitialized   = errors.New("status manager already initialized")
	ErrNoProbe       = errors.New("process probe is required")
)

// Options configures a Manager. Zero durations take the defaults; a zero
// StartTimeout leaves the starting state without a deadline.
type Options struct {
	Probe            probe.ProcessProbe
	Classifier       terminal.Classifier
	RunningInterval  time.Duration
	StoppingInterval time.Duration
	StartTimeout     time.Duration
	Logger           *slog.Logger
}

// Manager owns the current server status.
//
// Lock order: transMu, then mu, then lmu. transMu is held for the whole of a
// transition (commit, listener notification, monitor switch) so transitions
// never interleave. mu guards the observable fields and is what readers take,
// which lets listeners call Status and Info. Listeners must not call SetStatus
// or Destroy synchronously.
type Manager struct {
	opts   Options
	logger *slog.Logger

	transMu sync.Mutex
	mon     *monitor // guarded by transMu
	gen     uint64   // guarded by transMu
	inited  bool     // guarded by transMu
	wg      sync.WaitGroup

	mu           sync.RWMutex
	status       Status
	processFound bool
	pid          int
	destroyed    bool

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// New creates a Manager in the stopped state. Call Initialize before use.
func New(opts Options) (*Manager, error) {
	if opts.Probe == nil {
		return nil, ErrNoProbe
	}
	if opts.Classifier == nil {
		opts.Classifier = terminal.MatchStartupComplete
	}
	if opts.RunningInterval <= 0 {
		opts.RunningInterval = DefaultRunningInterval
	}
	if opts.StoppingInterval <= 0 {
		opts.StoppingInterval = DefaultStoppingInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:   opts,
		logger: logger.With("component", "status"),
		status: Stopped,
	}, nil
}

// Initialize seeds the state with one synchronous process probe: found means
// running, otherwise stopped. Listeners registered earlier are notified as for
// any transition.
func (m *Manager) Initialize(ctx context.Context) error {
	m.transMu.Lock()
	defer m.transMu.Unlock()
	if m.inited {
		return ErrInitialized
	}
	m.inited = true

	r := m.findProcess(ctx)
	m.recordProbe(r)
	next := Stopped
	if r.Found {
		next = Running
	}
	m.logger.Info("initial server status", "status", next, "pid", r.PID, "probe", m.opts.Probe.Describe())
	metrics.SetCurrentState(string(next), stateNames())
	m.commitLocked(next)
	return nil
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Info returns a fresh snapshot; Timestamp is the time of this call.
func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.infoLocked()
}

func (m *Manager) infoLocked() Info {
	return Info{
		Status:       m.status,
		Timestamp:    time.Now(),
		ProcessFound: m.processFound,
		PID:          m.pid,
	}
}

// SetStatus moves the machine to s. Setting the current state is a silent
// no-op: no notification and no monitor restart.
func (m *Manager) SetStatus(s Status) error {
	if !s.Valid() {
		return ErrInvalidStatus
	}
	m.transMu.Lock()
	defer m.transMu.Unlock()
	m.commitLocked(s)
	return nil
}

// HandleTerminalLine feeds one ANSI-stripped line of shell output. It only
// has an effect while starting: a classifier match moves the machine to
// running.
func (m *Manager) HandleTerminalLine(line string) {
	if m.Status() != Starting {
		return
	}
	if !m.opts.Classifier(line) {
		return
	}
	m.transMu.Lock()
	defer m.transMu.Unlock()
	// a stop may have been requested between the check and the lock
	if m.Status() != Starting {
		return
	}
	m.logger.Info("startup completion detected", "line", line)
	m.commitLocked(Running)
}

// Refresh runs the process probe once and updates ProcessFound and PID
// without changing the state.
func (m *Manager) Refresh(ctx context.Context) Info {
	r := m.findProcess(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processFound = r.Found
	m.pid = r.PID
	return m.infoLocked()
}

// AddListener registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (m *Manager) AddListener(fn Listener) (remove func()) {
	m.lmu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	m.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lmu.Lock()
			defer m.lmu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// ListenerCount reports the number of registered listeners.
func (m *Manager) ListenerCount() int {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	return len(m.listeners)
}

// Destroy cancels every monitor, clears listeners and waits for monitor
// goroutines to exit. Later transitions still commit but start no monitors.
// Destroy is idempotent.
func (m *Manager) Destroy() {
	m.transMu.Lock()
	m.mu.Lock()
	first := !m.destroyed
	m.destroyed = true
	m.mu.Unlock()
	m.stopMonitorLocked()
	m.transMu.Unlock()

	m.lmu.Lock()
	m.listeners = nil
	m.lmu.Unlock()

	m.wg.Wait()
	if first {
		m.logger.Info("status manager destroyed")
	}
}

// commitLocked applies a transition. transMu must be held.
func (m *Manager) commitLocked(next Status) bool {
	m.mu.Lock()
	prev := m.status
	if prev == next {
		m.mu.Unlock()
		return false
	}
	m.status = next
	if next == Stopped {
		m.processFound = false
		m.pid = 0
	}
	info := m.infoLocked()
	destroyed := m.destroyed
	m.mu.Unlock()

	m.logger.Info("server status changed", "from", prev, "to", next)
	metrics.RecordStateTransition(string(prev), string(next))
	metrics.SetCurrentState(string(next), stateNames())

	m.notify(info)
	m.switchMonitorLocked(next, destroyed)
	return true
}

func (m *Manager) notify(info Info) {
	m.lmu.Lock()
	ls := append([]listenerEntry(nil), m.listeners...)
	m.lmu.Unlock()
	for _, l := range ls {
		m.callListener(l, info)
	}
}

func (m *Manager) callListener(l listenerEntry, info Info) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncListenerFailure()
			m.logger.Error("status listener panicked", "listener", l.id, "status", info.Status, "panic", r)
		}
	}()
	if err := l.fn(info); err != nil {
		metrics.IncListenerFailure()
		m.logger.Error("status listener failed", "listener", l.id, "status", info.Status, "error", err)
	}
}

func (m *Manager) recordProbe(r probe.ProcessResult) {
	m.mu.Lock()
	m.processFound = r.Found
	m.pid = r.PID
	m.mu.Unlock()
}

func (m *Manager) findProcess(ctx context.Context) probe.ProcessResult {
	start := time.Now()
	r := m.opts.Probe.FindServerProcess(ctx)
	metrics.ObserveProbe("process", time.Since(start).Seconds(), r.Found)
	return r
}
