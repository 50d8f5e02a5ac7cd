package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/status"
)

var ErrQueueFull = errors.New("history queue full")

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// Initial is the status before the first recorded transition.
	Initial status.Status
	// QueueSize bounds events waiting for delivery. Default 256.
	QueueSize int
	// SendTimeout bounds each sink call. Default 5s.
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Recorder turns status transitions into history events and delivers them
// to its sinks on a background goroutine, so slow sinks never hold up a
// transition.
type Recorder struct {
	sinks   []Sink
	opts    RecorderOptions
	logger  *slog.Logger
	queue   chan Event
	last    status.Status // only touched from the listener, which is serialized
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	closeMu sync.Once
}

func NewRecorder(opts RecorderOptions, sinks ...Sink) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.Initial == "" {
		opts.Initial = status.Stopped
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sinks:  append([]Sink(nil), sinks...),
		opts:   opts,
		logger: logger.With("component", "history"),
		queue:  make(chan Event, opts.QueueSize),
		last:   opts.Initial,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Listen is a status.Listener. Register it with status.Manager.AddListener.
func (r *Recorder) Listen(info status.Info) error {
	e := Event{
		OccurredAt:   info.Timestamp,
		From:         string(r.last),
		To:           string(info.Status),
		PID:          info.PID,
		ProcessFound: info.ProcessFound,
	}
	r.last = info.Status

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	select {
	case r.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.SendTimeout)
			err := s.Send(ctx, e)
			cancel()
			metrics.IncHistoryWrite(Kind(s), err == nil)
			if err != nil {
				r.logger.Warn("history sink failed", "sink", Kind(s), "to", e.To, "error", err)
			}
		}
	}
}

// Close drains queued events, then closes every sink that is an io.Closer.
func (r *Recorder) Close() error {
	var errs []error
	r.closeMu.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		<-r.done
		for _, s := range r.sinks {
			if c, ok := s.(io.Closer); ok {
				errs = append(errs, c.Close())
			}
		}
	})
	return errors.Join(errs...)
}
