// Package panel turns start/stop requests from clients into status
// transitions and shell commands.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/status"
)

var (
	ErrAlreadyRunning = errors.New("server is already running")
	ErrBusy           = errors.New("server is changing state")
	ErrRateLimited    = errors.New("too many panel actions")
	ErrUnknownAction  = errors.New("unknown panel action")
)

type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// ParseAction validates a client supplied action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStart, ActionStop:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// Shell is where launch and stop commands are written.
type Shell interface {
	Send(line string) error
}

// StatusMachine is the part of status.Manager the panel drives.
type StatusMachine interface {
	Status() status.Status
	SetStatus(status.Status) error
}

type Options struct {
	Launch Launch
	// StopCommand is typed into the server console to stop it. Default "stop".
	StopCommand string
	// MinInterval and Burst bound how often actions are accepted.
	// Defaults: one per 2s with a burst of 3.
	MinInterval time.Duration
	Burst       int
	Logger      *slog.Logger
}

// Service applies panel actions. Actions are serialized.
type Service struct {
	st      StatusMachine
	sh      Shell
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
	mu      sync.Mutex
}

func New(st StatusMachine, sh Shell, opts Options) *Service {
	if opts.StopCommand == "" {
		opts.StopCommand = "stop"
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 2 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		st:      st,
		sh:      sh,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.MinInterval), opts.Burst),
		logger:  logger.With("component", "panel"),
	}
}

// Do dispatches an action by name.
func (s *Service) Do(ctx context.Context, action string) error {
	a, err := ParseAction(action)
	if err != nil {
		metrics.IncPanelAction(action, "invalid")
		return err
	}
	switch a {
	case ActionStart:
		return s.Start(ctx)
	default:
		return s.Stop(ctx)
	}
}

// Start launches the server. It is accepted only while stopped.
func (s *Service) Start(ctx context.Context) error {
	err := s.start(ctx)
	metrics.IncPanelAction(string(ActionStart), result(err))
	return err
}

func (s *Service) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	switch cur := s.st.Status(); cur {
	case status.Stopped:
	case status.Running:
		return ErrAlreadyRunning
	default:
		return fmt.Errorf("%w: %s", ErrBusy, cur)
	}
	if !s.limiter.Allow() {
		return ErrRateLimited
	}
	if err := s.st.SetStatus(status.Starting); err != nil {
		return err
	}
	cmd := s.opts.Launch.Command()
	s.logger.Info("starting server", "command", cmd)
	if err := s.sh.Send(cmd); err != nil {
		_ = s.st.SetStatus(status.Stopped)
		return fmt.Errorf("launch server: %w", err)
	}
	return nil
}

// Stop asks the server to stop. It is accepted while running or starting, is
// a no-op while stopped and rejected while already stopping.
func (s *Service) Stop(ctx context.Context) error {
	err := s.stop(ctx)
	metrics.IncPanelAction(string(ActionStop), result(err))
	return err
}

func (s *Service) stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	switch cur := s.st.Status(); cur {
	case status.Running, status.Starting:
	case status.Stopped:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBusy, cur)
	}
	if !s.limiter.Allow() {
		return ErrRateLimited
	}
	if err := s.st.SetStatus(status.Stopping); err != nil {
		return err
	}
	s.logger.Info("stopping server", "command", s.opts.StopCommand)
	if err := s.sh.Send(s.opts.StopCommand); err != nil {
		// the stopping monitor settles the state once the process is gone
		return fmt.Errorf("send stop command: %w", err)
	}
	return nil
}

// Shutdown stops a live server and waits until the status reaches stopped or
// ctx is done. It bypasses the rate limiter.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cur := s.st.Status()
	if cur == status.Running || cur == status.Starting {
		if err := s.st.SetStatus(status.Stopping); err != nil {
			s.mu.Unlock()
			return err
		}
		if err := s.sh.Send(s.opts.StopCommand); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("send stop command: %w", err)
		}
		s.logger.Info("stopping server before shutdown")
	}
	s.mu.Unlock()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for s.st.Status() != status.Stopped {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for server to stop: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrBusy):
		return "rejected"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
