// Package shell hosts the long-lived shell session the Minecraft server runs
// in. Every output chunk is kept in a bounded scrollback and handed to
// subscribers; lines written with Send go to the shell's stdin, and therefore
// to whatever foreground program currently reads it.
package shell

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const (
	DefaultScrollback  = 64 * 1024
	DefaultGracePeriod = 10 * time.Second
)

var (
	ErrClosed         = errors.New("shell session closed")
	ErrAlreadyStarted = errors.New("shell session already started")
)

// Config describes the session.
type Config struct {
	// Dir is the initial working directory.
	Dir string
	// Program overrides the shell executable (default /bin/sh, cmd.exe on Windows).
	Program string
	// Env is the complete environment of the shell. Nil inherits the
	// panel's own environment.
	Env []string
	// Scrollback is the number of output bytes retained for late subscribers.
	Scrollback int
	// GracePeriod is how long Close waits after closing stdin before killing
	// the session's process group.
	GracePeriod time.Duration
	// ConsoleLog, when set, receives a copy of all output.
	ConsoleLog io.Writer
}

// Session is a running shell.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool
	closed  bool
	done    chan struct{}
	waitErr error

	omu        sync.Mutex
	scrollback []byte
	subs       map[uint64]func([]byte)
	nextID     uint64
}

func New(cfg Config, logger *slog.Logger) *Session {
	if cfg.Scrollback <= 0 {
		cfg.Scrollback = DefaultScrollback
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		logger: logger.With("component", "shell"),
		done:   make(chan struct{}),
		subs:   make(map[uint64]func([]byte)),
	}
}

// Start launches the shell.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}

	cmd := shellCommand(s.cfg.Program)
	cmd.Dir = s.cfg.Dir
	cmd.Env = s.cfg.Env
	out := outputWriter{s}
	cmd.Stdout = out
	cmd.Stderr = out
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("shell stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start shell %s: %w", cmd.Path, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.started = true
	s.logger.Info("shell session started", "pid", cmd.Process.Pid, "dir", s.cfg.Dir)

	go s.wait()
	return nil
}

func (s *Session) wait() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.waitErr = err
	s.closed = true
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("shell session exited", "error", err)
	} else {
		s.logger.Info("shell session exited")
	}
	close(s.done)
}

// Send writes line followed by a newline to the shell's stdin.
func (s *Session) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write to shell: %w", err)
	}
	return nil
}

// PID returns the shell's process id, or 0 when not running.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil || s.closed {
		return 0
	}
	return s.cmd.Process.Pid
}

// Done is closed when the shell exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the shell's exit error once Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// Subscribe registers fn for every future output chunk. fn runs on the output
// goroutine and must not block; the chunk must not be retained.
func (s *Session) Subscribe(fn func(chunk []byte)) (cancel func()) {
	_, cancel = s.Attach(fn)
	return cancel
}

// Attach is Subscribe that also returns the scrollback as of registration, so
// a late client sees every byte exactly once. fn must not call back into the
// session.
func (s *Session) Attach(fn func(chunk []byte)) (backlog []byte, cancel func()) {
	s.omu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	backlog = append([]byte(nil), s.scrollback...)
	s.omu.Unlock()
	return backlog, func() {
		s.omu.Lock()
		delete(s.subs, id)
		s.omu.Unlock()
	}
}

// Scrollback returns a copy of the retained output.
func (s *Session) Scrollback() []byte {
	s.omu.Lock()
	defer s.omu.Unlock()
	return append([]byte(nil), s.scrollback...)
}

// Close closes stdin so the shell can exit on EOF, then kills the process
// group if it is still alive after the grace period.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.started {
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	stdin := s.stdin
	proc := s.cmd.Process
	s.mu.Unlock()

	_ = stdin.Close()
	select {
	case <-s.done:
		return nil
	case <-time.After(s.cfg.GracePeriod):
	}
	s.logger.Warn("shell did not exit after stdin closed, killing", "pid", proc.Pid)
	if err := killTree(proc); err != nil {
		return fmt.Errorf("kill shell: %w", err)
	}
	<-s.done
	return nil
}

type outputWriter struct{ s *Session }

func (w outputWriter) Write(p []byte) (int, error) {
	s := w.s
	s.omu.Lock()
	defer s.omu.Unlock()

	s.scrollback = append(s.scrollback, p...)
	if over := len(s.scrollback) - s.cfg.Scrollback; over > 0 {
		s.scrollback = append(s.scrollback[:0], s.scrollback[over:]...)
	}
	if s.cfg.ConsoleLog != nil {
		if _, err := s.cfg.ConsoleLog.Write(p); err != nil {
			s.logger.Debug("console log write failed", "error", err)
		}
	}
	for _, fn := range s.subs {
		fn(p)
	}
	return len(p), nil
}
