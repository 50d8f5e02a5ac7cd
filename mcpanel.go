package mcpanel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/mcpanel/internal/config"
	"github.com/loykin/mcpanel/internal/history"
	"github.com/loykin/mcpanel/internal/history/factory"
	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/panel"
	"github.com/loykin/mcpanel/internal/probe"
	"github.com/loykin/mcpanel/internal/server"
	"github.com/loykin/mcpanel/internal/shell"
	"github.com/loykin/mcpanel/internal/status"
	"github.com/loykin/mcpanel/internal/terminal"
	mctls "github.com/loykin/mcpanel/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Status = status.Status

type Info = status.Info

type HistoryEvent = history.Event

type HistorySink = history.Sink

const (
	Stopped  = status.Stopped
	Starting = status.Starting
	Running  = status.Running
	Stopping = status.Stopping
)

var (
	ErrAlreadyRunning = panel.ErrAlreadyRunning
	ErrBusy           = panel.ErrBusy
	ErrRateLimited    = panel.ErrRateLimited
	ErrUnknownAction  = panel.ErrUnknownAction
)

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// Panel wires the status machine, the server shell, panel actions, history
// recording and the HTTP API for one Minecraft server.
type Panel struct {
	cfg    *Config
	logger *slog.Logger

	status    *status.Manager
	shell     *shell.Session
	actions   *panel.Service
	router    *server.Router
	resources *metrics.ResourceCollector
	sinks     []history.Sink

	consoleLog io.WriteCloser

	mu             sync.Mutex
	started        bool
	recorder       *history.Recorder
	removeRecorder func()
	cancelOutput   func()
	splitter       *terminal.LineSplitter
	cancel         context.CancelFunc
	closeOnce      sync.Once
	closeErr       error
}

// New builds a panel from a validated configuration. Nothing runs until
// Start. A nil logger uses slog.Default.
func New(cfg *Config, logger *slog.Logger) (*Panel, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Panel{cfg: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	classifier, err := cfg.Classifier()
	if err != nil {
		return nil, err
	}
	st, err := status.New(status.Options{
		Probe:            newProcessProbe(cfg, logger),
		Classifier:       classifier,
		RunningInterval:  cfg.Status.RunningInterval,
		StoppingInterval: cfg.Status.StoppingInterval,
		StartTimeout:     cfg.Status.StartTimeout,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	p.status = st

	var consoleLog io.Writer
	if w := cfg.Minecraft.ConsoleLog.Writer(); w != nil {
		p.consoleLog = w
		consoleLog = w
	}
	sc, err := cfg.ShellSession(consoleLog)
	if err != nil {
		p.release()
		return nil, err
	}
	p.shell = shell.New(sc, logger)

	p.actions = panel.New(st, p.shell, panel.Options{
		Launch:      cfg.Launch(),
		StopCommand: cfg.Minecraft.StopCommand,
		MinInterval: cfg.Actions.MinInterval,
		Burst:       cfg.Actions.Burst,
		Logger:      logger,
	})

	var reader history.Reader
	if cfg.History.Enabled {
		for _, dsn := range cfg.History.DSNs {
			sink, err := factory.NewSinkFromDSN(dsn)
			if err != nil {
				p.release()
				return nil, fmt.Errorf("history sink %q: %w", redact(dsn), err)
			}
			p.sinks = append(p.sinks, sink)
			if r, ok := sink.(history.Reader); ok && reader == nil {
				reader = r
			}
		}
	}

	deps := server.Deps{
		Status:         st,
		Actions:        p.actions,
		Terminal:       p.shell,
		Log:            probe.NewLogProbe(cfg.LogFilePath(), cfg.Status.LogWindow),
		Port:           probe.NewPortProbe(cfg.PropertiesPath(), cfg.Minecraft.IP, cfg.Status.PortTimeout),
		History:        reader,
		Metrics:        cfg.Metrics.Enabled,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}
	if cfg.Resources.Enabled {
		p.resources = metrics.NewResourceCollector(cfg.Resources)
		if cfg.Metrics.Enabled {
			if err := p.resources.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
				p.release()
				return nil, fmt.Errorf("register resource metrics: %w", err)
			}
		}
		deps.Resources = p.resources
	}
	p.router = server.NewRouter(cfg.Server.BasePath, deps)
	return p, nil
}

func newProcessProbe(cfg *Config, logger *slog.Logger) probe.ProcessProbe {
	sig := probe.Signature{
		Runtime: strings.TrimSuffix(filepath.Base(cfg.Minecraft.Java), ".exe"),
		Jar:     filepath.Base(cfg.Minecraft.Jar),
	}
	if cfg.Status.Probe == "native" {
		return probe.NewNativeProbe(sig, logger)
	}
	return probe.NewPSProbe(sig, logger)
}

// redact hides DSN credentials in error messages.
func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}

// Start launches the shell, determines the initial status from the process
// table and begins recording history and sampling resources.
func (p *Panel) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("panel already started")
	}

	p.splitter = terminal.NewLineSplitter(p.status.HandleTerminalLine)
	p.cancelOutput = p.shell.Subscribe(func(chunk []byte) {
		_, _ = p.splitter.Write(chunk)
	})
	if err := p.shell.Start(); err != nil {
		p.cancelOutput()
		return err
	}
	if err := p.status.Initialize(ctx); err != nil {
		return err
	}

	if len(p.sinks) > 0 {
		p.recorder = history.NewRecorder(history.RecorderOptions{
			Initial:   p.status.Status(),
			QueueSize: p.cfg.History.QueueSize,
			Logger:    p.logger,
		}, p.sinks...)
		p.removeRecorder = p.status.AddListener(p.recorder.Listen)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	if p.resources != nil {
		p.resources.Start(runCtx, func() int { return p.status.Info().PID })
	}
	p.started = true
	p.logger.Info("panel started", "status", p.status.Status(), "dir", p.cfg.Minecraft.Dir)
	return nil
}

// Info returns the current status snapshot.
func (p *Panel) Info() Info { return p.status.Info() }

// Refresh re-probes the process before answering.
func (p *Panel) Refresh(ctx context.Context) Info { return p.status.Refresh(ctx) }

// Subscribe delivers a snapshot after each transition. See status.Manager.Subscribe.
func (p *Panel) Subscribe(buffer int) (<-chan Info, func()) { return p.status.Subscribe(buffer) }

// Do applies a panel action by name: "start" or "stop".
func (p *Panel) Do(ctx context.Context, action string) error { return p.actions.Do(ctx, action) }

// Send types a line into the server shell.
func (p *Panel) Send(line string) error { return p.shell.Send(line) }

// ShellDone is closed when the shell exits.
func (p *Panel) ShellDone() <-chan struct{} { return p.shell.Done() }

// Handler returns the HTTP API as a standalone handler.
func (p *Panel) Handler() http.Handler { return p.router.Handler() }

// RegisterGin mounts the HTTP API on an existing gin engine.
func (p *Panel) RegisterGin(g *gin.Engine) { p.router.Register(g) }

// Serve binds the configured listen address and serves the API in the
// background, over HTTPS when server.tls is enabled.
func (p *Panel) Serve() (*http.Server, error) {
	tc, err := mctls.Setup(p.cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("server tls: %w", err)
	}
	return server.NewServer(p.cfg.Server.Listen, p.router, server.ServerOptions{
		ReadTimeout: p.cfg.Server.ReadTimeout,
		IdleTimeout: p.cfg.Server.IdleTimeout,
		TLS:         tc,
	})
}

// Shutdown stops a live Minecraft server, disconnects clients and releases
// everything Start acquired. ctx bounds the wait for the server to stop.
// It is safe to call more than once.
func (p *Panel) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() {
		var errs []error
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		if started {
			if err := p.actions.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := p.router.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if p.resources != nil {
			p.resources.Stop()
		}
		if err := p.shell.Close(); err != nil {
			errs = append(errs, err)
		}
		p.mu.Lock()
		if p.cancelOutput != nil {
			p.cancelOutput()
			p.splitter.Flush()
		}
		if p.cancel != nil {
			p.cancel()
		}
		if p.removeRecorder != nil {
			p.removeRecorder()
		}
		rec := p.recorder
		p.mu.Unlock()
		if rec != nil {
			if err := rec.Close(); err != nil {
				errs = append(errs, err)
			}
		} else {
			p.closeSinks()
		}
		p.status.Destroy()
		if p.consoleLog != nil {
			_ = p.consoleLog.Close()
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

// release undoes a partial New.
func (p *Panel) release() {
	p.closeSinks()
	if p.status != nil {
		p.status.Destroy()
	}
	if p.consoleLog != nil {
		_ = p.consoleLog.Close()
	}
}

func (p *Panel) closeSinks() {
	for _, s := range p.sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
