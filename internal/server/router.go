package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcpanel/internal/history"
	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/probe"
	"github.com/loykin/mcpanel/internal/status"
)

// StatusSource is the status machine as seen by transports.
type StatusSource interface {
	Info() status.Info
	Refresh(ctx context.Context) status.Info
	Subscribe(buffer int) (<-chan status.Info, func())
}

// ActionHandler applies panel actions by name ("start", "stop").
type ActionHandler interface {
	Do(ctx context.Context, action string) error
}

// Terminal is the server console.
type Terminal interface {
	Send(line string) error
	Attach(fn func(chunk []byte)) (backlog []byte, cancel func())
}

type LogEvidence interface {
	IsLogActive(ctx context.Context) probe.LogResult
}

type PortEvidence interface {
	IsPortListening(ctx context.Context) probe.PortResult
}

type ResourceSource interface {
	Latest() (metrics.ResourceSample, bool)
}

// Deps are the collaborators behind the routes. Status is required; every
// other field is optional and its routes degrade when nil.
type Deps struct {
	Status    StatusSource
	Actions   ActionHandler
	Terminal  Terminal
	Log       LogEvidence
	Port      PortEvidence
	Resources ResourceSource
	History   history.Reader
	// Metrics mounts GET /metrics outside the base path.
	Metrics        bool
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Router provides embeddable HTTP handlers for the panel.
// Endpoints:
//
//	GET  {basePath}/status   query: mode=detailed|simple, refresh=1
//	POST {basePath}/action   body: {"action":"start"|"stop"}
//	GET  {basePath}/events   server-sent status snapshots
//	GET  {basePath}/ws       WebSocket: status, terminal, panel actions
//	GET  {basePath}/history  query: limit=N
//	GET  {basePath}/health
//	GET  /metrics            when enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	deps     Deps
	basePath string
	logger   *slog.Logger
	hub      *hub
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/action, ...
func NewRouter(basePath string, deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")
	r := &Router{deps: deps, basePath: sanitizeBase(basePath), logger: logger}
	r.hub = newHub(&r.deps, logger)
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g)
	return g
}

// Register mounts the routes on an existing gin engine.
func (r *Router) Register(g *gin.Engine) {
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/action", r.handleAction)
	group.GET("/events", r.handleEvents)
	group.GET("/ws", r.handleWS)
	group.GET("/history", r.handleHistory)
	group.GET("/health", r.handleHealth)
	if r.deps.Metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
}

// Close disconnects WebSocket clients. SSE streams end with their requests.
func (r *Router) Close(ctx context.Context) error {
	return r.hub.close(ctx)
}

// ServerOptions tune the standalone HTTP server. Zero timeouts take the
// defaults; a nil TLS serves plain HTTP.
type ServerOptions struct {
	ReadTimeout time.Duration
	IdleTimeout time.Duration
	TLS         *tls.Config
}

// NewServer binds addr and serves the router in the background. Bind errors
// are returned; later serve errors are logged. There is no write timeout
// because event streams and WebSockets are long-lived. The returned server's
// Addr is the bound address.
func NewServer(addr string, r *Router, opts ServerOptions) (*http.Server, error) {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		IdleTimeout:       opts.IdleTimeout,
		TLSConfig:         opts.TLS,
	}
	scheme := "http"
	if opts.TLS != nil {
		scheme = "https"
		ln = tls.NewListener(ln, opts.TLS)
	}
	r.logger.Info("http server listening", "addr", server.Addr, "scheme", scheme, "base", r.basePath)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server stopped", "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type actionReq struct {
	Action string `json:"action"`
}

type simpleResp struct {
	Status string `json:"status"`
}

type logEvidence struct {
	Active     bool    `json:"active"`
	AgeSeconds float64 `json:"ageSeconds,omitempty"`
}

// detailedResp is Info verbatim plus optional evidence.
type detailedResp struct {
	status.Info
	Log       *logEvidence            `json:"log,omitempty"`
	Port      *probe.PortResult       `json:"port,omitempty"`
	Resources *metrics.ResourceSample `json:"resources,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	mode := c.DefaultQuery("mode", "detailed")
	if mode != "detailed" && mode != "simple" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "mode must be detailed or simple"})
		return
	}
	var info status.Info
	if refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "0")); refresh {
		info = r.deps.Status.Refresh(c.Request.Context())
	} else {
		info = r.deps.Status.Info()
	}
	if mode == "simple" {
		writeJSON(c, http.StatusOK, simpleResp{Status: SimpleStatus(info.Status)})
		return
	}

	resp := detailedResp{Info: info}
	ctx := c.Request.Context()
	if r.deps.Log != nil {
		lr := r.deps.Log.IsLogActive(ctx)
		resp.Log = &logEvidence{Active: lr.Active, AgeSeconds: lr.Age.Seconds()}
	}
	if r.deps.Port != nil {
		pr := r.deps.Port.IsPortListening(ctx)
		resp.Port = &pr
	}
	if r.deps.Resources != nil {
		if s, ok := r.deps.Resources.Latest(); ok && int(s.PID) == info.PID {
			resp.Resources = &s
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleAction(c *gin.Context) {
	if r.deps.Actions == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "panel actions are not available"})
		return
	}
	var req actionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Action == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "action required"})
		return
	}
	if err := r.deps.Actions.Do(c.Request.Context(), req.Action); err != nil {
		writeJSON(c, errorCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEvents(c *gin.Context) {
	ch, cancel := r.deps.Status.Subscribe(16)
	defer cancel()
	metrics.AddConnectedClients("sse", 1)
	defer metrics.AddConnectedClients("sse", -1)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if err := writeEvent(c.Writer, r.deps.Status.Info()); err != nil {
		return
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case info := <-ch:
			return writeEvent(w, info) == nil
		}
	})
}

// writeEvent frames one snapshot as "data: <json>\n\n".
func writeEvent(w io.Writer, info status.Info) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func (r *Router) handleWS(c *gin.Context) {
	r.hub.serve(c.Writer, c.Request)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.deps.History == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not enabled"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	events, err := r.deps.History.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

type healthResp struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{
		OK:      true,
		Status:  string(r.deps.Status.Info().Status),
		Clients: r.hub.count(),
	})
}
