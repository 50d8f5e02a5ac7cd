package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/status"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 30 * time.Second
	maxMessage    = 64 * 1024
	sendBuffer    = 256
	actionTimeout = 10 * time.Second
)

// Message types exchanged over the WebSocket.
const (
	MsgStatus       = "status"
	MsgTerminal     = "terminal"
	MsgPanelAction  = "panel-action"
	MsgInput        = "input"
	MsgActionResult = "action-result"
	MsgError        = "error"
)

// Message is one WebSocket frame. Data holds an Info for status frames and a
// string for terminal and input frames.
type Message struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	Action string          `json:"action,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func encode(typ string, data any) []byte {
	m := Message{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil
		}
		m.Data = raw
	}
	b, _ := json.Marshal(m)
	return b
}

// hub tracks WebSocket clients. Each client owns its own status
// subscription and terminal attachment, so there is no central fan-out loop.
type hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	deps     *Deps

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func newHub(deps *Deps, logger *slog.Logger) *hub {
	return &hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(deps.AllowedOrigins),
		},
		deps:    deps,
		clients: make(map[*wsClient]struct{}),
	}
}

type wsClient struct {
	h    *hub
	conn *websocket.Conn
	out  chan []byte
	quit chan struct{}
	once sync.Once
}

// kill is safe from any goroutine, including the terminal output callback.
func (c *wsClient) kill() {
	c.once.Do(func() { close(c.quit) })
}

// enqueue never blocks; a client that cannot keep up is disconnected.
func (c *wsClient) enqueue(b []byte) {
	if b == nil {
		return
	}
	select {
	case c.out <- b:
	case <-c.quit:
	default:
		c.h.logger.Warn("websocket client too slow, disconnecting", "remote", c.conn.RemoteAddr())
		c.kill()
	}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &wsClient{h: h, conn: conn, out: make(chan []byte, sendBuffer), quit: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()
	metrics.AddConnectedClients("websocket", 1)
	h.logger.Info("websocket connected", "remote", conn.RemoteAddr())

	// Subscribe before taking the snapshot so no transition falls between
	// them. The initial frames go out before anything queued meanwhile.
	var initial [][]byte
	var statusCh <-chan status.Info
	cancelStatus := func() {}
	if h.deps.Status != nil {
		statusCh, cancelStatus = h.deps.Status.Subscribe(16)
		initial = append(initial, encode(MsgStatus, h.deps.Status.Info()))
	}
	cancelTerm := func() {}
	if h.deps.Terminal != nil {
		var backlog []byte
		backlog, cancelTerm = h.deps.Terminal.Attach(func(chunk []byte) {
			c.enqueue(encode(MsgTerminal, string(chunk)))
		})
		if len(backlog) > 0 {
			initial = append(initial, encode(MsgTerminal, string(backlog)))
		}
	}

	go func() {
		defer h.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer h.wg.Done()
		c.writeLoop(statusCh, initial)
		cancelStatus()
		cancelTerm()
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = conn.Close()
		metrics.AddConnectedClients("websocket", -1)
		h.logger.Info("websocket closed", "remote", conn.RemoteAddr())
	}()
}

func (c *wsClient) writeLoop(statusCh <-chan status.Info, initial [][]byte) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	write := func(b []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(websocket.TextMessage, b) == nil
	}
	for _, b := range initial {
		if !write(b) {
			c.kill()
			return
		}
	}
	for {
		select {
		case <-c.quit:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		case info := <-statusCh:
			if !write(encode(MsgStatus, info)) {
				c.kill()
				return
			}
		case b := <-c.out:
			if !write(b) {
				c.kill()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.h.logger.Debug("ping failed", "error", err)
				c.kill()
				return
			}
		}
	}
}

func (c *wsClient) readLoop() {
	defer c.kill()
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.h.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			c.enqueue(errorFrame("invalid message: " + err.Error()))
			continue
		}
		c.handle(m)
	}
}

func (c *wsClient) handle(m Message) {
	deps := c.h.deps
	switch m.Type {
	case MsgPanelAction:
		if deps.Actions == nil {
			c.enqueue(errorFrame("panel actions are not available"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		err := deps.Actions.Do(ctx, m.Action)
		cancel()
		res := Message{Type: MsgActionResult, Action: m.Action}
		if err != nil {
			res.Error = err.Error()
		}
		b, _ := json.Marshal(res)
		c.enqueue(b)
	case MsgInput:
		if deps.Terminal == nil {
			c.enqueue(errorFrame("terminal is not available"))
			return
		}
		var line string
		if err := json.Unmarshal(m.Data, &line); err != nil {
			c.enqueue(errorFrame("input data must be a string"))
			return
		}
		if err := deps.Terminal.Send(line); err != nil {
			c.enqueue(errorFrame(err.Error()))
		}
	default:
		c.enqueue(errorFrame("unknown message type " + m.Type))
	}
}

func errorFrame(msg string) []byte {
	b, _ := json.Marshal(Message{Type: MsgError, Error: msg})
	return b
}

// close disconnects every client and refuses new ones.
func (h *hub) close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.kill()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("websocket clients still open: %w", ctx.Err())
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
