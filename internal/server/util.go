package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcpanel/internal/panel"
	"github.com/loykin/mcpanel/internal/status"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// Simple names used by the compact status view.
const (
	SimpleOnline   = "online"
	SimpleOffline  = "offline"
	SimpleStarting = "starting"
	SimpleStopping = "stopping"
)

// SimpleStatus maps a status onto the compact vocabulary shown on
// dashboards: running is online, stopped is offline.
func SimpleStatus(s status.Status) string {
	switch s {
	case status.Running:
		return SimpleOnline
	case status.Starting:
		return SimpleStarting
	case status.Stopping:
		return SimpleStopping
	default:
		return SimpleOffline
	}
}

// errorCode maps panel errors onto HTTP status codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, panel.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, panel.ErrAlreadyRunning), errors.Is(err, panel.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, panel.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// originChecker accepts same-host requests, requests without an Origin
// header, and any origin listed in allowed. "*" accepts everything.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
