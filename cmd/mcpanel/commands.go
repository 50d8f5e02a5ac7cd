package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/mcpanel/internal/config"
	"github.com/loykin/mcpanel/pkg/client"
)

type command struct {
	flags *GlobalFlags
}

// apiClient builds a client for --api-url, falling back to the listen
// address and base path of --config.
func (c command) apiClient() (*client.Client, error) {
	url := c.flags.APIUrl
	if url == "" && c.flags.ConfigPath != "" {
		cfg, err := config.Load(c.flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		url = apiURLFromConfig(cfg)
	}
	return client.New(client.Config{
		BaseURL:  url,
		Timeout:  c.flags.APITimeout,
		Insecure: c.flags.APIInsecure,
	}), nil
}

// apiURLFromConfig turns a listen address such as ":8080" into a loopback URL,
// https when server.tls is enabled.
func apiURLFromConfig(cfg *config.Config) string {
	host, port, err := net.SplitHostPort(cfg.Server.Listen)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	base := strings.TrimRight(cfg.Server.BasePath, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	scheme := "http://"
	if cfg.Server.TLS.Enabled {
		scheme = "https://"
	}
	return scheme + net.JoinHostPort(host, port) + base
}

func (c command) Status(ctx context.Context, out io.Writer, f StatusFlags) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	if f.Simple {
		s, err := api.SimpleStatus(ctx)
		if err != nil {
			return err
		}
		if f.JSON {
			return printJSON(out, map[string]string{"status": s})
		}
		_, err = fmt.Fprintln(out, s)
		return err
	}
	st, err := api.Status(ctx, f.Refresh)
	if err != nil {
		return err
	}
	if f.JSON {
		return printJSON(out, st)
	}
	return printStatus(out, st)
}

func (c command) Action(ctx context.Context, out io.Writer, action string) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	if err := api.Action(ctx, action); err != nil {
		return err
	}
	st, err := api.Status(ctx, false)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s requested, server is %s\n", action, st.Status)
	return err
}

func (c command) History(ctx context.Context, out io.Writer, f HistoryFlags) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	events, err := api.History(ctx, f.Limit)
	if err != nil {
		return err
	}
	if f.JSON {
		return printJSON(out, events)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tFROM\tTO\tPID")
	for _, e := range events {
		pid := "-"
		if e.PID > 0 {
			pid = fmt.Sprint(e.PID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.OccurredAt.Local().Format(time.DateTime), e.From, e.To, pid)
	}
	return tw.Flush()
}

func printStatus(out io.Writer, st client.Status) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "status:\t%s\n", st.Status)
	_, _ = fmt.Fprintf(tw, "since:\t%s\n", st.Timestamp.Local().Format(time.DateTime))
	if st.ProcessFound {
		_, _ = fmt.Fprintf(tw, "process:\tpid %d\n", st.PID)
	} else {
		_, _ = fmt.Fprintln(tw, "process:\tnot found")
	}
	if st.Log != nil {
		if st.Log.Active {
			_, _ = fmt.Fprintf(tw, "log:\tactive (%.0fs ago)\n", st.Log.AgeSeconds)
		} else {
			_, _ = fmt.Fprintln(tw, "log:\tidle")
		}
	}
	if st.Port != nil {
		state := "closed"
		if st.Port.Listening {
			state = "listening"
		}
		_, _ = fmt.Fprintf(tw, "port:\t%d %s\n", st.Port.Port, state)
	}
	if st.Resources != nil {
		_, _ = fmt.Fprintf(tw, "resources:\tcpu %.1f%%, mem %.0f MB, %d threads\n",
			st.Resources.CPUPercent, st.Resources.MemoryMB, st.Resources.NumThreads)
	}
	return tw.Flush()
}
