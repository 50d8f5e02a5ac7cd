package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath  string
	APIUrl      string
	APITimeout  time.Duration
	APIInsecure bool
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	Simple  bool
	Refresh bool
	JSON    bool
}

// HistoryFlags holds flags for the history command.
type HistoryFlags struct {
	Limit int
	JSON  bool
}

// buildRoot assembles the command tree.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	cli := command{flags: globalFlags}

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(cli),
		createStartCommand(cli),
		createStopCommand(cli),
		createHistoryCommand(cli),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "mcpanel",
		Short: "Minecraft server control panel",
		Long: `mcpanel runs a Minecraft server inside a managed shell, tracks whether it
is stopped, starting, running or stopping, and exposes that state over HTTP,
server-sent events and WebSocket.

Examples:
  mcpanel serve mcpanel.toml        # Run the panel
  mcpanel status                    # online / offline / starting / stopping
  mcpanel start --api-url=http://host:8080/api
  mcpanel stop`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (.toml or .properties)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "panel API URL (default derived from --config, else http://localhost:8080/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&flags.APIInsecure, "api-insecure", false, "skip TLS verification for https API URLs")
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config]",
		Short: "Run the panel",
		Long: `Run the panel: start the server shell, detect the current server state and
serve the HTTP API until SIGINT or SIGTERM. A running Minecraft server is
stopped gracefully on shutdown.

Examples:
  mcpanel serve                     # Use --config or MCPANEL_* environment
  mcpanel serve /etc/mcpanel.toml
  mcpanel serve --daemonize --pidfile=/run/mcpanel.pid --logfile=/var/log/mcpanel.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if serveFlags.Daemonize {
				return daemonize(serveFlags.PidFile, serveFlags.LogFile)
			}
			if serveFlags.PidFile != "" {
				if err := writePidFile(serveFlags.PidFile, os.Getpid()); err != nil {
					return fmt.Errorf("write pid file: %w", err)
				}
				defer func() { _ = removePidFile(serveFlags.PidFile) }()
			}
			return runServe(cmd.Context(), path)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the panel PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func createStatusCommand(cli command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long: `Show the Minecraft server status as seen by the panel.

Examples:
  mcpanel status                    # Detailed status
  mcpanel status --simple           # online, offline, starting or stopping
  mcpanel status --refresh --json   # Probe the process first, print JSON`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Status(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.Simple, "simple", false, "print only online/offline/starting/stopping")
	cmd.Flags().BoolVar(&f.Refresh, "refresh", false, "probe the process before answering")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

func createStartCommand(cli command) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the Minecraft server",
		Long: `Start the Minecraft server. Only accepted while the server is stopped.

Examples:
  mcpanel start
  mcpanel start --api-url=http://remote:8080/api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Action(cmd.Context(), cmd.OutOrStdout(), "start")
		},
	}
}

func createStopCommand(cli command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the Minecraft server",
		Long: `Stop the Minecraft server by typing its stop command into the console.
Stopping an already stopped server succeeds without doing anything.

Examples:
  mcpanel stop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Action(cmd.Context(), cmd.OutOrStdout(), "stop")
		},
	}
}

func createHistoryCommand(cli command) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded status transitions",
		Long: `Show recent status transitions, newest first. Requires history to be
enabled with at least one sqlite, postgres, clickhouse or opensearch sink.

Examples:
  mcpanel history --limit=20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.History(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "number of events")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}
