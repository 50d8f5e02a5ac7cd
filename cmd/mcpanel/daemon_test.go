package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
)

func TestPidFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "mcpanel.pid")
	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("writePidFile failed: %v", err)
	}
	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if string(b) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file content %q", b)
	}
	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("removePidFile failed: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("PID file was not removed")
	}
	if err := removePidFile(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}

func TestDaemonArgs(t *testing.T) {
	in := []string{"serve", "--daemonize", "--pidfile", "/run/a.pid", "--logfile=/tmp/x.log", "--config", "c.toml"}
	want := []string{"serve", "--config", "c.toml"}
	if got := daemonArgs(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("daemonArgs = %v, want %v", got, want)
	}
}
