package probe

import (
	"context"
	"strings"
	"time"
)

// ProcessResult is a point-in-time answer of a ProcessProbe.
type ProcessResult struct {
	Found bool `json:"found"`
	PID   int  `json:"pid,omitempty"`
}

// ProcessProbe detects whether the server process exists.
// Implementations never return errors: any failure to look is reported as
// Found=false. They must be safe for concurrent use.
type ProcessProbe interface {
	FindServerProcess(ctx context.Context) ProcessResult
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// LogResult reports whether the server log file is being written to.
type LogResult struct {
	Active bool          `json:"active"`
	Age    time.Duration `json:"age,omitempty"`
}

// PortResult reports whether the configured game port accepts connections.
type PortResult struct {
	Listening bool `json:"listening"`
	Port      int  `json:"port,omitempty"`
}

// Signature describes how the server was launched: a runtime executable
// (java) followed somewhere by a jar argument.
type Signature struct {
	// Runtime is the executable base name, without .exe. Default "java".
	Runtime string
	// Jar is the jar file name to look for. Empty accepts any *.jar argument.
	Jar string
}

func (s Signature) runtime() string {
	if s.Runtime == "" {
		return "java"
	}
	return s.Runtime
}

// MatchArgs reports whether argv (executable first) matches the signature.
func (s Signature) MatchArgs(args []string) bool {
	if len(args) < 2 {
		return false
	}
	if !strings.EqualFold(execName(args[0]), s.runtime()) {
		return false
	}
	for _, a := range args[1:] {
		if !strings.HasSuffix(strings.ToLower(a), ".jar") {
			continue
		}
		if s.Jar == "" || strings.EqualFold(baseName(a), baseName(s.Jar)) {
			return true
		}
	}
	return false
}

// MatchCommandLine splits a flat command line and applies MatchArgs.
// A quoted executable path ("C:\Program Files\...\java.exe") is kept whole.
func (s Signature) MatchCommandLine(cmdline string) bool {
	return s.MatchArgs(splitCommandLine(cmdline))
}

func splitCommandLine(cmdline string) []string {
	cmdline = strings.TrimSpace(cmdline)
	if strings.HasPrefix(cmdline, `"`) {
		if end := strings.Index(cmdline[1:], `"`); end >= 0 {
			exe := cmdline[1 : end+1]
			return append([]string{exe}, strings.Fields(cmdline[end+2:])...)
		}
	}
	return strings.Fields(cmdline)
}

func baseName(p string) string {
	p = strings.Trim(p, `"'`)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return p
}

func execName(p string) string {
	b := baseName(p)
	if len(b) > 4 && strings.EqualFold(b[len(b)-4:], ".exe") {
		b = b[:len(b)-4]
	}
	return b
}
