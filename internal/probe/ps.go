package probe

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- fixed command names, no user input
	return exec.CommandContext(ctx, name, args...).Output()
}

// PSProbe finds the server by listing processes with the host's own tool:
// `ps auxww` on Unix, `wmic ... /format:csv` on Windows.
type PSProbe struct {
	sig    Signature
	goos   string
	run    runner
	logger *slog.Logger
}

// NewPSProbe returns a PSProbe for the current platform.
func NewPSProbe(sig Signature, logger *slog.Logger) *PSProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &PSProbe{sig: sig, goos: runtime.GOOS, run: execRunner, logger: logger}
}

func (p *PSProbe) FindServerProcess(ctx context.Context) ProcessResult {
	var (
		out []byte
		err error
	)
	if p.goos == "windows" {
		out, err = p.run(ctx, "wmic", "process", "where", "name like '%java%'", "get", "CommandLine,ProcessId", "/format:csv")
	} else {
		out, err = p.run(ctx, "ps", "auxww")
	}
	if err != nil {
		p.logger.Debug("process listing failed", "error", err)
		return ProcessResult{}
	}
	var pid int
	var ok bool
	if p.goos == "windows" {
		pid, ok = parseWMIC(string(out), p.sig)
	} else {
		pid, ok = parsePS(string(out), p.sig)
	}
	if !ok {
		return ProcessResult{}
	}
	return ProcessResult{Found: true, PID: pid}
}

func (p *PSProbe) Describe() string { return "ps:" + p.sig.runtime() + " -jar " + jarOrAny(p.sig.Jar) }

func jarOrAny(j string) string {
	if j == "" {
		return "*.jar"
	}
	return j
}

// psCommandColumn is the index of COMMAND in `ps aux` output:
// USER PID %CPU %MEM VSZ RSS TTY STAT START TIME COMMAND
const psCommandColumn = 10

// parsePS scans `ps aux` output. The PID is the first numeric token after the
// user column.
func parsePS(out string, sig Signature) (int, bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) <= psCommandColumn {
			continue
		}
		if !sig.MatchArgs(fields[psCommandColumn:]) {
			continue
		}
		for _, f := range fields[1:] {
			if pid, err := strconv.Atoi(f); err == nil && pid > 0 {
				return pid, true
			}
		}
	}
	return 0, false
}

// parseWMIC scans `wmic process get CommandLine,ProcessId /format:csv` output.
// Rows are Node,CommandLine,ProcessId; CommandLine itself may contain commas
// so only the first and last separators are significant.
func parseWMIC(out string, sig Signature) (int, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		first := strings.IndexByte(line, ',')
		last := strings.LastIndexByte(line, ',')
		if first < 0 || last <= first {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(line[last+1:]))
		if err != nil || pid <= 0 {
			continue
		}
		if sig.MatchCommandLine(line[first+1 : last]) {
			return pid, true
		}
	}
	return 0, false
}
