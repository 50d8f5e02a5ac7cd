package probe

import (
	"context"
	"log/slog"
	"os"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// NativeProbe walks the process table through gopsutil (/proc on Linux,
// sysctl on BSD/macOS, Win32 APIs on Windows) instead of parsing tool output.
type NativeProbe struct {
	sig    Signature
	logger *slog.Logger
}

func NewNativeProbe(sig Signature, logger *slog.Logger) *NativeProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &NativeProbe{sig: sig, logger: logger}
}

func (p *NativeProbe) FindServerProcess(ctx context.Context) ProcessResult {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		p.logger.Debug("process enumeration failed", "error", err)
		return ProcessResult{}
	}
	self := int32(os.Getpid())
	for _, pr := range procs {
		if pr.Pid == self {
			continue
		}
		// processes may exit or be unreadable between listing and inspection
		args, err := pr.CmdlineSliceWithContext(ctx)
		if err != nil || len(args) == 0 {
			continue
		}
		if p.sig.MatchArgs(args) {
			return ProcessResult{Found: true, PID: int(pr.Pid)}
		}
	}
	return ProcessResult{}
}

func (p *NativeProbe) Describe() string {
	return "native:" + p.sig.runtime() + " -jar " + jarOrAny(p.sig.Jar)
}
