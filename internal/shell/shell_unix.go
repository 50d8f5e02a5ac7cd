//go:build !windows

package shell

import (
	"os"
	"os/exec"
	"syscall"
)

// shellCommand returns the session shell for Unix systems. The shell reads
// commands from stdin.
func shellCommand(program string) *exec.Cmd {
	if program == "" {
		program = "/bin/sh"
	}
	// #nosec G204
	return exec.Command(program)
}

// configureSysProcAttr places the shell in its own process group so Close
// can take down the server it launched along with it.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killTree(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		return p.Kill()
	}
	return nil
}
