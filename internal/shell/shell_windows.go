//go:build windows

package shell

import (
	"os"
	"os/exec"
	"strconv"
)

// shellCommand returns the session shell for Windows systems.
func shellCommand(program string) *exec.Cmd {
	if program == "" {
		program = "cmd.exe"
	}
	// #nosec G204
	return exec.Command(program, "/Q")
}

func configureSysProcAttr(*exec.Cmd) {}

func killTree(p *os.Process) error {
	// #nosec G204
	if err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(p.Pid)).Run(); err != nil {
		return p.Kill()
	}
	return nil
}
