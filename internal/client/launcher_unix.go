//go:build unix

package client

import (
	"errors"
	"os/exec"
	"syscall"
)

// setupProcessGroup detaches the engine from the host's terminal signals;
// it is stopped explicitly.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
