//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// isolateProcess starts the interpreter in its own process group so a
// timeout kills every descendant.
func isolateProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
