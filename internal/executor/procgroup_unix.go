//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs the command in its own process group and makes
// cancellation kill the whole group, so children of the interpreter cannot
// keep the output pipes open.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
