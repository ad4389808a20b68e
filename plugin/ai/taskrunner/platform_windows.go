//go:build windows

package taskrunner

import "os/exec"

func setupProcessGroup(cmd *exec.Cmd) {}

// terminateProcessGroup kills the process; Windows has no SIGTERM.
func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
