//go:build !unix

package util

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// PrepareProcessGroup is a no-op where process groups are not available.
func PrepareProcessGroup(cmd *exec.Cmd) {}

// SignalProcessTree kills pid; other signals are not deliverable on this platform.
func SignalProcessTree(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	return proc.Kill()
}

// TerminateProcessTree 终止进程及其子进程
func TerminateProcessTree(pid int) error {
	return SignalProcessTree(pid, syscall.SIGKILL)
}

// SignalName returns a printable name for sig.
func SignalName(sig syscall.Signal) string {
	return sig.String()
}
