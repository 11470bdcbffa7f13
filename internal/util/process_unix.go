//go:build unix

package util

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// PrepareProcessGroup makes cmd the leader of a new process group so the whole
// tree can be signalled at once.
func PrepareProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// SignalProcessTree sends sig to the process group led by pid, falling back to
// pid and its direct children when the group cannot be signalled.
func SignalProcessTree(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	err := unix.Kill(-pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	DebugLog("process group signal failed, signalling tree", "pid", pid, "signal", SignalName(sig), "err", err)

	if children, cerr := getChildProcesses(pid); cerr == nil {
		for _, child := range children {
			_ = unix.Kill(child, sig)
		}
	}
	if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s to pid %d: %w", SignalName(sig), pid, err)
	}
	return nil
}

// TerminateProcessTree 终止进程及其子进程
func TerminateProcessTree(pid int) error {
	return SignalProcessTree(pid, unix.SIGKILL)
}

// SignalName returns the conventional name of sig, e.g. "SIGTERM".
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}
