//go:build linux

package sandbox

import (
	"errors"

	"golang.org/x/sys/unix"
)

// watchExit calls onExit once pid has terminated, without reaping it.
func watchExit(pid int, onExit func()) {
	go func() {
		var info unix.Siginfo
		for {
			err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			break
		}
		onExit()
	}()
}
