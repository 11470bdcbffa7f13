//go:build !linux

package sandbox

// watchExit is unavailable here; Exited closes when the process is reaped.
func watchExit(pid int, onExit func()) {
}
