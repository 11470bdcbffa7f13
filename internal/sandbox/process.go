// internal/sandbox/process.go
package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/CodeRushOJ/croj-runner/internal/util"
)

// ProcessOptions configures StartProcess.
type ProcessOptions struct {
	Dir string
	Env map[string]string
}

// Process is a spawned program with piped standard streams.
//
// Stdout and Stderr must be read to EOF, or closed with CloseOutput, before
// Wait is called.
type Process struct {
	cmd     *exec.Cmd
	Stdin   io.WriteCloser
	Stdout  io.ReadCloser
	Stderr  io.ReadCloser
	started time.Time

	exited   chan struct{}
	exitOnce sync.Once
	reaped   atomic.Bool

	waitOnce sync.Once
	status   ExitStatus
	waitErr  error
}

// StartProcess spawns argv in its own process group.
func StartProcess(argv []string, opts ProcessOptions) (*Process, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), defaultEnv...)
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	util.PrepareProcessGroup(cmd)

	p := &Process{cmd: cmd, exited: make(chan struct{})}

	var err error
	if p.Stdin, err = cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	if p.Stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if p.Stderr, err = cmd.StderrPipe(); err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", argv[0], err)
	}
	p.started = time.Now()

	watchExit(cmd.Process.Pid, p.markExited)
	util.DebugLog("process started", "pid", cmd.Process.Pid, "argv", argv)
	return p, nil
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Started returns the spawn time.
func (p *Process) Started() time.Time {
	return p.started
}

// Exited is closed once the process has terminated. Where the platform allows
// it, this happens before the process is reaped, so its PID cannot be reused
// while the channel is open.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

func (p *Process) markExited() {
	p.exitOnce.Do(func() { close(p.exited) })
}

// Signal sends sig to the process group.
func (p *Process) Signal(sig syscall.Signal) error {
	if p.reaped.Load() {
		return nil
	}
	return util.SignalProcessTree(p.PID(), sig)
}

// Kill sends SIGKILL to the process group.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// CloseOutput closes the read ends of stdout and stderr, unblocking pending
// reads. A detached descendant may hold the write ends long after the process
// itself has exited.
func (p *Process) CloseOutput() {
	_ = p.Stdout.Close()
	_ = p.Stderr.Close()
}

// Wait reaps the process and returns how it ended. It is safe to call more than once.
func (p *Process) Wait() (ExitStatus, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.reaped.Store(true)
		p.markExited()

		state := p.cmd.ProcessState
		if state == nil {
			p.status = ExitStatus{Code: -1}
			p.waitErr = err
			return
		}

		p.status = ExitStatus{Code: state.ExitCode()}
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			p.status.Signal = util.SignalName(ws.Signal())
		}

		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.waitErr = err
		}
	})
	return p.status, p.waitErr
}
