// internal/sandbox/result.go
package sandbox

import (
	"errors"
	"fmt"
)

// Status represents the outcome of one test case.
type Status string

const (
	StatusSuccess       Status = "Success"        // Process exited with code 0.
	StatusTimeout       Status = "Timeout"        // Killed by the run's own timer.
	StatusRuntimeError  Status = "Runtime Error"  // Non-zero exit or killed by another signal.
	StatusInternalError Status = "Internal Error" // Process could not be spawned, or the checker failed.
	StatusCompileError  Status = "Compile Error"  // Source failed to compile; no case ran.
)

// Result holds the outcome of a single case execution.
type Result struct {
	Status         Status `json:"status"`
	CaseIndex      int    `json:"caseIndex"`
	ExitCode       int    `json:"exitCode"`         // -1 if not run or killed by a signal
	Signal         string `json:"signal,omitempty"` // e.g. "SIGKILL"
	ExitMessage    string `json:"exitMessage"`
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	Correct        bool   `json:"correct"`
	TimeUsedMillis int64  `json:"timeUsedMillis"` // -1 if not run
	MemoryUsedKB   int64  `json:"memoryUsedKB"`   // peak sampled value, -1 if never sampled
	Error          string `json:"error,omitempty"`
}

// IsOK reports whether the case ran cleanly and produced the expected output.
func (r *Result) IsOK() bool {
	return r.Status == StatusSuccess && r.Correct
}

// IsError reports whether the case failed for a reason other than wrong output.
func (r *Result) IsError() bool {
	return r.Status != StatusSuccess
}

// NewResult creates a basic result with a given status and potential error.
func NewResult(status Status, err error) Result {
	res := Result{
		Status:         status,
		ExitCode:       -1,
		TimeUsedMillis: -1,
		MemoryUsedKB:   -1,
	}
	if err != nil {
		res.Error = err.Error()
		res.ExitMessage = err.Error()
	}
	return res
}

// ExitStatus is what the OS reported when a process ended.
type ExitStatus struct {
	Code   int    // -1 when terminated by a signal
	Signal string // empty unless terminated by a signal
}

// Signaled reports whether the process was terminated by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Signal != ""
}

// Message formats the exit status for display. timedOut marks a kill issued by
// the run's timeout timer.
func (s ExitStatus) Message(timedOut bool) string {
	if s.Signaled() {
		msg := "Killed by signal: " + s.Signal
		if timedOut {
			msg += " (timeout: possible infinite loop)"
		}
		return msg
	}

	msg := fmt.Sprintf("Exit code: %d", s.Code)
	switch {
	case s.Code > 255:
		msg += " (possible segmentation fault)"
	case s.Code == 3:
		msg += " (possible assertion failure)"
	}
	// a program may trap SIGTERM and exit normally
	if timedOut {
		msg += " (timeout: possible infinite loop)"
	}
	return msg
}

// Classify maps an exit status to a case status.
func (s ExitStatus) Classify(timedOut bool) Status {
	switch {
	case timedOut:
		return StatusTimeout
	case s.Signaled() || s.Code != 0:
		return StatusRuntimeError
	default:
		return StatusSuccess
	}
}

// Predefined sandbox errors
var (
	ErrUnsupportedExtension = errors.New("unsupported source file extension")
	ErrNotCompiled          = errors.New("source not compiled")
	ErrEmptyCommand         = errors.New("empty command")
	ErrHostTempDir          = errors.New("failed to manage host temporary directory")
)
