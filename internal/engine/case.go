package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/CodeRushOJ/croj-runner/internal/events"
	"github.com/CodeRushOJ/croj-runner/internal/sandbox"
	"github.com/CodeRushOJ/croj-runner/internal/store"
	"github.com/CodeRushOJ/croj-runner/internal/util"
)

const (
	// chunkSize bounds the payload of one UpdateStdout/UpdateStderr event.
	chunkSize = 4096
	// drainGrace is how long output is still read after the process exited.
	drainGrace = 200 * time.Millisecond
)

// runCase executes one case. ok is false when the run was halted while the
// case was in flight; no End is emitted then.
func (r *Run) runCase(idx int, c store.IndexedCase) (res sandbox.Result, ok bool) {
	log := r.log.With("case", idx, "test", c.Index)
	expected := c.Expected
	if expected != nil && *expected == "" && !r.checker.IsCustom() {
		expected = nil
	}

	if c.Input != "" && !endsInSpace(c.Input) {
		r.emit(events.CompileError{
			Text: fmt.Sprintf("Input of case %d does not end in whitespace, this may cause stdin to wait forever for a delimiter", idx),
		})
	}

	proc, err := r.exec.Spawn()
	if err != nil {
		log.Warn("spawn failed", "err", err)
		res = sandbox.NewResult(sandbox.StatusInternalError, err)
		res.CaseIndex = idx
		res.ExitMessage = "Spawn failed: " + err.Error()
		r.emit(events.BeginCase{Input: c.Input, ExpectedOutput: c.Expected, CaseIndex: idx, TestIndex: c.Index})
		r.emitEnd(res)
		return res, !r.Halted()
	}

	cp, tracked := r.track(proc)
	if !tracked {
		go discard(proc)
		return res, false
	}
	defer r.untrack(proc)

	go func() {
		// EPIPE when the program exits without reading everything
		_, _ = io.WriteString(proc.Stdin, c.Input)
		_ = proc.Stdin.Close()
	}()

	r.emit(events.BeginCase{Input: c.Input, ExpectedOutput: c.Expected, CaseIndex: idx, TestIndex: c.Index})

	exitAt := make(chan time.Time, 1)
	go func() {
		<-proc.Exited()
		exitAt <- time.Now()
		// background children must not keep the pipes open
		_ = proc.Kill()
	}()

	var timedOut atomic.Bool
	timer := time.AfterFunc(r.settings.timeout, func() {
		select {
		case <-proc.Exited():
			return
		default:
		}
		timedOut.Store(true)
		log.Info("case timed out", "timeout", r.settings.timeout)
		_ = proc.Signal(syscall.SIGTERM)
		select {
		case <-proc.Exited():
		case <-time.After(r.settings.killGrace):
			_ = proc.Kill()
		}
	})

	monitor := util.MonitorProcess(proc.PID(), proc.Started(), r.settings.memSample, proc.Exited(), func(s util.Sample) {
		r.emit(events.UpdateTime{ElapsedMs: s.Elapsed.Milliseconds(), CaseIndex: idx})
		if s.MemoryKB >= 0 {
			r.emit(events.UpdateMemory{KB: s.MemoryKB, CaseIndex: idx})
		}
	})

	var stdout, stderr strings.Builder
	outW := sandbox.NewLimitedWriter(&stdout, r.settings.charLimit)
	errW := sandbox.NewLimitedWriter(&stderr, r.settings.charLimit)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(proc.Stdout, outW, func(chunk string) {
			r.emit(events.UpdateStdout{Chunk: chunk, CaseIndex: idx})
		})
	}()
	go func() {
		defer wg.Done()
		pump(proc.Stderr, errW, func(chunk string) {
			r.emit(events.UpdateStderr{Chunk: chunk, CaseIndex: idx})
		})
	}()
	r.drain(proc, &wg, log)

	status, waitErr := proc.Wait()
	timer.Stop()
	stats := monitor.Stop()
	elapsed := (<-exitAt).Sub(proc.Started())

	if r.Halted() {
		log.Debug("case abandoned after halt")
		return res, false
	}

	res = sandbox.Result{
		CaseIndex:      idx,
		ExitCode:       status.Code,
		Signal:         status.Signal,
		Stdout:         stdout.String(),
		Stderr:         stderr.String(),
		TimeUsedMillis: elapsed.Milliseconds(),
		MemoryUsedKB:   stats.PeakMemoryKB,
	}

	switch {
	case waitErr != nil:
		res.Status = sandbox.StatusInternalError
		res.ExitMessage = fmt.Sprintf("Wait failed: %v", waitErr)
		res.Error = waitErr.Error()
	case r.wasSkipped(cp):
		res.Status = sandbox.StatusRuntimeError
		res.ExitMessage = status.Message(false) + " (skipped)"
	default:
		res.Status = status.Classify(timedOut.Load())
		res.ExitMessage = status.Message(timedOut.Load())
	}

	if res.Status != sandbox.StatusInternalError {
		correct, err := r.checker.Check(c.Input, res.Stdout, expected)
		if err != nil {
			log.Warn("checker failed", "err", err)
			res.Status = sandbox.StatusInternalError
			res.ExitMessage = "Checker error: " + err.Error()
			res.Error = err.Error()
		}
		res.Correct = correct && err == nil
	}

	if outW.Exceeded() {
		res.Stdout += sandbox.ClippedSuffix
	}
	if errW.Exceeded() {
		res.Stderr += sandbox.ClippedSuffix
	}

	r.emit(events.UpdateTime{ElapsedMs: res.TimeUsedMillis, CaseIndex: idx})
	if res.MemoryUsedKB >= 0 {
		r.emit(events.UpdateMemory{KB: res.MemoryUsedKB, CaseIndex: idx})
	}
	r.emitEnd(res)

	log.Debug("case finished", "status", res.Status, "correct", res.Correct, "elapsed", elapsed)
	return res, !r.Halted()
}

// drain waits for both pumps to reach EOF. Once the process has exited, or the
// run is halted, the pipes are closed so a descendant still holding them
// cannot keep the case open.
func (r *Run) drain(proc *sandbox.Process, wg *sync.WaitGroup, log *slog.Logger) {
	pumped := make(chan struct{})
	go func() {
		wg.Wait()
		close(pumped)
	}()

	select {
	case <-pumped:
		return
	case <-r.ctx.Done():
	case <-proc.Exited():
		select {
		case <-pumped:
			return
		case <-r.ctx.Done():
		case <-time.After(drainGrace):
			log.Debug("output still open after exit, closing pipes")
		}
	}
	proc.CloseOutput()
	<-pumped
}

func (r *Run) emitEnd(res sandbox.Result) {
	r.emit(events.End{
		ExitMessage: res.ExitMessage,
		IsCorrect:   res.Correct,
		IsError:     res.IsError(),
		CaseIndex:   res.CaseIndex,
		Status:      string(res.Status),
	})
}

// pump copies src into capture in chunks of at most chunkSize bytes, calling
// emit for every chunk that fits under the capture limit. Data past the limit
// is drained and dropped. Incomplete UTF-8 sequences are held back until the
// next read.
func pump(src io.Reader, capture *sandbox.LimitedWriter, emit func(string)) {
	buf := make([]byte, chunkSize)
	var carry []byte

	for {
		n, err := src.Read(buf[len(carry):])
		if n > 0 {
			data := buf[:len(carry)+n]
			complete, rest := splitUTF8(data)
			if errors.Is(err, io.EOF) {
				complete, rest = data, nil
			}

			if len(complete) > 0 {
				keep(complete, capture, emit)
			}

			carry = append(carry[:0], rest...)
			copy(buf, carry)
		}
		if err != nil {
			if len(carry) > 0 {
				keep(carry, capture, emit)
			}
			return
		}
	}
}

// keep writes the part of b that fits under the capture limit, cut back to a
// rune boundary, and emits it.
func keep(b []byte, capture *sandbox.LimitedWriter, emit func(string)) {
	kept := capture.Remaining(len(b))
	if kept == len(b) {
		_, _ = capture.Write(b)
		emit(string(b))
		return
	}
	for kept > 0 && !utf8.RuneStart(b[kept]) {
		kept--
	}
	_, _ = capture.Write(b[:kept])
	capture.Stop()
	if kept > 0 {
		emit(string(b[:kept]))
	}
}

// splitUTF8 separates a trailing incomplete UTF-8 sequence from b.
func splitUTF8(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i], b[i:]
			}
			break
		}
	}
	return b, nil
}

func endsInSpace(s string) bool {
	last, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(last)
}

// discard drains and reaps a process that will not be reported.
func discard(p *sandbox.Process) {
	_ = p.Stdin.Close()
	go func() { _, _ = io.Copy(io.Discard, p.Stderr) }()
	_, _ = io.Copy(io.Discard, p.Stdout)
	_, _ = p.Wait()
}
