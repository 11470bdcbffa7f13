// internal/sandbox/executor.go
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/CodeRushOJ/croj-runner/internal/util"
)

// CompileOutput is the outcome of Executor.Compile.
type CompileOutput struct {
	Diagnostics string // compiler output, empty when clean
	Fatal       bool   // no runnable artifact was produced
}

// Status is StatusCompileError for a fatal compile and StatusSuccess otherwise.
func (o CompileOutput) Status() Status {
	if o.Fatal {
		return StatusCompileError
	}
	return StatusSuccess
}

// Executor compiles (optionally) and spawns one source file.
type Executor interface {
	// Compile prepares a runnable artifact. Interpreted executors return an
	// empty output.
	Compile(ctx context.Context) CompileOutput
	// Spawn starts a new process for the source. Compiled executors fail
	// with ErrNotCompiled until Compile has produced an artifact.
	Spawn() (*Process, error)
	// Cleanup removes any artifact. It is idempotent.
	Cleanup() error
	// Source returns the source file path.
	Source() string
}

// ExecutorOptions carries per-run settings into an executor.
type ExecutorOptions struct {
	CompilerArgs   string
	CompileTimeout time.Duration // 0 = language or package default
	Logger         *slog.Logger
}

// interpretedExecutor runs the source file through an interpreter.
type interpretedExecutor struct {
	lang LanguageConfig
	src  string
	log  *slog.Logger
}

func newInterpreted(lang LanguageConfig, src string, opts ExecutorOptions) Executor {
	return &interpretedExecutor{lang: lang, src: src, log: util.OrDefault(opts.Logger)}
}

func (e *interpretedExecutor) Compile(ctx context.Context) CompileOutput { return CompileOutput{} }

func (e *interpretedExecutor) Spawn() (*Process, error) {
	return spawnCommand(e.lang, e.src, "")
}

func (e *interpretedExecutor) Cleanup() error { return nil }

func (e *interpretedExecutor) Source() string { return e.src }

// compiledExecutor invokes an external compiler that writes an artifact next to the source.
type compiledExecutor struct {
	lang     LanguageConfig
	src      string
	artifact string
	opts     ExecutorOptions
	log      *slog.Logger

	mu       sync.Mutex
	compiled bool
	cleaned  bool
}

func newCompiled(lang LanguageConfig, src string, opts ExecutorOptions) Executor {
	stem := strings.TrimSuffix(src, filepath.Ext(src))
	return &compiledExecutor{
		lang:     lang,
		src:      src,
		artifact: stem + lang.artifactSuffix(),
		opts:     opts,
		log:      util.OrDefault(opts.Logger),
	}
}

func (e *compiledExecutor) Compile(ctx context.Context) CompileOutput {
	out := compileSource(ctx, e.lang, e.src, e.artifact, e.opts, e.log)

	e.mu.Lock()
	e.compiled = !out.Fatal
	e.cleaned = false
	e.mu.Unlock()
	return out
}

func (e *compiledExecutor) Spawn() (*Process, error) {
	e.mu.Lock()
	ready := e.compiled && !e.cleaned
	e.mu.Unlock()
	if !ready {
		return nil, fmt.Errorf("%w: %s", ErrNotCompiled, e.src)
	}
	return spawnCommand(e.lang, e.src, e.artifact)
}

func (e *compiledExecutor) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.compiled = false
	if e.cleaned {
		return nil
	}
	e.cleaned = true

	if err := os.Remove(e.artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.Warn("failed to remove artifact", "path", e.artifact, "err", err)
		return fmt.Errorf("remove artifact %s: %w", e.artifact, err)
	}
	e.log.Debug("artifact removed", "path", e.artifact)
	return nil
}

func (e *compiledExecutor) Source() string { return e.src }

func spawnCommand(lang LanguageConfig, src, artifact string) (*Process, error) {
	argv, err := util.ProcessCommandTemplate(lang.Run.Command, map[string]string{
		PlaceholderSrcPath: src,
		PlaceholderExePath: artifact,
		PlaceholderSrcDir:  filepath.Dir(src),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyCommand, err)
	}
	return StartProcess(argv, ProcessOptions{Dir: filepath.Dir(src), Env: lang.Run.Env})
}

// --- LimitedWriter ---

// LimitedWriter wraps an io.Writer but stops writing after a certain limit.
type LimitedWriter struct {
	w        io.Writer
	limit    int64
	written  int64
	mu       sync.Mutex
	exceeded bool
	stopped  bool
}

// NewLimitedWriter creates a new LimitedWriter. A limit <= 0 means unlimited.
func NewLimitedWriter(w io.Writer, limit int64) *LimitedWriter {
	return &LimitedWriter{w: w, limit: limit}
}

// Write never fails for data beyond the limit; it is silently discarded.
func (lw *LimitedWriter) Write(p []byte) (n int, err error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.stopped {
		lw.exceeded = lw.exceeded || len(p) > 0
		return len(p), nil
	}

	if lw.limit <= 0 {
		n, err = lw.w.Write(p)
		lw.written += int64(n)
		return n, err
	}

	remaining := lw.limit - lw.written
	if remaining <= 0 {
		lw.exceeded = lw.exceeded || len(p) > 0
		return len(p), nil
	}

	writeLen := int64(len(p))
	if writeLen > remaining {
		writeLen = remaining
		lw.exceeded = true
	}

	n, err = lw.w.Write(p[:writeLen])
	lw.written += int64(n)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// Exceeded reports whether any data was discarded.
func (lw *LimitedWriter) Exceeded() bool {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.exceeded
}

// Remaining returns how many of the next n bytes would be kept.
func (lw *LimitedWriter) Remaining(n int) int {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.stopped {
		return 0
	}
	if lw.limit <= 0 {
		return n
	}
	left := lw.limit - lw.written
	if left <= 0 {
		return 0
	}
	if int64(n) > left {
		return int(left)
	}
	return n
}

// Full reports whether the limit has been reached.
func (lw *LimitedWriter) Full() bool {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.stopped || (lw.limit > 0 && lw.written >= lw.limit)
}

// Stop marks the output as clipped and discards everything written later.
func (lw *LimitedWriter) Stop() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.stopped = true
	lw.exceeded = true
}
