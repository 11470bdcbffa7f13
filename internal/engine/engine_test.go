package engine

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeRushOJ/croj-runner/internal/checker"
	"github.com/CodeRushOJ/croj-runner/internal/events"
	"github.com/CodeRushOJ/croj-runner/internal/options"
	"github.com/CodeRushOJ/croj-runner/internal/sandbox"
	"github.com/CodeRushOJ/croj-runner/internal/store"
)

const (
	doubleScript = "read x\necho $((x * 2))\n"

	compileScript = `src=$1; exe=$2; shift 2
if [ $# -gt 0 ]; then echo "warning: args $*" >&2; fi
if grep -q COMPILE_FAIL "$src"; then echo "error: bad source" >&2; exit 1; fi
cp "$src" "$exe" && chmod +x "$exe"
`
)

type harness struct {
	t     *testing.T
	dir   string
	m     *Manager
	rec   *events.Recorder
	store *store.Store
	opts  *options.Options
	reg   *sandbox.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "tests"), nil)
	require.NoError(t, err)

	opts := options.New()
	require.NoError(t, opts.Set(options.CategoryBuildAndRun, options.KeyTimeout, 5000))
	require.NoError(t, opts.Set(options.CategoryBuildAndRun, options.KeyMemSample, 1000))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "compile.sh"), []byte(compileScript), 0o644))
	reg := sandbox.NewRegistry(sandbox.DefaultConfig())
	reg.Register("fake", sandbox.LanguageConfig{
		Name:    "fake",
		Compile: sandbox.CompileConfig{Command: "sh compile.sh {{SRC_PATH}} {{EXE_PATH}} {{ARGS}}"},
		Run:     sandbox.RunConfig{Command: "{{EXE_PATH}}"},
	})
	reg.Register("broken", sandbox.LanguageConfig{
		Run: sandbox.RunConfig{Command: "/nonexistent/interpreter {{SRC_PATH}}"},
	})

	h := &harness{t: t, dir: dir, rec: &events.Recorder{}, store: st, opts: opts, reg: reg}
	h.m = NewManager(Config{
		Registry:    reg,
		Cases:       st,
		Options:     opts,
		Sink:        h.rec,
		CheckerRoot: dir,
		KillGrace:   200 * time.Millisecond,
	})
	h.autoAck()
	return h
}

func (h *harness) autoAck() {
	h.rec.OnEmit = func(e events.Envelope) {
		if _, ok := e.Event.(events.Reset); ok {
			_ = h.m.ResetAcknowledged()
		}
	}
}

func (h *harness) source(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) set(name string, cases ...store.TestCase) {
	h.t.Helper()
	require.NoError(h.t, h.store.AddSet(name))
	for _, tc := range cases {
		_, err := h.store.AppendCase(name, tc)
		require.NoError(h.t, err)
	}
}

func (h *harness) start(src, set string) *Run {
	h.t.Helper()
	r, err := h.m.Start(context.Background(), StartRequest{Source: src, TestSet: set})
	require.NoError(h.t, err)
	return r
}

func (h *harness) wait(r *Run) []sandbox.Result {
	h.t.Helper()
	select {
	case <-r.Done():
	case <-time.After(15 * time.Second):
		h.t.Fatal("run did not finish")
	}
	return r.Results()
}

func (h *harness) events(kinds ...events.Kind) []events.Event {
	var out []events.Event
	for _, ev := range h.rec.Events() {
		for _, k := range kinds {
			if ev.Kind() == k {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

func (h *harness) ends() []events.End {
	var out []events.End
	for _, ev := range h.events(events.KindEnd) {
		out = append(out, ev.(events.End))
	}
	return out
}

func enabled(in string, out *string) store.TestCase {
	return store.TestCase{Input: in, Expected: out, Enabled: true}
}

func strPtr(s string) *string { return &s }

// collapse merges consecutive events of the same kind, so chunked output
// compares as one step.
func collapse(evs []events.Event) []events.Kind {
	var out []events.Kind
	for _, ev := range evs {
		if len(out) == 0 || out[len(out)-1] != ev.Kind() {
			out = append(out, ev.Kind())
		}
	}
	return out
}

func TestRunDoublesInput(t *testing.T) {
	h := newHarness(t)
	h.set("default", enabled("3\n", strPtr("6\n")), enabled("4\n", strPtr("8\n")))
	src := h.source("double.sh", doubleScript)

	results := h.wait(h.start(src, ""))

	seq := h.events(events.KindReset, events.KindBeginCase, events.KindUpdateStdout, events.KindEnd)
	assert.Equal(t, []events.Kind{
		events.KindReset,
		events.KindBeginCase, events.KindUpdateStdout, events.KindEnd,
		events.KindBeginCase, events.KindUpdateStdout, events.KindEnd,
	}, collapse(seq))
	assert.Equal(t, events.Reset{CaseCount: 2}, seq[0])

	var out strings.Builder
	for _, ev := range h.events(events.KindUpdateStdout) {
		if ev.(events.UpdateStdout).CaseIndex == 0 {
			out.WriteString(ev.(events.UpdateStdout).Chunk)
		}
	}
	assert.Equal(t, "6\n", out.String())

	ends := h.ends()
	require.Len(t, ends, 2)
	for i, end := range ends {
		assert.Equal(t, i, end.CaseIndex)
		assert.True(t, end.IsCorrect)
		assert.False(t, end.IsError)
		assert.Equal(t, "Exit code: 0", end.ExitMessage)
	}

	require.Len(t, results, 2)
	assert.Equal(t, sandbox.StatusSuccess, results[1].Status)
	assert.Equal(t, "8\n", results[1].Stdout)
	assert.True(t, results[1].IsOK())

	envs := h.rec.Envelopes()
	for i := 1; i < len(envs); i++ {
		assert.Equal(t, envs[i-1].Seq+1, envs[i].Seq)
		assert.Equal(t, envs[0].RunID, envs[i].RunID)
	}

	// events of one case never appear outside its BeginCase..End window
	current := -1
	for _, ev := range h.rec.Events() {
		switch e := ev.(type) {
		case events.BeginCase:
			current = e.CaseIndex
		case events.End:
			assert.Equal(t, current, e.CaseIndex)
			current = -1
		default:
			if idx := events.CaseIndex(ev); idx >= 0 {
				assert.Equal(t, current, idx, "%T outside its case", ev)
			}
		}
	}

	assert.Equal(t, StateIdle, h.m.State())
	assert.Nil(t, h.m.Current())
}

func TestWrongAnswerAndAbsentExpected(t *testing.T) {
	h := newHarness(t)
	h.set("default", enabled("3\n", strPtr("7\n")), enabled("5\n", nil), enabled("1\n", strPtr("")))
	src := h.source("double.sh", doubleScript)

	h.wait(h.start(src, "default"))

	ends := h.ends()
	require.Len(t, ends, 3)
	assert.False(t, ends[0].IsCorrect)
	assert.False(t, ends[0].IsError)
	assert.True(t, ends[1].IsCorrect, "no expected output means nothing to compare")
	assert.True(t, ends[2].IsCorrect, "empty expected output is treated as absent")
}

func TestPerSetChecker(t *testing.T) {
	h := newHarness(t)
	h.set("strict", enabled("3\n", strPtr("6")))
	require.NoError(t, h.store.SetChecker("strict", string(checker.ModeIdentical)))
	src := h.source("double.sh", doubleScript)

	h.wait(h.start(src, "strict"))

	ends := h.ends()
	require.Len(t, ends, 1)
	assert.False(t, ends[0].IsCorrect)
}

func TestRuntimeErrorDoesNotStopRun(t *testing.T) {
	h := newHarness(t)
	h.set("default", enabled("3\n", nil), enabled("0\n", strPtr("ok\n")))
	src := h.source("assert.sh", "read x\nif [ \"$x\" = 3 ]; then echo fail >&2; exit 3; fi\necho ok\n")

	results := h.wait(h.start(src, ""))

	ends := h.ends()
	require.Len(t, ends, 2)
	assert.Equal(t, "Exit code: 3 (possible assertion failure)", ends[0].ExitMessage)
	assert.True(t, ends[0].IsError)
	assert.Equal(t, string(sandbox.StatusRuntimeError), ends[0].Status)
	assert.True(t, ends[1].IsCorrect)
	assert.False(t, ends[1].IsError)

	require.Len(t, results, 2)
	assert.Equal(t, "fail\n", results[0].Stderr)
	assert.Equal(t, 3, results[0].ExitCode)
}

func TestTimeoutKillsProcess(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.opts.Set(options.CategoryBuildAndRun, options.KeyTimeout, 300))
	h.set("default", enabled("\n", nil))
	src := h.source("loop.sh", "while :; do :; done\n")

	started := time.Now()
	results := h.wait(h.start(src, ""))
	assert.Less(t, time.Since(started), 5*time.Second)

	ends := h.ends()
	require.Len(t, ends, 1)
	assert.Equal(t, string(sandbox.StatusTimeout), ends[0].Status)
	assert.Equal(t, "Killed by signal: SIGTERM (timeout: possible infinite loop)", ends[0].ExitMessage)
	assert.True(t, ends[0].IsError)

	require.Len(t, results, 1)
	assert.GreaterOrEqual(t, results[0].TimeUsedMillis, int64(300))
}

func TestTimeoutHintWhenTermIsTrapped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.opts.Set(options.CategoryBuildAndRun, options.KeyTimeout, 300))
	h.set("default", enabled("\n", nil))
	src := h.source("trap.sh", "trap 'exit 0' TERM\nwhile :; do sleep 0.05; done\n")

	results := h.wait(h.start(src, ""))

	ends := h.ends()
	require.Len(t, ends, 1)
	assert.Equal(t, string(sandbox.StatusTimeout), ends[0].Status)
	assert.Equal(t, "Exit code: 0 (timeout: possible infinite loop)", ends[0].ExitMessage)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].ExitCode)
}

func TestHaltMidRun(t *testing.T) {
	h := newHarness(t)
	h.set("default", enabled("1\n", nil), enabled("2\n", nil))
	src := h.source("slow.sh", "echo started\nsleep 30\n")

	h.rec.OnEmit = func(e events.Envelope) {
		switch ev := e.Event.(type) {
		case events.Reset:
			_ = h.m.ResetAcknowledged()
		case events.UpdateStdout:
			if ev.CaseIndex == 0 {
				assert.NoError(t, h.m.Halt())
			}
		}
	}

	r := h.start(src, "")
	started := time.Now()
	results := h.wait(r)
	assert.Less(t, time.Since(started), 10*time.Second)

	assert.True(t, r.Halted())
	assert.Empty(t, results)
	assert.Empty(t, h.ends(), "a halted case reports no End")
	for _, ev := range h.events(events.KindBeginCase) {
		assert.Equal(t, 0, ev.(events.BeginCase).CaseIndex)
	}

	assert.ErrorIs(t, h.m.Halt(), ErrNotRunning)
	assert.Equal(t, StateIdle, h.m.State())

	// a fresh run starts cleanly afterwards
	h.autoAck()
	h.rec.Reset()
	quick := h.source("quick.sh", "echo done\n")
	results = h.wait(h.start(quick, ""))
	assert.Len(t, results, 2)
	assert.Len(t, h.ends(), 2)
}

func TestHaltWhileAwaitingReset(t *testing.T) {
	h := newHarness(t)
	h.rec.OnEmit = nil
	h.set("default", enabled("1\n", nil))
	src := h.source("echo.sh", "cat\n")

	r := h.start(src, "")
	_, err := h.m.Start(context.Background(), StartRequest{Source: src})
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.Eventually(t, func() bool { return len(h.rec.Events()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, h.m.Halt())
	r.halt()
	h.wait(r)

	assert.Equal(t, []events.Kind{events.KindReset}, h.rec.Kinds())
	assert.ErrorIs(t, h.m.ResetAcknowledged(), ErrNotRunning)
	assert.ErrorIs(t, h.m.SkipCase(), ErrNotRunning)
}

func TestHaltAndWait(t *testing.T) {
	h := newHarness(t)
	h.rec.OnEmit = nil
	h.set("default", enabled("1\n", nil))
	src := h.source("echo.sh", "cat\n")

	assert.NoError(t, h.m.HaltAndWait(context.Background()), "idle manager")

	r := h.start(src, "")
	require.NoError(t, h.m.HaltAndWait(context.Background()))
	select {
	case <-r.Done():
	default:
		t.Fatal("run not finalized")
	}
	assert.Nil(t, h.m.Current())
}

func requireSetsid(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("needs linux sessions")
	}
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not installed")
	}
}

func TestHaltWithDetachedDescendant(t *testing.T) {
	requireSetsid(t)
	h := newHarness(t)
	h.set("default", enabled("1\n", nil))
	// the detached sleep holds stdout and survives the group kill
	src := h.source("detach.sh", "setsid sleep 8 &\necho started\nsleep 30\n")

	h.rec.OnEmit = func(e events.Envelope) {
		switch e.Event.(type) {
		case events.Reset:
			_ = h.m.ResetAcknowledged()
		case events.UpdateStdout:
			assert.NoError(t, h.m.Halt())
		}
	}

	r := h.start(src, "")
	select {
	case <-r.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("halt did not unwind while a descendant held the output")
	}
	assert.True(t, r.Halted())
	assert.Empty(t, h.ends())
	assert.Equal(t, StateIdle, h.m.State())
}

func TestExitWithDetachedDescendant(t *testing.T) {
	requireSetsid(t)
	h := newHarness(t)
	require.NoError(t, h.opts.Set(options.CategoryBuildAndRun, options.KeyTimeout, 150))
	h.set("default", enabled("\n", strPtr("done\n")))
	src := h.source("detach.sh", "setsid sleep 5 &\necho done\n")

	started := time.Now()
	results := h.wait(h.start(src, ""))
	assert.Less(t, time.Since(started), 3*time.Second)

	require.Len(t, results, 1)
	assert.Equal(t, sandbox.StatusSuccess, results[0].Status, "an exited process is never timed out")
	assert.Equal(t, "Exit code: 0", results[0].ExitMessage)
	assert.True(t, results[0].Correct)
	assert.Equal(t, "done\n", results[0].Stdout)
}

func TestHaltDuringCompile(t *testing.T) {
	h := newHarness(t)
	h.source("slowcompile.sh", "touch \"$2.started\"\nsleep 30\ncp \"$1\" \"$2\"\n")
	h.reg.Register("slow", sandbox.LanguageConfig{
		Compile: sandbox.CompileConfig{Command: "sh slowcompile.sh {{SRC_PATH}} {{EXE_PATH}}"},
		Run:     sandbox.RunConfig{Command: "{{EXE_PATH}}"},
	})
	h.set("default", enabled("1\n", nil))
	src := h.source("prog.slow", "#!/bin/sh\necho never\n")
	artifact := filepath.Join(h.dir, "prog"+sandbox.DefaultArtifactSuffix)

	r := h.start(src, "")
	require.Eventually(t, func() bool {
		_, err := os.Stat(artifact + ".started")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "compiler never started")
	assert.Equal(t, StateCompiling, r.State())

	require.NoError(t, h.m.Halt())
	select {
	case <-r.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("halt did not abort the compiler")
	}

	assert.True(t, r.Halted())
	assert.Empty(t, h.events(events.KindBeginCase), "no case starts after a halt during compile")
	assert.Empty(t, h.ends())
	assert.Empty(t, r.Results())
	assert.NoFileExists(t, artifact)
	assert.Equal(t, StateIdle, h.m.State())
}

func TestHaltRemovesArtifact(t *testing.T) {
	h := newHarness(t)
	h.set("default", enabled("1\n", nil), enabled("2\n", nil))
	src := h.source("prog.fake", "#!/bin/sh\necho started\nsleep 30\n")
	artifact := filepath.Join(h.dir, "prog"+sandbox.DefaultArtifactSuffix)

	h.rec.OnEmit = func(e events.Envelope) {
		switch e.Event.(type) {
		case events.Reset:
			_ = h.m.ResetAcknowledged()
		case events.UpdateStdout:
			assert.FileExists(t, artifact)
			assert.NoError(t, h.m.Halt())
		}
	}

	r := h.start(src, "")
	h.wait(r)

	assert.True(t, r.Halted())
	assert.Equal(t, sandbox.StatusSuccess, r.CompileStatus())
	assert.Empty(t, h.ends())
	assert.NoFileExists(t, artifact, "artifact removed after a halt")
}

// countingExecutor runs .count sources with sh and counts Cleanup calls.
type countingExecutor struct {
	src      string
	cleanups *atomic.Int32
}

func (e *countingExecutor) Compile(context.Context) sandbox.CompileOutput {
	return sandbox.CompileOutput{}
}

func (e *countingExecutor) Spawn() (*sandbox.Process, error) {
	return sandbox.StartProcess([]string{"sh", e.src}, sandbox.ProcessOptions{Dir: filepath.Dir(e.src)})
}

func (e *countingExecutor) Cleanup() error {
	e.cleanups.Add(1)
	return nil
}

func (e *countingExecutor) Source() string { return e.src }

func TestCleanupOncePerRun(t *testing.T) {
	h := newHarness(t)
	var cleanups atomic.Int32
	h.reg.RegisterFactory("count", sandbox.LanguageConfig{}, func(_ sandbox.LanguageConfig, src string, _ sandbox.ExecutorOptions) sandbox.Executor {
		return &countingExecutor{src: src, cleanups: &cleanups}
	})
	h.set("default", enabled("1\n", nil), enabled("2\n", nil))

	quick := h.source("quick.count", "echo ok\n")
	results := h.wait(h.start(quick, ""))
	assert.Len(t, results, 2)
	assert.Equal(t, int32(1), cleanups.Load())

	cleanups.Store(0)
	slow := h.source("slow.count", "echo started\nsleep 30\n")
	h.rec.OnEmit = func(e events.Envelope) {
		switch e.Event.(type) {
		case events.Reset:
			_ = h.m.ResetAcknowledged()
		case events.UpdateStdout:
			_ = h.m.Halt()
		}
	}
	r := h.start(slow, "")
	h.wait(r)
	assert.True(t, r.Halted())
	assert.Equal(t, int32(1), cleanups.Load(), "a halted run cleans up once")
}

func TestSkipCase(t *testing.T) {
	h := newHarness(t)
	h.set("default", enabled("slow\n", nil), enabled("fast\n", strPtr("fast\n")))
	src := h.source("skip.sh", "read x\nif [ \"$x\" = slow ]; then sleep 30; fi\necho $x\n")

	h.rec.OnEmit = func(e events.Envelope) {
		switch ev := e.Event.(type) {
		case events.Reset:
			_ = h.m.ResetAcknowledged()
		case events.BeginCase:
			if ev.CaseIndex == 0 {
				assert.NoError(t, h.m.SkipCase())
			}
		}
	}

	results := h.wait(h.start(src, ""))

	ends := h.ends()
	require.Len(t, ends, 2)
	assert.Equal(t, string(sandbox.StatusRuntimeError), ends[0].Status)
	assert.Equal(t, "Killed by signal: SIGKILL (skipped)", ends[0].ExitMessage)
	assert.True(t, ends[1].IsCorrect)
	assert.Len(t, results, 2)
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t)
	h.set("default", enabled("1\n", nil))
	h.set("disabled", store.TestCase{Input: "1\n"})
	src := h.source("echo.sh", "cat\n")

	_, err := h.m.Start(context.Background(), StartRequest{Source: src, TestSet: "missing"})
	assert.ErrorIs(t, err, ErrNoTestSet)
	assert.ErrorIs(t, err, store.ErrSetNotFound)

	require.NoError(t, h.opts.Set(options.CategoryBuildAndRun, options.KeyCurTestSet, ""))
	_, err = h.m.Start(context.Background(), StartRequest{Source: src})
	assert.ErrorIs(t, err, ErrNoTestSet)

	_, err = h.m.Start(context.Background(), StartRequest{Source: src, TestSet: "disabled"})
	assert.ErrorIs(t, err, ErrEmptyTestSet)

	_, err = h.m.Start(context.Background(), StartRequest{Source: filepath.Join(h.dir, "nope.sh"), TestSet: "default"})
	assert.ErrorIs(t, err, ErrSourceNotFound)

	rust := h.source("main.rs", "fn main() {}\n")
	_, err = h.m.Start(context.Background(), StartRequest{Source: rust, TestSet: "default"})
	assert.ErrorIs(t, err, sandbox.ErrUnsupportedExtension)

	require.NoError(t, h.store.SetChecker("default", "fuzzy"))
	_, err = h.m.Start(context.Background(), StartRequest{Source: src, TestSet: "default"})
	assert.ErrorIs(t, err, checker.ErrUnknownMode)

	require.NoError(t, h.store.SetChecker("default", "custom:missing.js"))
	_, err = h.m.Start(context.Background(), StartRequest{Source: src, TestSet: "default"})
	assert.ErrorIs(t, err, checker.ErrCheckerNotFound)

	assert.Empty(t, h.rec.Events(), "configuration errors emit nothing")
	assert.Nil(t, h.m.Current())
}

func TestFatalCompileErrorSkipsCases(t *testing.T) {
	h := newHarness(t)
	h.set("default", enabled("1\n", nil))
	src := h.source("bad.fake", "COMPILE_FAIL\n")

	r := h.start(src, "")
	results := h.wait(r)

	assert.Empty(t, results)
	assert.Equal(t, []events.Kind{events.KindReset, events.KindCompileError}, h.rec.Kinds())
	ce := h.rec.Events()[1].(events.CompileError)
	assert.True(t, ce.Fatal)
	assert.Contains(t, ce.Text, "error: bad source")
	assert.True(t, r.CompileOutput().Fatal)
	assert.Equal(t, sandbox.StatusCompileError, r.CompileStatus())
}

func TestCompiledRunWithWarnings(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.opts.Set(options.CategoryCompilerArgs, "fake", "-DLOCAL"))
	h.set("default", enabled("3", strPtr("6\n")))
	src := h.source("double.fake", "#!/bin/sh\n"+doubleScript)

	r := h.start(src, "")
	results := h.wait(r)
	assert.Equal(t, sandbox.StatusSuccess, r.CompileStatus())

	kinds := collapse(h.events(events.KindReset, events.KindCompileError, events.KindBeginCase, events.KindEnd))
	assert.Equal(t, []events.Kind{events.KindReset, events.KindCompileError, events.KindBeginCase, events.KindEnd}, kinds)

	compileErrors := h.events(events.KindCompileError)
	require.Len(t, compileErrors, 2)
	assert.Equal(t, events.CompileError{Text: "warning: args -DLOCAL\n"}, compileErrors[0])
	assert.Contains(t, compileErrors[1].(events.CompileError).Text, "does not end in whitespace")
	assert.False(t, compileErrors[1].(events.CompileError).Fatal)

	require.Len(t, results, 1)
	assert.True(t, results[0].IsOK())
	assert.NoFileExists(t, filepath.Join(h.dir, "double"+sandbox.DefaultArtifactSuffix), "artifact removed at the end of the run")
}

func TestSpawnFailureIsInternalError(t *testing.T) {
	h := newHarness(t)
	h.set("default", enabled("1\n", nil), enabled("2\n", nil))
	src := h.source("prog.broken", "")

	results := h.wait(h.start(src, ""))

	ends := h.ends()
	require.Len(t, ends, 2, "every case still reports")
	for _, end := range ends {
		assert.Equal(t, string(sandbox.StatusInternalError), end.Status)
		assert.True(t, end.IsError)
		assert.False(t, end.IsCorrect)
	}
	assert.Len(t, results, 2)
}

func TestOutputClippedAtCharLimit(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.opts.Set(options.CategoryBuildAndRun, options.KeyCharLimit, 10))
	h.set("default", enabled("\n", nil))
	src := h.source("flood.sh", "i=0\nwhile [ $i -lt 100 ]; do printf aaaaaaaaaa; i=$((i + 1)); done\n")

	results := h.wait(h.start(src, ""))

	var streamed strings.Builder
	for _, ev := range h.events(events.KindUpdateStdout) {
		streamed.WriteString(ev.(events.UpdateStdout).Chunk)
	}
	assert.Equal(t, strings.Repeat("a", 10), streamed.String())

	require.Len(t, results, 1)
	assert.Equal(t, strings.Repeat("a", 10)+sandbox.ClippedSuffix, results[0].Stdout)
}

func TestClipKeepsRunesWhole(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.opts.Set(options.CategoryBuildAndRun, options.KeyCharLimit, 2))
	h.set("default", enabled("\n", nil))
	src := h.source("runes.sh", "printf 'a\\303\\251\\342\\202\\254'\n")

	results := h.wait(h.start(src, ""))

	var streamed strings.Builder
	for _, ev := range h.events(events.KindUpdateStdout) {
		streamed.WriteString(ev.(events.UpdateStdout).Chunk)
	}
	assert.Equal(t, "a", streamed.String())

	require.Len(t, results, 1)
	assert.Equal(t, "a"+sandbox.ClippedSuffix, results[0].Stdout)
	assert.True(t, utf8.ValidString(results[0].Stdout))
}

func TestPumpChunks(t *testing.T) {
	collect := func(src io.Reader, limit int64) ([]string, *sandbox.LimitedWriter, string) {
		var sb strings.Builder
		lw := sandbox.NewLimitedWriter(&sb, limit)
		var chunks []string
		pump(src, lw, func(s string) { chunks = append(chunks, s) })
		return chunks, lw, sb.String()
	}

	chunks, lw, captured := collect(strings.NewReader("aé€"), 2)
	assert.Equal(t, []string{"a"}, chunks)
	assert.Equal(t, "a", captured)
	assert.True(t, lw.Exceeded())

	// multibyte runes arriving one byte at a time are emitted whole
	chunks, lw, captured = collect(iotest.OneByteReader(strings.NewReader("é€")), 0)
	assert.Equal(t, []string{"é", "€"}, chunks)
	assert.Equal(t, "é€", captured)
	assert.False(t, lw.Exceeded())

	chunks, _, captured = collect(strings.NewReader("héllo"), 3)
	assert.Equal(t, []string{"hé"}, chunks)
	assert.Equal(t, "hé", captured)
}

func TestCheckerErrorIsInternalError(t *testing.T) {
	h := newHarness(t)
	h.set("default", enabled("1\n", nil))
	require.NoError(t, h.store.SetChecker("default", "custom:throws.js"))
	h.source("throws.js", "function check() { throw new Error('broken checker'); }\n")
	src := h.source("echo.sh", "cat\n")

	h.wait(h.start(src, ""))

	ends := h.ends()
	require.Len(t, ends, 1)
	assert.Equal(t, string(sandbox.StatusInternalError), ends[0].Status)
	assert.True(t, strings.HasPrefix(ends[0].ExitMessage, "Checker error: "), ends[0].ExitMessage)
	assert.Contains(t, ends[0].ExitMessage, "broken checker")
}

func TestSamplesMemoryOnLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("memory sampling reads /proc")
	}
	h := newHarness(t)
	require.NoError(t, h.opts.Set(options.CategoryBuildAndRun, options.KeyMemSample, 20))
	h.set("default", enabled("\n", nil))
	src := h.source("nap.sh", "sleep 0.5\n")

	results := h.wait(h.start(src, ""))

	mem := h.events(events.KindUpdateMemory)
	require.NotEmpty(t, mem)
	assert.Greater(t, mem[0].(events.UpdateMemory).KB, int64(0))
	assert.NotEmpty(t, h.events(events.KindUpdateTime))

	require.Len(t, results, 1)
	assert.Greater(t, results[0].MemoryUsedKB, int64(0))
}

// Builds examples/sum with the real Go toolchain.
func TestGoSampleSolution(t *testing.T) {
	if testing.Short() {
		t.Skip("compiles with go build")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not in PATH")
	}

	h := newHarness(t)
	code, err := os.ReadFile(filepath.Join("..", "..", "examples", "sum", "main.go"))
	require.NoError(t, err)
	cases, err := os.ReadFile(filepath.Join("..", "..", "examples", "sum", "cases.txt"))
	require.NoError(t, err)
	require.NoError(t, h.store.Import("sum", string(cases)))
	src := h.source("main.go", string(code))

	r := h.start(src, "sum")
	select {
	case <-r.Done():
	case <-time.After(2 * time.Minute):
		t.Fatal("run did not finish")
	}
	results := r.Results()
	require.Len(t, results, 4)
	for _, r := range results[:3] {
		assert.True(t, r.IsOK(), "case %d: %+v", r.CaseIndex, r)
	}
	assert.Equal(t, sandbox.StatusRuntimeError, results[3].Status)
	assert.Equal(t, "Exit code: 3 (possible assertion failure)", results[3].ExitMessage)
	assert.NoFileExists(t, filepath.Join(h.dir, "main.bin"))
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "halted", StateHalted.String())
	b, err := StateRunning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "running", string(b))

	var st State
	require.NoError(t, st.UnmarshalText([]byte("finalizing")))
	assert.Equal(t, StateFinalizing, st)
	assert.Error(t, st.UnmarshalText([]byte("bogus")))
}
