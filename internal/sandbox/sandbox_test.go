package sandbox

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compileScript stands in for a real toolchain: it echoes its extra args as a
// diagnostic and copies the source to the artifact unless the source asks it to fail.
const compileScript = `src=$1; exe=$2; shift 2
if [ $# -gt 0 ]; then echo "warning: args $*" >&2; fi
if grep -q COMPILE_FAIL "$src"; then echo "error: bad source" >&2; exit 1; fi
cp "$src" "$exe" && chmod +x "$exe"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	writeFile(t, dir, "compile.sh", compileScript)

	cfg := DefaultConfig()
	r := NewRegistry(cfg)
	r.Register("fake", LanguageConfig{
		Name:    "fake",
		Compile: CompileConfig{Command: "sh compile.sh {{SRC_PATH}} {{EXE_PATH}} {{ARGS}}"},
		Run:     RunConfig{Command: "{{EXE_PATH}}"},
	})
	return r
}

func runToEnd(t *testing.T, p *Process, input string) (string, string, ExitStatus) {
	t.Helper()
	go func() {
		_, _ = io.WriteString(p.Stdin, input)
		_ = p.Stdin.Close()
	}()

	errc := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(p.Stderr)
		errc <- b
	}()
	out, err := io.ReadAll(p.Stdout)
	require.NoError(t, err)
	stderr := <-errc

	status, err := p.Wait()
	require.NoError(t, err)
	return string(out), string(stderr), status
}

func TestInterpretedExecutor(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "double.sh", "read x\necho $((x * 2))\necho done >&2\n")

	ex, err := testRegistry(t, dir).NewExecutor(src, ExecutorOptions{})
	require.NoError(t, err)

	out := ex.Compile(context.Background())
	assert.False(t, out.Fatal)
	assert.Empty(t, out.Diagnostics)

	p, err := ex.Spawn()
	require.NoError(t, err)
	assert.Greater(t, p.PID(), 0)

	stdout, stderr, status := runToEnd(t, p, "3\n")
	assert.Equal(t, "6\n", stdout)
	assert.Equal(t, "done\n", stderr)
	assert.Equal(t, ExitStatus{Code: 0}, status)
	<-p.Exited()

	assert.NoError(t, ex.Cleanup())
	assert.NoError(t, ex.Cleanup())
}

func TestCompiledExecutorLifecycle(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "prog.fake", "#!/bin/sh\nread x\necho $((x * 2))\n")

	ex, err := testRegistry(t, dir).NewExecutor(src, ExecutorOptions{})
	require.NoError(t, err)

	_, err = ex.Spawn()
	assert.ErrorIs(t, err, ErrNotCompiled)

	out := ex.Compile(context.Background())
	require.False(t, out.Fatal, out.Diagnostics)
	assert.Empty(t, out.Diagnostics)

	artifact := filepath.Join(dir, "prog"+DefaultArtifactSuffix)
	assert.FileExists(t, artifact)

	p, err := ex.Spawn()
	require.NoError(t, err)
	stdout, _, status := runToEnd(t, p, "4\n")
	assert.Equal(t, "8\n", stdout)
	assert.Equal(t, 0, status.Code)

	require.NoError(t, ex.Cleanup())
	assert.NoFileExists(t, artifact)
	require.NoError(t, ex.Cleanup())

	_, err = ex.Spawn()
	assert.ErrorIs(t, err, ErrNotCompiled)
}

func TestCompileFatalWithoutArtifact(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "broken.fake", "COMPILE_FAIL\n")
	// a leftover artifact must not make a failed compile look successful
	writeFile(t, dir, "broken"+DefaultArtifactSuffix, "stale")

	ex, err := testRegistry(t, dir).NewExecutor(src, ExecutorOptions{})
	require.NoError(t, err)

	out := ex.Compile(context.Background())
	assert.True(t, out.Fatal)
	assert.Contains(t, out.Diagnostics, "error: bad source")

	_, err = ex.Spawn()
	assert.ErrorIs(t, err, ErrNotCompiled)
	assert.NoError(t, ex.Cleanup())
}

func TestCompileWarningsAreNonFatal(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "warn.fake", "#!/bin/sh\necho ok\n")

	ex, err := testRegistry(t, dir).NewExecutor(src, ExecutorOptions{CompilerArgs: "-Wall  -DLOCAL"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ex.Cleanup() })

	out := ex.Compile(context.Background())
	assert.False(t, out.Fatal)
	assert.Equal(t, "warning: args -Wall -DLOCAL\n", out.Diagnostics)

	p, err := ex.Spawn()
	require.NoError(t, err)
	stdout, _, _ := runToEnd(t, p, "")
	assert.Equal(t, "ok\n", stdout)
}

func TestCompileCancelled(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "prog.fake", "#!/bin/sh\n")

	ex, err := testRegistry(t, dir).NewExecutor(src, ExecutorOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := ex.Compile(ctx)
	assert.True(t, out.Fatal)
}

func TestUnsupportedExtension(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	_, err := r.NewExecutor("main.rs", ExecutorOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedExtension)

	_, err = r.NewExecutor("Makefile", ExecutorOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedExtension)

	lang, err := r.Lookup("/tmp/a.CPP")
	require.NoError(t, err)
	assert.Equal(t, "cpp", lang.Name)
	assert.True(t, lang.Compiled())

	assert.Contains(t, r.Extensions(), "py")
}

func TestCustomFactory(t *testing.T) {
	r := NewRegistry(Config{})
	called := false
	r.RegisterFactory(".x", LanguageConfig{Run: RunConfig{Command: "sh {{SRC_PATH}}"}}, func(lang LanguageConfig, src string, opts ExecutorOptions) Executor {
		called = true
		assert.Equal(t, "x", lang.Name)
		return newInterpreted(lang, src, opts)
	})

	ex, err := r.NewExecutor("prog.x", ExecutorOptions{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, filepath.IsAbs(ex.Source()))
}

func TestProcessKilledBySignal(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "sleep.sh", "sleep 30\n")

	ex, err := testRegistry(t, dir).NewExecutor(src, ExecutorOptions{})
	require.NoError(t, err)
	p, err := ex.Spawn()
	require.NoError(t, err)

	require.NoError(t, p.Signal(syscall.SIGTERM))
	_, _, status := runToEnd(t, p, "")
	assert.True(t, status.Signaled())
	assert.Equal(t, "SIGTERM", status.Signal)
	assert.Equal(t, StatusTimeout, status.Classify(true))
	assert.Equal(t, StatusRuntimeError, status.Classify(false))

	// reaped processes are never signalled again
	assert.NoError(t, p.Kill())
}

func TestStartProcessErrors(t *testing.T) {
	_, err := StartProcess(nil, ProcessOptions{})
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = StartProcess([]string{"/nonexistent/binary"}, ProcessOptions{})
	assert.Error(t, err)
}

func TestExitStatusMessage(t *testing.T) {
	tests := []struct {
		status   ExitStatus
		timedOut bool
		want     string
		class    Status
	}{
		{ExitStatus{Code: 0}, false, "Exit code: 0", StatusSuccess},
		{ExitStatus{Code: 1}, false, "Exit code: 1", StatusRuntimeError},
		{ExitStatus{Code: 3}, false, "Exit code: 3 (possible assertion failure)", StatusRuntimeError},
		{ExitStatus{Code: 3221225477}, false, "Exit code: 3221225477 (possible segmentation fault)", StatusRuntimeError},
		{ExitStatus{Code: -1, Signal: "SIGSEGV"}, false, "Killed by signal: SIGSEGV", StatusRuntimeError},
		{ExitStatus{Code: -1, Signal: "SIGTERM"}, true, "Killed by signal: SIGTERM (timeout: possible infinite loop)", StatusTimeout},
		{ExitStatus{Code: 0}, true, "Exit code: 0 (timeout: possible infinite loop)", StatusTimeout},
		{ExitStatus{Code: 3}, true, "Exit code: 3 (possible assertion failure) (timeout: possible infinite loop)", StatusTimeout},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.Message(tt.timedOut))
		assert.Equal(t, tt.class, tt.status.Classify(tt.timedOut))
	}
}

func TestLimitedWriter(t *testing.T) {
	var sb strings.Builder
	lw := NewLimitedWriter(&sb, 5)

	n, err := lw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, lw.Exceeded())

	n, err = lw.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, lw.Exceeded())
	assert.True(t, lw.Full())
	assert.Equal(t, "abcde", sb.String())

	unlimited := NewLimitedWriter(io.Discard, 0)
	_, _ = unlimited.Write(make([]byte, 1<<16))
	assert.False(t, unlimited.Exceeded())
	assert.False(t, unlimited.Full())
}

func TestLimitedWriterStop(t *testing.T) {
	var sb strings.Builder
	lw := NewLimitedWriter(&sb, 10)
	_, _ = lw.Write([]byte("ab"))
	assert.Equal(t, 8, lw.Remaining(8))

	lw.Stop()
	assert.True(t, lw.Exceeded())
	assert.True(t, lw.Full())
	assert.Zero(t, lw.Remaining(4))

	n, err := lw.Write([]byte("cd"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ab", sb.String())
}

func TestCompileOutputStatus(t *testing.T) {
	assert.Equal(t, StatusCompileError, CompileOutput{Diagnostics: "error", Fatal: true}.Status())
	assert.Equal(t, StatusSuccess, CompileOutput{Diagnostics: "warning"}.Status())
}

func TestNewResult(t *testing.T) {
	res := NewResult(StatusInternalError, assert.AnError)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, int64(-1), res.MemoryUsedKB)
	assert.Equal(t, assert.AnError.Error(), res.ExitMessage)
	assert.True(t, res.IsError())
	assert.False(t, res.IsOK())
}
