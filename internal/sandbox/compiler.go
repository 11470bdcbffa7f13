// internal/sandbox/compiler.go
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeRushOJ/croj-runner/internal/util"
)

// compileSource runs the language's compile command for src, producing artifact.
// The result is fatal iff artifact does not exist afterwards.
func compileSource(ctx context.Context, lang LanguageConfig, src, artifact string, opts ExecutorOptions, log *slog.Logger) CompileOutput {
	// a stale artifact would mask a failed compile
	if err := os.Remove(artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
		return CompileOutput{Diagnostics: fmt.Sprintf("cannot remove stale artifact %s: %v", artifact, err), Fatal: true}
	}

	argv, err := util.ProcessCommandTemplate(lang.Compile.Command, map[string]string{
		PlaceholderSrcPath: src,
		PlaceholderExePath: artifact,
		PlaceholderSrcDir:  filepath.Dir(src),
		PlaceholderArgs:    opts.CompilerArgs,
	}, PlaceholderArgs)
	if err != nil {
		return CompileOutput{Diagnostics: err.Error(), Fatal: true}
	}

	timeout := lang.GetCompileTimeout(opts.CompileTimeout)
	if timeout <= 0 {
		timeout = time.Duration(DefaultCompileTimeLimitSec) * time.Second
	}
	compileCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(compileCtx, argv[0], argv[1:]...)
	cmd.Dir = filepath.Dir(src)
	util.PrepareProcessGroup(cmd)
	cmd.Cancel = func() error {
		return util.TerminateProcessTree(cmd.Process.Pid)
	}

	var output bytes.Buffer
	lw := NewLimitedWriter(&output, maxDiagnosticsBytes)
	cmd.Stdout = lw
	cmd.Stderr = lw

	startTime := time.Now()
	log.Info("compiling", "cmd", strings.Join(argv, " "))
	runErr := cmd.Run()
	duration := time.Since(startTime)

	diagnostics := output.String()
	if lw.Exceeded() {
		diagnostics += ClippedSuffix
	}

	if runErr != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			log.Info("compile cancelled", "after", duration)
			return CompileOutput{Diagnostics: "compilation cancelled", Fatal: true}
		case errors.Is(compileCtx.Err(), context.DeadlineExceeded):
			log.Warn("compile timed out", "after", duration)
			diagnostics = strings.TrimSpace(diagnostics + "\n" + fmt.Sprintf("compilation timed out after %s", timeout))
		case diagnostics == "":
			diagnostics = fmt.Sprintf("compiler failed: %v", runErr)
		}
	}

	if _, statErr := os.Stat(artifact); statErr != nil {
		if diagnostics == "" {
			diagnostics = fmt.Sprintf("compiler produced no artifact at %s", artifact)
		}
		log.Info("compile failed", "after", duration, "err", runErr)
		return CompileOutput{Diagnostics: diagnostics, Fatal: true}
	}

	log.Info("compile finished", "after", duration, "artifact", artifact, "diagnostics", len(diagnostics) > 0)
	return CompileOutput{Diagnostics: diagnostics}
}

const (
	maxDiagnosticsBytes = 256 * 1024
	ClippedSuffix       = " ... [clipped]" // marks output cut at a size limit
)
