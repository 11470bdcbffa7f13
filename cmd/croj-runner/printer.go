package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/CodeRushOJ/croj-runner/internal/events"
	"github.com/CodeRushOJ/croj-runner/internal/sandbox"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiDim    = "\x1b[2m"
)

// printer renders events for a terminal. Output chunks are shown only with
// verbose; the final stdout of a case is part of its summary anyway.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	color   bool
	verbose bool
	onReset func()
}

func newPrinter(w io.Writer, verbose bool) *printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd())) && os.Getenv("NO_COLOR") == ""
	}
	return &printer{w: w, color: color, verbose: verbose}
}

func (p *printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + ansiReset
}

// Emit implements events.Sink.
func (p *printer) Emit(e events.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := e.Event.(type) {
	case events.Reset:
		fmt.Fprintf(p.w, "%s %d case(s)\n", p.paint(ansiBold, "run "+shortID(e.RunID)), ev.CaseCount)
		if p.onReset != nil {
			p.onReset()
		}
	case events.CompileError:
		label := p.paint(ansiYellow, "compiler output")
		if ev.Fatal {
			label = p.paint(ansiRed, "compile error")
		}
		fmt.Fprintf(p.w, "%s:\n%s\n", label, strings.TrimRight(ev.Text, "\n"))
	case events.BeginCase:
		fmt.Fprintf(p.w, "%s (test %d)\n", p.paint(ansiBold, fmt.Sprintf("case #%d", ev.CaseIndex+1)), ev.TestIndex)
	case events.UpdateStdout:
		if p.verbose {
			io.WriteString(p.w, ev.Chunk)
		}
	case events.UpdateStderr:
		if p.verbose {
			io.WriteString(p.w, p.paint(ansiDim, ev.Chunk))
		}
	case events.End:
		fmt.Fprintf(p.w, "  %s %s\n", p.verdict(ev), ev.ExitMessage)
	}
}

func (p *printer) verdict(ev events.End) string {
	switch {
	case ev.IsError:
		return p.paint(ansiRed, ev.Status)
	case ev.IsCorrect:
		return p.paint(ansiGreen, "OK")
	default:
		return p.paint(ansiRed, "WA")
	}
}

// summary prints one line per result and the totals. It reports whether
// every case was accepted.
func (p *printer) summary(results []sandbox.Result, cases int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	passed := 0
	for _, r := range results {
		mem := "-"
		if r.MemoryUsedKB >= 0 {
			mem = fmt.Sprintf("%d KB", r.MemoryUsedKB)
		}
		status := string(r.Status)
		if r.IsOK() {
			passed++
			status = p.paint(ansiGreen, status)
		} else {
			status = p.paint(ansiRed, status)
		}
		fmt.Fprintf(p.w, "#%-3d %-16s %6d ms  %10s  correct=%t\n", r.CaseIndex+1, status, r.TimeUsedMillis, mem, r.Correct)
	}
	fmt.Fprintf(p.w, "%d/%d passed\n", passed, cases)
	return passed == cases
}

// compileFailed prints the verdict of a run whose source did not compile.
func (p *printer) compileFailed(compile sandbox.CompileOutput, cases int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s\n0/%d passed\n", p.paint(ansiRed, string(compile.Status())), cases)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
