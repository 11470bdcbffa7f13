package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CodeRushOJ/croj-runner/internal/checker"
	"github.com/CodeRushOJ/croj-runner/internal/events"
	"github.com/CodeRushOJ/croj-runner/internal/sandbox"
	"github.com/CodeRushOJ/croj-runner/internal/store"
)

type runSpec struct {
	id       string
	testSet  string
	exec     sandbox.Executor
	checker  *checker.Checker
	cases    []store.IndexedCase
	settings runSettings
}

// Run is one pass over the enabled cases of a test set.
type Run struct {
	runSpec
	m   *Manager
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	resetAck chan struct{}
	done     chan struct{}

	emitMu sync.Mutex
	seq    uint64

	mu       sync.Mutex
	state    State
	halted   bool
	procs    []*sandbox.Process
	current  *caseProc
	results  []sandbox.Result
	compile  sandbox.CompileOutput
	compiled bool
}

// caseProc is the process of the case in flight.
type caseProc struct {
	proc    *sandbox.Process
	skipped bool
}

func newRun(m *Manager, spec runSpec) *Run {
	ctx, cancel := context.WithCancel(context.Background())
	return &Run{
		runSpec:  spec,
		m:        m,
		log:      m.log.With("run", spec.id),
		ctx:      ctx,
		cancel:   cancel,
		resetAck: make(chan struct{}, 1),
		done:     make(chan struct{}),
		state:    StateCompiling,
	}
}

// ID identifies the run in events.
func (r *Run) ID() string { return r.id }

// TestSet returns the name of the set being run.
func (r *Run) TestSet() string { return r.testSet }

// Source returns the absolute source path.
func (r *Run) Source() string { return r.exec.Source() }

// CaseCount returns the number of cases the run covers.
func (r *Run) CaseCount() int { return len(r.cases) }

// Done is closed after the run has finalized.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run has finalized and returns the result of every
// case that completed.
func (r *Run) Wait() []sandbox.Result {
	<-r.done
	return r.Results()
}

// Results returns the results recorded so far.
func (r *Run) Results() []sandbox.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sandbox.Result(nil), r.results...)
}

// CompileOutput returns the outcome of the compile step.
func (r *Run) CompileOutput() sandbox.CompileOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compile
}

// CompileStatus is empty until compilation is over, then StatusCompileError
// or StatusSuccess.
func (r *Run) CompileStatus() sandbox.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.compiled {
		return ""
	}
	return r.compile.Status()
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Halted reports whether the run was halted.
func (r *Run) Halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.halted {
		r.state = s
	}
}

func (r *Run) loop() {
	defer r.finish()

	r.emit(events.Reset{CaseCount: len(r.cases)})
	if !r.awaitReset() {
		return
	}

	r.setState(StateCompiling)
	out := r.exec.Compile(r.ctx)
	r.mu.Lock()
	r.compile = out
	r.compiled = true
	r.mu.Unlock()
	if r.Halted() {
		return
	}
	if out.Diagnostics != "" || out.Fatal {
		r.emit(events.CompileError{Text: out.Diagnostics, Fatal: out.Fatal})
	}
	if out.Fatal {
		r.log.Info("compile failed, skipping cases")
		return
	}

	r.setState(StateRunning)
	for i, c := range r.cases {
		if r.Halted() {
			return
		}
		res, ok := r.runCase(i, c)
		if !ok {
			return
		}
		r.mu.Lock()
		r.results = append(r.results, res)
		r.mu.Unlock()
	}
}

func (r *Run) awaitReset() bool {
	select {
	case <-r.resetAck:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Run) acknowledgeReset() {
	select {
	case r.resetAck <- struct{}{}:
	default:
	}
}

func (r *Run) finish() {
	r.setState(StateFinalizing)
	r.cleanup()
	r.cancel()

	r.mu.Lock()
	halted := r.halted
	r.state = StateIdle
	n := len(r.results)
	r.mu.Unlock()

	r.log.Info("run finished", "completed", n, "of", len(r.cases), "halted", halted)
	r.m.release(r)
	close(r.done)
}

// cleanup removes the artifact. finish is its only caller, so it runs once per
// run, after any compiler killed by a halt has been reaped.
func (r *Run) cleanup() {
	if err := r.exec.Cleanup(); err != nil {
		r.log.Warn("executor cleanup failed", "err", err)
	}
}

// halt marks the run halted and kills every tracked process. The loop then
// unwinds and finish removes the artifact. Only the first call has an effect.
func (r *Run) halt() {
	r.mu.Lock()
	if r.halted {
		r.mu.Unlock()
		return
	}
	r.halted = true
	r.state = StateHalted
	procs := append([]*sandbox.Process(nil), r.procs...)
	r.mu.Unlock()

	r.log.Info("halting run", "processes", len(procs))
	r.cancel()
	for _, p := range procs {
		if err := p.Kill(); err != nil {
			r.log.Warn("failed to kill process", "pid", p.PID(), "err", err)
		}
	}
}

// track registers a spawned process. A process spawned after a halt is killed
// at once and false is returned.
func (r *Run) track(p *sandbox.Process) (*caseProc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.halted {
		_ = p.Kill()
		return nil, false
	}
	r.procs = append(r.procs, p)
	r.current = &caseProc{proc: p}
	return r.current, true
}

func (r *Run) untrack(p *sandbox.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, q := range r.procs {
		if q == p {
			r.procs = append(r.procs[:i], r.procs[i+1:]...)
			break
		}
	}
	if r.current != nil && r.current.proc == p {
		r.current = nil
	}
}

func (r *Run) skipCurrent() {
	r.mu.Lock()
	cur := r.current
	if cur != nil {
		cur.skipped = true
	}
	r.mu.Unlock()

	if cur != nil {
		r.log.Info("skipping case", "pid", cur.proc.PID())
		_ = cur.proc.Kill()
	}
}

func (r *Run) wasSkipped(cp *caseProc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cp.skipped
}

// emit stamps and delivers an event. Nothing is delivered once the run is halted.
func (r *Run) emit(ev events.Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	if r.Halted() {
		return
	}
	r.seq++
	r.m.cfg.Sink.Emit(events.Envelope{
		RunID: r.id,
		Seq:   r.seq,
		Time:  time.Now(),
		Event: ev,
	})
}
