// Package engine runs a source file against the enabled cases of a test set,
// one process per case, and reports progress as events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CodeRushOJ/croj-runner/internal/checker"
	"github.com/CodeRushOJ/croj-runner/internal/events"
	"github.com/CodeRushOJ/croj-runner/internal/options"
	"github.com/CodeRushOJ/croj-runner/internal/sandbox"
	"github.com/CodeRushOJ/croj-runner/internal/store"
	"github.com/CodeRushOJ/croj-runner/internal/util"
)

var (
	ErrNoTestSet      = errors.New("no test set selected")
	ErrEmptyTestSet   = errors.New("test set has no enabled cases")
	ErrSourceNotFound = errors.New("source file not found")
	ErrRunInProgress  = errors.New("a run is already in progress")
	ErrNotRunning     = errors.New("no run in progress")
)

// DefaultKillGrace is how long a timed out process may react to SIGTERM
// before it is killed.
const DefaultKillGrace = 500 * time.Millisecond

// CaseSource provides the cases of a run.
type CaseSource interface {
	EnabledCases(set string) ([]store.IndexedCase, error)
	Checker(set string) (string, error)
}

// OptionSource provides get(category, key).
type OptionSource interface {
	Get(category, key string) (any, error)
}

// Config wires a Manager to its collaborators.
type Config struct {
	Registry    *sandbox.Registry
	Cases       CaseSource
	Options     OptionSource
	Sink        events.Sink
	Logger      *slog.Logger
	CheckerRoot string        // base for relative custom checker paths
	KillGrace   time.Duration // 0 = DefaultKillGrace
}

// StartRequest names what to run. An empty TestSet selects the
// buildAndRun.curTestSet option.
type StartRequest struct {
	Source  string
	TestSet string
}

// Manager owns at most one active Run.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu  sync.Mutex
	run *Run
}

// NewManager creates an idle manager.
func NewManager(cfg Config) *Manager {
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.Options == nil {
		cfg.Options = options.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = sandbox.NewRegistry(sandbox.DefaultConfig())
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &Manager{cfg: cfg, log: util.OrDefault(cfg.Logger).With("component", "engine")}
}

// Start validates req, then begins a run in the background. Configuration
// problems are returned here and no event is emitted for them.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run != nil {
		return nil, ErrRunInProgress
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	settings, err := m.settings()
	if err != nil {
		return nil, err
	}

	set := req.TestSet
	if set == "" {
		set = settings.testSet
	}
	if set == "" || m.cfg.Cases == nil {
		return nil, ErrNoTestSet
	}

	cases, err := m.cfg.Cases.EnabledCases(set)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTestSet, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTestSet, set)
	}

	if info, err := os.Stat(req.Source); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, req.Source)
	}
	lang, err := m.cfg.Registry.Lookup(req.Source)
	if err != nil {
		return nil, err
	}
	exec, err := m.cfg.Registry.NewExecutor(req.Source, sandbox.ExecutorOptions{
		CompilerArgs: stringOption(m.cfg.Options, options.CategoryCompilerArgs, lang.Name),
		Logger:       m.log,
	})
	if err != nil {
		return nil, err
	}

	mode := settings.checker
	if setMode, err := m.cfg.Cases.Checker(set); err == nil && setMode != "" {
		mode = setMode
	}
	chk, err := checker.Resolve(checker.Mode(mode), m.cfg.CheckerRoot)
	if err != nil {
		return nil, err
	}

	r := newRun(m, runSpec{
		id:       uuid.New().String(),
		testSet:  set,
		exec:     exec,
		checker:  chk,
		cases:    cases,
		settings: settings,
	})
	m.run = r
	m.log.Info("run started", "run", r.id, "source", exec.Source(), "set", set, "cases", len(cases), "checker", chk.Mode())

	go r.loop()
	return r, nil
}

// Halt stops the active run. Calling it while idle returns ErrNotRunning.
func (m *Manager) Halt() error {
	r := m.Current()
	if r == nil {
		return ErrNotRunning
	}
	r.halt()
	return nil
}

// HaltAndWait halts the active run, if any, and waits until it has finalized.
func (m *Manager) HaltAndWait(ctx context.Context) error {
	r := m.Current()
	if r == nil {
		return nil
	}
	r.halt()
	select {
	case <-r.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetAcknowledged releases the active run from waiting on its Reset event.
func (m *Manager) ResetAcknowledged() error {
	r := m.Current()
	if r == nil {
		return ErrNotRunning
	}
	r.acknowledgeReset()
	return nil
}

// SkipCase kills the process of the case in flight without halting the run.
func (m *Manager) SkipCase() error {
	r := m.Current()
	if r == nil {
		return ErrNotRunning
	}
	r.skipCurrent()
	return nil
}

// Current returns the active run, or nil when idle.
func (m *Manager) Current() *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run
}

// State reports the state of the active run, or StateIdle.
func (m *Manager) State() State {
	if r := m.Current(); r != nil {
		return r.State()
	}
	return StateIdle
}

func (m *Manager) release(r *Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run == r {
		m.run = nil
	}
}

type runSettings struct {
	testSet   string
	checker   string
	timeout   time.Duration
	memSample time.Duration
	charLimit int64
	killGrace time.Duration
}

func (m *Manager) settings() (runSettings, error) {
	o := m.cfg.Options
	s := runSettings{
		testSet:   stringOption(o, options.CategoryBuildAndRun, options.KeyCurTestSet),
		checker:   stringOption(o, options.CategoryBuildAndRun, options.KeyChecker),
		killGrace: m.cfg.KillGrace,
	}

	timeout, err := intOption(o, options.KeyTimeout)
	if err != nil {
		return runSettings{}, err
	}
	memSample, err := intOption(o, options.KeyMemSample)
	if err != nil {
		return runSettings{}, err
	}
	charLimit, err := intOption(o, options.KeyCharLimit)
	if err != nil {
		return runSettings{}, err
	}

	s.timeout = time.Duration(timeout) * time.Millisecond
	s.memSample = time.Duration(memSample) * time.Millisecond
	s.charLimit = int64(charLimit)
	return s, nil
}

func intOption(o OptionSource, key string) (int, error) {
	v, err := o.Get(options.CategoryBuildAndRun, key)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s is %T", options.ErrInvalidValue, options.CategoryBuildAndRun, key, v)
	}
	return n, nil
}

func stringOption(o OptionSource, category, key string) string {
	v, err := o.Get(category, key)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
