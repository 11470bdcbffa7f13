package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/CodeRushOJ/croj-runner/internal/engine"
	"github.com/CodeRushOJ/croj-runner/internal/sandbox"
	"github.com/CodeRushOJ/croj-runner/internal/util"
)

// StartRunRequest starts a run either from a file on the host or from code
// posted inline. Language is the file extension of inline code.
type StartRunRequest struct {
	Source     string `json:"source,omitempty"`
	SourceCode string `json:"sourceCode,omitempty"`
	Language   string `json:"language,omitempty"`
	TestSet    string `json:"testSet,omitempty"`
}

// RunView is the JSON shape of a run.
type RunView struct {
	ID        string           `json:"id"`
	State     engine.State     `json:"state"`
	TestSet   string           `json:"testSet"`
	Source    string           `json:"source"`
	CaseCount int              `json:"caseCount"`
	Results   []sandbox.Result `json:"results"`
	Compile   sandbox.Status   `json:"compile,omitempty"` // set once compilation is over
}

func viewOf(r *engine.Run) RunView {
	return RunView{
		ID:        r.ID(),
		State:     r.State(),
		TestSet:   r.TestSet(),
		Source:    r.Source(),
		CaseCount: r.CaseCount(),
		Results:   r.Results(),
		Compile:   r.CompileStatus(),
	}
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	// a new run replaces the active one
	if err := s.cfg.Manager.HaltAndWait(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	source := req.Source
	cleanup := func() {}
	if req.SourceCode != "" {
		var err error
		source, cleanup, err = s.writeInlineSource(req.SourceCode, req.Language)
		if err != nil {
			writeError(w, err)
			return
		}
	} else if source == "" {
		writeError(w, errors.Join(errBadRequest, errors.New("source or sourceCode is required")))
		return
	}

	run, err := s.cfg.Manager.Start(r.Context(), engine.StartRequest{Source: source, TestSet: req.TestSet})
	if err != nil {
		cleanup()
		writeError(w, err)
		return
	}
	go func() {
		<-run.Done()
		cleanup()
	}()

	s.log.Info("run started", "run", run.ID(), "set", run.TestSet(), "source", run.Source())
	writeJSON(w, http.StatusAccepted, viewOf(run))
}

// writeInlineSource stores posted code in a fresh host run directory.
func (s *Server) writeInlineSource(code, language string) (string, func(), error) {
	ext := strings.TrimPrefix(strings.ToLower(language), ".")
	if ext == "" {
		return "", nil, errors.Join(errBadRequest, errors.New("language is required with sourceCode"))
	}
	if s.cfg.Registry != nil {
		if _, err := s.cfg.Registry.Lookup("main." + ext); err != nil {
			return "", nil, err
		}
	}

	dir, cleanup, err := util.SetupHostRunDir(s.cfg.HostTempDir)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", sandbox.ErrHostTempDir, err)
	}
	path := filepath.Join(dir, "main."+ext)
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write source: %w", err)
	}
	return path, cleanup, nil
}

func (s *Server) currentRun(w http.ResponseWriter, r *http.Request) {
	run := s.cfg.Manager.Current()
	if run == nil {
		writeJSON(w, http.StatusOK, map[string]any{"state": engine.StateIdle})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

func (s *Server) haltRun(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Manager.Halt(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": engine.StateHalted})
}

func (s *Server) skipCase(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Manager.SkipCase(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resetAck(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Manager.ResetAcknowledged(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
