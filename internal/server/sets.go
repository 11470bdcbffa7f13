package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/CodeRushOJ/croj-runner/internal/store"
)

// maxImportBytes bounds an imported set.
const maxImportBytes = 64 << 20

type setView struct {
	Name    string `json:"name"`
	Cases   int    `json:"cases"`
	Enabled int    `json:"enabled"`
	Checker string `json:"checker,omitempty"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type caseRequest struct {
	Index    *int    `json:"index,omitempty"` // nil appends
	Input    string  `json:"input"`
	Expected *string `json:"expected"`
	Disabled bool    `json:"disabled,omitempty"`
}

type swapRequest struct {
	I int `json:"i"`
	J int `json:"j"`
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

type checkerRequest struct {
	Checker string `json:"checker"`
}

func (s *Server) listSets(w http.ResponseWriter, r *http.Request) {
	names := s.cfg.Store.Sets()
	views := make([]setView, 0, len(names))
	for _, name := range names {
		v, err := s.describeSet(name)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) describeSet(name string) (setView, error) {
	n, err := s.cfg.Store.Len(name)
	if err != nil {
		return setView{}, err
	}
	enabled, err := s.cfg.Store.CaseCount(name)
	if err != nil {
		return setView{}, err
	}
	checker, err := s.cfg.Store.Checker(name)
	if err != nil {
		return setView{}, err
	}
	return setView{Name: name, Cases: n, Enabled: enabled, Checker: checker}, nil
}

func (s *Server) addSet(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Store.AddSet(req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, setView{Name: req.Name})
}

func (s *Server) removeSet(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.RemoveSet(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renameSet(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Store.RenameSet(chi.URLParam(r, "name"), req.Name); err != nil {
		writeError(w, err)
		return
	}
	v, err := s.describeSet(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) exportSet(w http.ResponseWriter, r *http.Request) {
	text, err := s.cfg.Store.Export(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

func (s *Server) importSet(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, errors.Join(errBadRequest, err))
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.cfg.Store.Import(name, string(body)); err != nil {
		writeError(w, err)
		return
	}
	v, err := s.describeSet(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) setChecker(w http.ResponseWriter, r *http.Request) {
	var req checkerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Store.SetChecker(chi.URLParam(r, "name"), req.Checker); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.cfg.Store.Cases(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]store.IndexedCase, len(cases))
	for i, c := range cases {
		out[i] = store.IndexedCase{Index: i, TestCase: c}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) insertCase(w http.ResponseWriter, r *http.Request) {
	var req caseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	tc := store.TestCase{Input: req.Input, Expected: req.Expected, Enabled: !req.Disabled}

	var index int
	if req.Index == nil {
		i, err := s.cfg.Store.AppendCase(name, tc)
		if err != nil {
			writeError(w, err)
			return
		}
		index = i
	} else {
		index = *req.Index
		if err := s.cfg.Store.InsertCase(name, index, tc); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, store.IndexedCase{Index: index, TestCase: tc})
}

func (s *Server) removeCase(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Store.RemoveCase(chi.URLParam(r, "name"), index); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req enabledRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Store.SetEnabled(chi.URLParam(r, "name"), index, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) swapCases(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Store.SwapCases(chi.URLParam(r, "name"), req.I, req.J); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func indexParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Join(errBadRequest, fmt.Errorf("invalid case index %q", raw))
	}
	return i, nil
}
