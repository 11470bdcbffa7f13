package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type optionRequest struct {
	Value any `json:"value"`
}

func (s *Server) getOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Options.Snapshot())
}

// setOption changes one option. The new value is written back to the
// options file when there is one.
func (s *Server) setOption(w http.ResponseWriter, r *http.Request) {
	var req optionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	category, key := chi.URLParam(r, "category"), chi.URLParam(r, "key")
	if err := s.cfg.Options.Set(category, key, req.Value); err != nil {
		writeError(w, err)
		return
	}
	if s.cfg.Options.Path() != "" {
		if err := s.cfg.Options.Save(); err != nil {
			s.log.Warn("failed to save options", "err", err)
		}
	}
	value, _ := s.cfg.Options.Get(category, key)
	writeJSON(w, http.StatusOK, map[string]any{"category": category, "key": key, "value": value})
}
