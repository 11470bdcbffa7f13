package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CodeRushOJ/croj-runner/internal/checker"
	"github.com/CodeRushOJ/croj-runner/internal/engine"
	"github.com/CodeRushOJ/croj-runner/internal/options"
	"github.com/CodeRushOJ/croj-runner/internal/sandbox"
	"github.com/CodeRushOJ/croj-runner/internal/store"
)

// JsonResponse is the body of every non-streaming reply.
type JsonResponse struct {
	Error   bool   `json:"error"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JsonResponse{Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(JsonResponse{Error: true, Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrSetNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRunInProgress),
		errors.Is(err, engine.ErrNotRunning),
		errors.Is(err, store.ErrSetExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoTestSet),
		errors.Is(err, engine.ErrEmptyTestSet),
		errors.Is(err, engine.ErrSourceNotFound),
		errors.Is(err, sandbox.ErrUnsupportedExtension),
		errors.Is(err, checker.ErrUnknownMode),
		errors.Is(err, checker.ErrCheckerNotFound),
		errors.Is(err, checker.ErrCheckerFormat),
		errors.Is(err, store.ErrIndexOutOfRange),
		errors.Is(err, store.ErrInvalidName),
		errors.Is(err, store.ErrTextFormat),
		errors.Is(err, options.ErrUnknownOption),
		errors.Is(err, options.ErrInvalidValue),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
