package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/CodeRushOJ/croj-runner/internal/events"
)

// streamEvents sends every run event to the client as server-sent events.
// The SSE event name is the event kind and the id is the envelope sequence.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// subscribed before the headers go out, so a client that saw them
	// misses nothing
	sub := s.cfg.Hub.Subscribe()
	defer s.cfg.Hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var heartbeat <-chan time.Time
	if s.cfg.Heartbeat > 0 {
		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Gone():
			s.log.Debug("event stream dropped")
			return
		case <-heartbeat:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case env := <-sub.C:
			if err := writeSSE(w, env); err != nil {
				s.log.Debug("event stream write failed", "err", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", env.Seq, env.Event.Kind(), data)
	return err
}
