package events

import "sync"

// Sink consumes events in emission order. Emit may block; a slow sink slows the run.
type Sink interface {
	Emit(Envelope)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Envelope)

func (f SinkFunc) Emit(e Envelope) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Envelope) {})

type tee []Sink

func (t tee) Emit(e Envelope) {
	for _, s := range t {
		s.Emit(e)
	}
}

// Tee emits every event to each sink in turn. Nil sinks are skipped.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Recorder keeps every event it receives. OnEmit, when set, is called after
// recording, outside the lock.
type Recorder struct {
	mu     sync.Mutex
	envs   []Envelope
	OnEmit func(Envelope)
}

func (r *Recorder) Emit(e Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, e)
	r.mu.Unlock()

	if r.OnEmit != nil {
		r.OnEmit(e)
	}
}

// Envelopes returns a copy of everything recorded.
func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envs...)
}

// Events returns the recorded events without their envelopes.
func (r *Recorder) Events() []Event {
	envs := r.Envelopes()
	out := make([]Event, len(envs))
	for i, e := range envs {
		out[i] = e.Event
	}
	return out
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	envs := r.Envelopes()
	out := make([]Kind, len(envs))
	for i, e := range envs {
		out[i] = e.Event.Kind()
	}
	return out
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.envs = nil
	r.mu.Unlock()
}
