package events

import (
	"encoding/json"
	"fmt"
	"time"
)

type wireEnvelope struct {
	Type  Kind            `json:"type"`
	RunID string          `json:"runId"`
	Seq   uint64          `json:"seq"`
	Time  time.Time       `json:"time"`
	Data  json.RawMessage `json:"data"`
}

// MarshalJSON encodes the envelope as {"type", "runId", "seq", "time", "data"}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Event == nil {
		return nil, fmt.Errorf("envelope %d has no event", e.Seq)
	}
	data, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		Type:  e.Event.Kind(),
		RunID: e.RunID,
		Seq:   e.Seq,
		Time:  e.Time,
		Data:  data,
	})
}

// UnmarshalJSON decodes an envelope written by MarshalJSON.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ev, err := Decode(w.Type, w.Data)
	if err != nil {
		return err
	}
	*e = Envelope{RunID: w.RunID, Seq: w.Seq, Time: w.Time, Event: ev}
	return nil
}

// Decode builds the event variant named by kind from its JSON payload.
func Decode(kind Kind, data []byte) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch kind {
	case KindCompileError:
		ev, err = decodeAs[CompileError](data)
	case KindReset:
		ev, err = decodeAs[Reset](data)
	case KindBeginCase:
		ev, err = decodeAs[BeginCase](data)
	case KindUpdateTime:
		ev, err = decodeAs[UpdateTime](data)
	case KindUpdateMemory:
		ev, err = decodeAs[UpdateMemory](data)
	case KindUpdateStdout:
		ev, err = decodeAs[UpdateStdout](data)
	case KindUpdateStderr:
		ev, err = decodeAs[UpdateStderr](data)
	case KindEnd:
		ev, err = decodeAs[End](data)
	default:
		return nil, fmt.Errorf("unknown event type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	return ev, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
