// Package events defines the typed events a run reports to its display.
package events

import "time"

// Kind identifies an event variant on the wire.
type Kind string

const (
	KindCompileError Kind = "compileError"
	KindReset        Kind = "reset"
	KindBeginCase    Kind = "beginCase"
	KindUpdateTime   Kind = "updateTime"
	KindUpdateMemory Kind = "updateMemory"
	KindUpdateStdout Kind = "updateStdout"
	KindUpdateStderr Kind = "updateStderr"
	KindEnd          Kind = "end"
)

// Event is one of the variants below; the set is closed.
type Event interface {
	Kind() Kind
	event()
}

// CompileError carries compiler diagnostics. Fatal means no case will run.
type CompileError struct {
	Text  string `json:"text"`
	Fatal bool   `json:"fatal"`
}

// Reset announces a new run of CaseCount cases. The display must acknowledge it.
type Reset struct {
	CaseCount int `json:"caseCount"`
}

// BeginCase marks the start of a case. CaseIndex counts enabled cases of the
// run; TestIndex is the case's position in its test set.
type BeginCase struct {
	Input          string  `json:"input"`
	ExpectedOutput *string `json:"expectedOutput"`
	CaseIndex      int     `json:"caseIndex"`
	TestIndex      int     `json:"testIndex"`
}

type UpdateTime struct {
	ElapsedMs int64 `json:"elapsedMs"`
	CaseIndex int   `json:"caseIndex"`
}

// UpdateMemory reports a resident memory sample in KiB.
type UpdateMemory struct {
	KB        int64 `json:"kb"`
	CaseIndex int   `json:"caseIndex"`
}

type UpdateStdout struct {
	Chunk     string `json:"chunk"`
	CaseIndex int    `json:"caseIndex"`
}

type UpdateStderr struct {
	Chunk     string `json:"chunk"`
	CaseIndex int    `json:"caseIndex"`
}

// End closes a case.
type End struct {
	ExitMessage string `json:"exitMessage"`
	IsCorrect   bool   `json:"isCorrect"`
	IsError     bool   `json:"isError"`
	CaseIndex   int    `json:"caseIndex"`
	Status      string `json:"status"`
}

func (CompileError) Kind() Kind { return KindCompileError }
func (Reset) Kind() Kind        { return KindReset }
func (BeginCase) Kind() Kind    { return KindBeginCase }
func (UpdateTime) Kind() Kind   { return KindUpdateTime }
func (UpdateMemory) Kind() Kind { return KindUpdateMemory }
func (UpdateStdout) Kind() Kind { return KindUpdateStdout }
func (UpdateStderr) Kind() Kind { return KindUpdateStderr }
func (End) Kind() Kind          { return KindEnd }

func (CompileError) event() {}
func (Reset) event()        {}
func (BeginCase) event()    {}
func (UpdateTime) event()   {}
func (UpdateMemory) event() {}
func (UpdateStdout) event() {}
func (UpdateStderr) event() {}
func (End) event()          {}

// CaseIndex returns the case an event belongs to, or -1 for run-level events.
func CaseIndex(e Event) int {
	switch ev := e.(type) {
	case BeginCase:
		return ev.CaseIndex
	case UpdateTime:
		return ev.CaseIndex
	case UpdateMemory:
		return ev.CaseIndex
	case UpdateStdout:
		return ev.CaseIndex
	case UpdateStderr:
		return ev.CaseIndex
	case End:
		return ev.CaseIndex
	default:
		return -1
	}
}

// Envelope is an event stamped with its run and emission order.
type Envelope struct {
	RunID string
	Seq   uint64
	Time  time.Time
	Event Event
}
