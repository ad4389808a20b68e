package pipeline

import (
	"github.com/hrygo/mindloop/plugin/ai/mindstate"
)

// Phase is one stage of a turn. Phases run in declaration order.
type Phase string

const (
	PhaseReceiving   Phase = "receiving"
	PhaseUnconscious Phase = "unconscious"
	PhaseIntegrating Phase = "integrating"
	PhaseConscious   Phase = "conscious"
	PhaseResponding  Phase = "responding"
	PhaseRemembering Phase = "remembering"
)

// Phases lists every phase in pipeline order.
var Phases = []Phase{
	PhaseReceiving,
	PhaseUnconscious,
	PhaseIntegrating,
	PhaseConscious,
	PhaseResponding,
	PhaseRemembering,
}

// EventType discriminates stream events.
type EventType string

const (
	EventPhase   EventType = "phase"
	EventContext EventType = "context"
	EventToken   EventType = "token"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one item of a turn stream. Done and Error are terminal and
// mutually exclusive.
type Event struct {
	Type    EventType               `json:"type"`
	Phase   Phase                   `json:"phase,omitempty"`
	Context *mindstate.ContextBrief `json:"context,omitempty"`
	Token   string                  `json:"token,omitempty"`
	Turn    *mindstate.Turn         `json:"turn,omitempty"`
	Err     error                   `json:"-"`
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
