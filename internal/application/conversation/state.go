// Package conversation drives one question through classification, retrieval,
// generation and citation formatting.
package conversation

// State is a node of the turn state machine.
type State string

const (
	StateStart           State = "START"
	StateDecideRetrieval State = "DECIDE_RETRIEVAL"
	StateRetrieve        State = "RETRIEVE"
	StateGenerate        State = "GENERATE"
	StateGenerateDirect  State = "GENERATE_DIRECT"
	StateFormatCitations State = "FORMAT_CITATIONS"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Effect is work the driver performs after a transition.
type Effect string

const (
	EffectClassify        Effect = "classify"
	EffectRetrieve        Effect = "retrieve"
	EffectGenerate        Effect = "generate"
	EffectGenerateDirect  Effect = "generate_direct"
	EffectFormatCitations Effect = "format_citations"
	EffectComplete        Effect = "complete"
	EffectApologize       Effect = "apologize"
)

// Event is the outcome of an effect. The set of events is closed.
type Event interface {
	event()
}

// TurnReceived starts a turn.
type TurnReceived struct{}

// Classified reports whether the turn needs the archive.
type Classified struct {
	Trivial bool
}

// Retrieved carries how many candidates retrieval produced; zero is allowed.
type Retrieved struct {
	Count int
}

// Generated carries the document ids the answer references.
type Generated struct {
	ReferencedDocumentIDs []string
}

// Formatted means the citation block is rendered.
type Formatted struct{}

// Failed moves any running turn to FAILED.
type Failed struct {
	Err error
}

func (TurnReceived) event() {}
func (Classified) event()   {}
func (Retrieved) event()    {}
func (Generated) event()    {}
func (Formatted) event()    {}
func (Failed) event()       {}

// Transition is the turn state machine. It has no side effects: callers run
// the returned effects and feed their outcome back as the next event. Events
// that do not apply to the current state fail the turn; terminal states
// ignore every event.
func Transition(state State, ev Event) (State, []Effect) {
	if state.Terminal() {
		return state, nil
	}
	if _, ok := ev.(Failed); ok {
		return StateFailed, []Effect{EffectApologize}
	}

	switch state {
	case StateStart:
		if _, ok := ev.(TurnReceived); ok {
			return StateDecideRetrieval, []Effect{EffectClassify}
		}
	case StateDecideRetrieval:
		if e, ok := ev.(Classified); ok {
			if e.Trivial {
				return StateGenerateDirect, []Effect{EffectGenerateDirect}
			}
			return StateRetrieve, []Effect{EffectRetrieve}
		}
	case StateRetrieve:
		if _, ok := ev.(Retrieved); ok {
			return StateGenerate, []Effect{EffectGenerate}
		}
	case StateGenerate, StateGenerateDirect:
		if _, ok := ev.(Generated); ok {
			return StateFormatCitations, []Effect{EffectFormatCitations}
		}
	case StateFormatCitations:
		if _, ok := ev.(Formatted); ok {
			return StateDone, []Effect{EffectComplete}
		}
	}
	return StateFailed, []Effect{EffectApologize}
}
