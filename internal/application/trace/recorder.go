package trace

import (
	"time"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

// Recorder emits steps for a single turn. A nil Recorder records nothing.
type Recorder struct {
	arena     *Arena
	turnID    string
	sessionID string
	now       func() time.Time
}

func (r *Recorder) TurnID() string {
	if r == nil {
		return ""
	}
	return r.turnID
}

// Start opens a step. The step is written when End is called.
func (r *Recorder) Start(kind entity.StepKind, name, input string) *Step {
	if r == nil {
		return nil
	}
	return &Step{rec: r, kind: kind, name: name, input: input, started: r.now()}
}

// Steps returns what the turn has recorded so far.
func (r *Recorder) Steps() []entity.PipelineStep {
	if r == nil {
		return nil
	}
	return r.arena.Steps(r.turnID)
}

// Step is an open pipeline step.
type Step struct {
	rec     *Recorder
	kind    entity.StepKind
	name    string
	input   string
	started time.Time
	ended   bool
}

// End closes the step with its output and error. Calling End twice is a no-op.
func (s *Step) End(output string, err error) {
	if s == nil || s.ended {
		return
	}
	s.ended = true

	step := entity.PipelineStep{
		TurnID:    s.rec.turnID,
		SessionID: s.rec.sessionID,
		Kind:      s.kind,
		Name:      s.name,
		Input:     s.input,
		Output:    output,
		StartedAt: s.started,
		EndedAt:   s.rec.now(),
	}
	if err != nil {
		step.Errored = true
		step.Error = err.Error()
	}
	s.rec.arena.Append(step)
}
