// Package trace keeps the append-only pipeline step records of conversation turns.
package trace

import (
	"sync"
	"time"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/pkg/metrics"
)

const defaultRetention = 1000

// Arena stores PipelineSteps keyed by turn id, in insertion order.
// Only the most recent `retention` turns are kept.
type Arena struct {
	mu        sync.Mutex
	turns     map[string][]entity.PipelineStep
	order     []string
	retention int
}

func NewArena(retention int) *Arena {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Arena{
		turns:     make(map[string][]entity.PipelineStep),
		retention: retention,
	}
}

// Append stores step under step.TurnID and assigns its Seq.
func (a *Arena) Append(step entity.PipelineStep) entity.PipelineStep {
	a.mu.Lock()
	defer a.mu.Unlock()

	steps, ok := a.turns[step.TurnID]
	if !ok {
		a.order = append(a.order, step.TurnID)
		a.evictLocked()
	}
	step.Seq = len(steps)
	a.turns[step.TurnID] = append(steps, step)

	metrics.PipelineStepDuration.WithLabelValues(string(step.Kind), boolLabel(step.Errored)).
		Observe(step.Duration().Seconds())
	return step
}

func (a *Arena) evictLocked() {
	for len(a.order) > a.retention {
		delete(a.turns, a.order[0])
		a.order = a.order[1:]
	}
}

// Steps returns a copy of the turn's steps in insertion order.
func (a *Arena) Steps(turnID string) []entity.PipelineStep {
	a.mu.Lock()
	defer a.mu.Unlock()
	steps := a.turns[turnID]
	if len(steps) == 0 {
		return nil
	}
	return append([]entity.PipelineStep(nil), steps...)
}

// Count returns how many steps of kind the turn emitted.
func (a *Arena) Count(turnID string, kind entity.StepKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.turns[turnID] {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// Recorder binds the arena to one turn.
func (a *Arena) Recorder(turnID, sessionID string) *Recorder {
	if a == nil {
		return nil
	}
	return &Recorder{arena: a, turnID: turnID, sessionID: sessionID, now: time.Now}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
