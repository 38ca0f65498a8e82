package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
)

// ConversationStore keeps sessions, turns and exported steps in process. It
// implements every conversation repository port plus Transactor; writes made
// inside WithTransaction are applied together when fn returns nil.
type ConversationStore struct {
	mu       sync.Mutex
	sessions map[string]*entity.ConversationSession
	turns    map[string][]*entity.ConversationTurn
	steps    map[string][]entity.PipelineStep
}

var (
	_ repository.ConversationSessionRepository = (*ConversationStore)(nil)
	_ repository.ConversationTurnRepository    = (*ConversationStore)(nil)
	_ repository.PipelineStepRepository        = (*ConversationStore)(nil)
	_ repository.Transactor                    = (*ConversationStore)(nil)
)

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		sessions: make(map[string]*entity.ConversationSession),
		turns:    make(map[string][]*entity.ConversationTurn),
		steps:    make(map[string][]entity.PipelineStep),
	}
}

type txKey struct{}

type pendingWrites struct {
	turns   []*entity.ConversationTurn
	touched []string
}

func (s *ConversationStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(txKey{}).(*pendingWrites); nested {
		return fn(ctx)
	}
	p := &pendingWrites{}
	if err := fn(context.WithValue(ctx, txKey{}, p)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range p.turns {
		s.appendLocked(t)
	}
	for _, id := range p.touched {
		s.touchLocked(id)
	}
	return nil
}

func (s *ConversationStore) Create(_ context.Context, session *entity.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

// GetByID returns nil, nil for unknown sessions.
func (s *ConversationStore) GetByID(_ context.Context, id string) (*entity.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

func (s *ConversationStore) Touch(ctx context.Context, id string) error {
	if p, ok := ctx.Value(txKey{}).(*pendingWrites); ok {
		p.touched = append(p.touched, id)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked(id)
	return nil
}

func (s *ConversationStore) touchLocked(id string) {
	if session, ok := s.sessions[id]; ok {
		session.UpdatedAt = time.Now()
	}
}

func (s *ConversationStore) Append(ctx context.Context, turn *entity.ConversationTurn) error {
	cp := *turn
	if p, ok := ctx.Value(txKey{}).(*pendingWrites); ok {
		p.turns = append(p.turns, &cp)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(&cp)
	return nil
}

func (s *ConversationStore) appendLocked(turn *entity.ConversationTurn) {
	turn.Seq = len(s.turns[turn.SessionID]) + 1
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
}

func (s *ConversationStore) ListRecent(_ context.Context, sessionID string, limit int) ([]*entity.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.turns[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return copyTurns(all), nil
}

func (s *ConversationStore) ListBySession(_ context.Context, sessionID string, p repository.Pagination) (*repository.PagedResult[*entity.ConversationTurn], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.turns[sessionID]
	start := p.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + p.Limit()
	if end > len(all) {
		end = len(all)
	}
	return repository.NewPagedResult(copyTurns(all[start:end]), int64(len(all)), p), nil
}

func (s *ConversationStore) CreateBatch(_ context.Context, steps []entity.PipelineStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range steps {
		s.steps[st.TurnID] = append(s.steps[st.TurnID], st)
	}
	return nil
}

func (s *ConversationStore) ListByTurn(_ context.Context, turnID string) ([]entity.PipelineStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]entity.PipelineStep(nil), s.steps[turnID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func copyTurns(in []*entity.ConversationTurn) []*entity.ConversationTurn {
	out := make([]*entity.ConversationTurn, len(in))
	for i, t := range in {
		cp := *t
		out[i] = &cp
	}
	return out
}
