package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/application/catalog"
	"github.com/BerkeleyLibrary/willa/internal/application/citation"
	"github.com/BerkeleyLibrary/willa/internal/application/conversation"
	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
	embed "github.com/BerkeleyLibrary/willa/internal/infrastructure/embedding"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/persistence/memory"
)

var records = map[string]*entity.Metadata{
	"ohx": {
		DocumentID: "ohx",
		Title:      "Oral History of X",
		Contributors: []entity.Contributor{
			{Name: "B", Role: entity.RoleInterviewee},
			{Name: "A", Role: entity.RoleInterviewer},
		},
		ProjectName: "Campus Histories",
		CatalogLink: "https://digicoll.lib.berkeley.edu/record/ohx",
	},
	"coop": {
		DocumentID:   "coop",
		Title:        "Berkeley Student Cooperative",
		Contributors: []entity.Contributor{{Name: "C", Role: entity.RoleInterviewee}},
		CatalogLink:  "https://digicoll.lib.berkeley.edu/record/coop",
	},
}

func resolver() catalog.Resolver {
	return catalog.ResolverFunc(func(_ context.Context, id string) (*entity.Metadata, error) {
		md, ok := records[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
		}
		return md, nil
	})
}

// scriptedGenerator cites the first retrieved document plus one it never saw.
type scriptedGenerator struct {
	mu       sync.Mutex
	failures int
	calls    int
	inputs   []*conversation.GenerateInput
	block    bool
}

func (g *scriptedGenerator) Generate(ctx context.Context, in *conversation.GenerateInput) (*conversation.GenerateOutput, error) {
	g.mu.Lock()
	g.calls++
	g.inputs = append(g.inputs, in)
	fail := g.failures < 0 || g.calls <= g.failures
	g.mu.Unlock()

	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("model endpoint returned 502")
	}
	if in.Direct {
		return &conversation.GenerateOutput{Text: "Hello! Ask me about the oral history archive."}, nil
	}
	if len(in.Candidates) == 0 {
		return &conversation.GenerateOutput{Text: "I could not find anything about that in the archive."}, nil
	}
	id := in.Candidates[0].Chunk.DocumentID
	return &conversation.GenerateOutput{
		Text: fmt.Sprintf("X was interviewed about the campus in the sixties %s. See also [doc:ghost].", retrieval.Marker(id)),
	}, nil
}

func (g *scriptedGenerator) lastInput() *conversation.GenerateInput {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inputs[len(g.inputs)-1]
}

type fixture struct {
	store     *memory.IndexStore
	convs     *memory.ConversationStore
	generator *scriptedGenerator
	graph     *conversation.Graph
	svc       *conversation.Service
}

func newFixture(t *testing.T, gen *scriptedGenerator, opts ...conversation.GraphOption) *fixture {
	t.Helper()
	ctx := context.Background()
	e := embed.NewHashEmbedder(128)
	store := memory.NewIndexStore()

	ing := ingest.New(e, store, resolver(), ingest.WithChunking(120, 0.2), ingest.WithRetryBackoff(0))
	_, err := ing.Ingest(ctx, "ohx", []byte(
		"Interviewer A: Tell me about the campus in the sixties.\n"+
			"B: The campus in the sixties was full of debate. Sproul Plaza filled every noon.\n"+
			"Copyright © 2015 by The Regents of the University of California\n"+
			"B: I remember the sit-in at Sproul Hall and the police car."))
	require.NoError(t, err)
	_, err = ing.Ingest(ctx, "coop", []byte("Housing cooperatives fed and sheltered students after the war."))
	require.NoError(t, err)

	engine := retrieval.NewEngine(e, store, retrieval.WithRetryBackoff(0), retrieval.WithLimits(10, 3))
	graph := conversation.NewGraph(engine, gen, resolver(), append([]conversation.GraphOption{conversation.WithRetryBackoff(0)}, opts...)...)
	convs := memory.NewConversationStore()
	svc := conversation.NewService(graph, convs, convs, convs, conversation.WithAutoCreate(true), conversation.WithStepExport(convs))
	return &fixture{store: store, convs: convs, generator: gen, graph: graph, svc: svc}
}

func (f *fixture) history(t *testing.T, sessionID string) []*entity.ConversationTurn {
	turns, err := f.convs.ListRecent(context.Background(), sessionID, 100)
	require.NoError(t, err)
	return turns
}

func kinds(steps []entity.PipelineStep) []entity.StepKind {
	out := make([]entity.StepKind, len(steps))
	for i, s := range steps {
		out[i] = s.Kind
	}
	return out
}

func TestAnswer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{})

	res, err := f.svc.Answer(ctx, "", "What was the campus like in the sixties?")
	require.NoError(t, err)
	require.Equal(t, conversation.StateDone, res.State)

	assert.Contains(t, res.Citations, "Title: Oral History of X")
	assert.Contains(t, res.Citations, "Contributor: A interviewer")
	assert.Contains(t, res.Citations, "Contributor: B interviewee")
	assert.Equal(t, 1, strings.Count(res.Citations, citation.Separator), "only the cited document gets a block")
	assert.NotContains(t, res.Citations, "Cooperative")
	assert.Equal(t, []string{"ohx"}, res.UsedDocumentIDs)

	assert.NotContains(t, res.Text, "[doc:")
	assert.Contains(t, res.Text, "sixties.")

	in := f.generator.lastInput()
	assert.Contains(t, in.Context, "[doc:ohx] Oral History of X")
	assert.False(t, in.Direct)

	steps, err := f.svc.Steps(ctx, res.TurnID)
	require.NoError(t, err)
	assert.Equal(t, []entity.StepKind{
		entity.StepControl, entity.StepEmbedding, entity.StepRetrieval, entity.StepRerank, entity.StepGeneration, entity.StepTool,
	}, kinds(steps))
	for i, s := range steps {
		assert.Equal(t, i, s.Seq)
		assert.False(t, s.Errored)
	}

	history := f.history(t, res.SessionID)
	require.Len(t, history, 1)
	assert.Equal(t, res.Text, history[0].Answer)
	assert.Equal(t, entity.TurnStatusAnswered, history[0].Status)
	assert.Equal(t, []string{"ohx"}, []string(history[0].UsedDocumentIDs))

	exported, err := f.convs.ListByTurn(ctx, res.TurnID)
	require.NoError(t, err)
	assert.Len(t, exported, len(steps))
}

func TestAnswer_TrivialTurnSkipsRetrieval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{})

	res, err := f.svc.Answer(ctx, "", "hello")
	require.NoError(t, err)
	assert.Equal(t, conversation.StateDone, res.State)
	assert.Equal(t, citation.NoReferences, res.Citations)
	assert.Empty(t, res.UsedDocumentIDs)
	assert.Zero(t, f.graph.Arena().Count(res.TurnID, entity.StepRetrieval))
	assert.Zero(t, f.graph.Arena().Count(res.TurnID, entity.StepEmbedding))
	assert.True(t, f.generator.lastInput().Direct)

	history := f.history(t, res.SessionID)
	require.Len(t, history, 1)
	assert.Equal(t, entity.TurnStatusDirect, history[0].Status)
}

func TestAnswer_GenerationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{failures: -1})

	res, err := f.svc.Answer(ctx, "", "What was the campus like in the sixties?")
	require.NoError(t, err)
	assert.Equal(t, conversation.StateFailed, res.State)
	assert.Equal(t, conversation.ApologyMessage, res.Text)
	assert.Equal(t, citation.NoReferences, res.Citations, "failed turns carry the no-references sentinel")
	assert.Equal(t, 2, f.generator.calls, "one retry")

	steps, err := f.svc.Steps(ctx, res.TurnID)
	require.NoError(t, err)
	var errored []string
	for _, s := range steps {
		if s.Errored {
			errored = append(errored, s.Name)
			assert.Contains(t, s.Error, conversation.ErrGenerationFailure.Error())
		}
	}
	assert.Equal(t, []string{"generate", "failed"}, errored)
	assert.Zero(t, f.graph.Arena().Count(res.TurnID, entity.StepTool))
	assert.Empty(t, f.history(t, res.SessionID), "failed turns are not stored")
}

func TestAnswer_GenerationRetrySucceeds(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{failures: 1})

	res, err := f.svc.Answer(context.Background(), "", "What was the campus like in the sixties?")
	require.NoError(t, err)
	assert.Equal(t, conversation.StateDone, res.State)
	assert.Equal(t, 2, f.generator.calls)
}

func TestAnswer_NoSupportingDocuments(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{}
	e := embed.NewHashEmbedder(64)
	graph := conversation.NewGraph(retrieval.NewEngine(e, memory.NewIndexStore()), gen, resolver())
	convs := memory.NewConversationStore()
	svc := conversation.NewService(graph, convs, convs, convs, conversation.WithAutoCreate(true))

	res, err := svc.Answer(ctx, "", "Who founded the cooperative?")
	require.NoError(t, err)
	assert.Equal(t, conversation.StateDone, res.State)
	assert.Equal(t, citation.NoReferences, res.Citations)
	assert.Equal(t, retrieval.NoDocumentsContext, gen.lastInput().Context)
	assert.Zero(t, graph.Arena().Count(res.TurnID, entity.StepRerank))
}

func TestAnswer_CitationLookupFailureFailsTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{})
	broken := catalog.ResolverFunc(func(context.Context, string) (*entity.Metadata, error) {
		return nil, fmt.Errorf("%w: tind returned 503", catalog.ErrMetadataUnavailable)
	})
	graph := conversation.NewGraph(
		retrieval.NewEngine(embed.NewHashEmbedder(128), f.store, retrieval.WithRetryBackoff(0)),
		f.generator, broken, conversation.WithRetryBackoff(0),
	)
	svc := conversation.NewService(graph, f.convs, f.convs, f.convs, conversation.WithAutoCreate(true))

	res, err := svc.Answer(ctx, "", "What was the campus like in the sixties?")
	require.NoError(t, err)
	assert.Equal(t, conversation.StateFailed, res.State)
	assert.Equal(t, citation.NoReferences, res.Citations, "failed turns carry the no-references sentinel")
	assert.Equal(t, conversation.ApologyMessage, res.Text)
	assert.Empty(t, f.history(t, res.SessionID))
}

func TestAnswer_CancelledDuringGeneration(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{block: true})
	session, err := f.svc.CreateSession(context.Background(), "cancel")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Answer(ctx, session.ID, "What was the campus like in the sixties?")
		done <- err
	}()
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, f.history(t, session.ID))
}

func TestAnswer_Sessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{})
	strict := conversation.NewService(f.graph, f.convs, f.convs, f.convs)

	t.Run("unknown session", func(t *testing.T) {
		_, err := strict.Answer(ctx, "6f1c3a52-0000-4000-8000-000000000000", "hello")
		require.ErrorIs(t, err, conversation.ErrSessionNotFound)
	})

	t.Run("auto create rejects malformed ids", func(t *testing.T) {
		_, err := f.svc.Answer(ctx, "not-a-uuid", "hello")
		require.ErrorIs(t, err, conversation.ErrSessionNotFound)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := f.svc.Answer(ctx, "", "   ")
		require.ErrorIs(t, err, conversation.ErrEmptyQuery)
	})

	t.Run("history feeds the next turn", func(t *testing.T) {
		first, err := f.svc.Answer(ctx, "", "What was the campus like in the sixties?")
		require.NoError(t, err)
		_, err = f.svc.Answer(ctx, first.SessionID, "And Sproul Plaza?")
		require.NoError(t, err)

		in := f.generator.lastInput()
		require.Len(t, in.History, 1)
		assert.Equal(t, "What was the campus like in the sixties?", in.History[0].Query)
		assert.Len(t, f.history(t, first.SessionID), 2)

		page, err := f.svc.History(ctx, first.SessionID, repository.NewPagination(1, 20))
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.Total)
	})
}

func TestAnswer_ClassifierErrorFallsBackToRetrieval(t *testing.T) {
	failing := conversation.ClassifierFunc(func(context.Context, string, []*entity.ConversationTurn) (bool, error) {
		return false, errors.New("classifier timeout")
	})
	f := newFixture(t, &scriptedGenerator{}, conversation.WithClassifier(failing))

	res, err := f.svc.Answer(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.Equal(t, conversation.StateDone, res.State)
	assert.Equal(t, 1, f.graph.Arena().Count(res.TurnID, entity.StepRetrieval))
}

type unavailableStore struct{ retrieval.IndexStore }

func (unavailableStore) Search(context.Context, []float32, int) ([]entity.RetrievalCandidate, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestAnswer_IndexStoreUnavailable(t *testing.T) {
	gen := &scriptedGenerator{}
	graph := conversation.NewGraph(
		retrieval.NewEngine(embed.NewHashEmbedder(64), unavailableStore{memory.NewIndexStore()}),
		gen, resolver(),
	)

	res, err := graph.Run(context.Background(), &conversation.TurnInput{Query: "Who spoke on the police car?"})
	require.NoError(t, err)
	assert.Equal(t, conversation.StateFailed, res.State)
	assert.ErrorIs(t, res.Err, retrieval.ErrIndexStoreUnavailable)
	assert.Equal(t, citation.NoReferences, res.Citations)
	assert.Zero(t, gen.calls)
}
