package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BerkeleyLibrary/willa/internal/application/citation"
	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/application/trace"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/domain/service"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
	"github.com/BerkeleyLibrary/willa/pkg/metrics"
)

var tracer = otel.Tracer("conversation")

const defaultRetryBackoff = 500 * time.Millisecond

// Graph runs turns through the state machine in Transition.
type Graph struct {
	classifier TurnClassifier
	retriever  Retriever
	generator  Generator
	lookup     citation.MetadataLookup
	arena      *trace.Arena

	retryBackoff    time.Duration
	contextMaxRunes int
}

type GraphOption func(*Graph)

func WithClassifier(c TurnClassifier) GraphOption {
	return func(g *Graph) {
		if c != nil {
			g.classifier = c
		}
	}
}

func WithArena(a *trace.Arena) GraphOption {
	return func(g *Graph) {
		if a != nil {
			g.arena = a
		}
	}
}

func WithRetryBackoff(d time.Duration) GraphOption {
	return func(g *Graph) {
		if d >= 0 {
			g.retryBackoff = d
		}
	}
}

// WithContextLimit caps the retrieved context handed to the generator, in runes.
func WithContextLimit(runes int) GraphOption {
	return func(g *Graph) {
		if runes > 0 {
			g.contextMaxRunes = runes
		}
	}
}

func NewGraph(retriever Retriever, generator Generator, lookup citation.MetadataLookup, opts ...GraphOption) *Graph {
	g := &Graph{
		classifier:   HeuristicClassifier{},
		retriever:    retriever,
		generator:    generator,
		lookup:       lookup,
		arena:        trace.NewArena(0),
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Arena holds the pipeline steps of recent turns.
func (g *Graph) Arena() *trace.Arena {
	return g.arena
}

type TurnInput struct {
	TurnID    string
	SessionID string
	Query     string
	History   []*entity.ConversationTurn
}

type TurnResult struct {
	TurnID          string                `json:"turn_id"`
	State           State                 `json:"state"`
	Text            string                `json:"text"`
	Citations       string                `json:"citations"`
	UsedDocumentIDs []string              `json:"used_document_ids"`
	Trivial         bool                  `json:"trivial"`
	Retrieved       int                   `json:"retrieved"`
	Steps           []entity.PipelineStep `json:"steps"`
	// Err is why the turn failed. The user only ever sees ApologyMessage.
	Err error `json:"-"`
}

// turn is the mutable state of one Run.
type turn struct {
	in  *TurnInput
	rec *trace.Recorder

	trivial    bool
	retrieved  bool
	candidates []entity.RetrievalCandidate
	answer     string
	referenced []string
	citations  string
	used       []string
	err        error
}

// Run answers one turn. The returned error is non-nil only for invalid input
// or when ctx ends; every other failure ends in StateFailed with the apology
// text and the NoReferences citation sentinel.
func (g *Graph) Run(ctx context.Context, in *TurnInput) (*TurnResult, error) {
	if in == nil || strings.TrimSpace(in.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if g.generator == nil {
		return nil, fmt.Errorf("generator not configured")
	}
	if in.TurnID == "" {
		in.TurnID = uuid.NewString()
	}

	ctx = context.WithValue(ctx, logger.TurnIDKey, in.TurnID)
	if in.SessionID != "" {
		ctx = context.WithValue(ctx, logger.SessionIDKey, in.SessionID)
	}
	ctx, span := tracer.Start(ctx, "conversation.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.turn_id", in.TurnID),
		attribute.Int("conversation.history_turns", len(in.History)),
	)

	t := &turn{in: in, rec: g.arena.Recorder(in.TurnID, in.SessionID)}

	state := StateStart
	var ev Event = TurnReceived{}
	for ev != nil {
		if f, ok := ev.(Failed); ok {
			t.err = f.Err
		}
		next, effects := Transition(state, ev)
		logger.Debug(ctx, "turn transition", "from", string(state), "to", string(next))
		state = next

		ev = nil
		for _, eff := range effects {
			if out := g.execute(ctx, t, eff); out != nil {
				ev = out
			}
		}
	}

	metrics.TurnsTotal.WithLabelValues(string(state), strconv.FormatBool(t.retrieved)).Inc()
	span.SetAttributes(attribute.String("conversation.state", string(state)))

	res := &TurnResult{
		TurnID:          in.TurnID,
		State:           state,
		Text:            t.answer,
		Citations:       t.citations,
		UsedDocumentIDs: t.used,
		Trivial:         t.trivial,
		Retrieved:       len(t.candidates),
		Steps:           t.rec.Steps(),
		Err:             t.err,
	}
	if state == StateFailed {
		span.RecordError(t.err)
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (g *Graph) execute(ctx context.Context, t *turn, eff Effect) Event {
	switch eff {
	case EffectComplete:
		logger.Info(ctx, "turn answered", "trivial", t.trivial, "documents", len(t.used))
		return nil
	case EffectApologize:
		g.apologize(ctx, t)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return Failed{Err: err}
	}
	switch eff {
	case EffectClassify:
		return g.classify(ctx, t)
	case EffectRetrieve:
		return g.retrieve(ctx, t)
	case EffectGenerate:
		return g.generate(ctx, t, false)
	case EffectGenerateDirect:
		return g.generate(ctx, t, true)
	case EffectFormatCitations:
		return g.formatCitations(ctx, t)
	default:
		return Failed{Err: fmt.Errorf("unknown effect %q", eff)}
	}
}

func (g *Graph) classify(ctx context.Context, t *turn) Event {
	step := t.rec.Start(entity.StepControl, "classify", t.in.Query)
	trivial, err := g.classifier.IsTrivial(ctx, t.in.Query, t.in.History)
	if err != nil {
		if ctx.Err() != nil {
			step.End("", ctx.Err())
			return Failed{Err: ctx.Err()}
		}
		logger.Warn(ctx, "turn classifier failed, retrieving", "error", err.Error())
		step.End("retrieve (classifier error: "+err.Error()+")", nil)
		return Classified{Trivial: false}
	}
	t.trivial = trivial
	if trivial {
		step.End("direct", nil)
	} else {
		step.End("retrieve", nil)
	}
	return Classified{Trivial: trivial}
}

func (g *Graph) retrieve(ctx context.Context, t *turn) Event {
	t.retrieved = true
	if g.retriever == nil {
		return Retrieved{Count: 0}
	}
	cands, err := g.retriever.RetrieveTraced(ctx, t.in.Query, t.in.History, t.rec)
	if err != nil {
		if ctx.Err() != nil {
			return Failed{Err: ctx.Err()}
		}
		return Failed{Err: fmt.Errorf("retrieval failed: %w", err)}
	}
	t.candidates = cands
	return Retrieved{Count: len(cands)}
}

type generationSummary struct {
	Attempts   int      `json:"attempts"`
	Referenced []string `json:"referenced"`
	Answer     string   `json:"answer"`
}

func (g *Graph) generate(ctx context.Context, t *turn, direct bool) Event {
	in := &GenerateInput{
		Query:   t.in.Query,
		History: t.in.History,
		Direct:  direct,
	}
	name := "generate_direct"
	if !direct {
		name = "generate"
		in.Candidates = t.candidates
		in.Context = retrieval.BuildPromptContext(t.candidates, g.contextMaxRunes)
	}

	step := t.rec.Start(entity.StepGeneration, name, t.in.Query)
	var (
		out      *GenerateOutput
		answer   string
		attempts int
	)
	err := service.RetryOnce(ctx, g.retryBackoff, func(ctx context.Context) error {
		attempts++
		o, err := g.generator.Generate(ctx, in)
		if err != nil {
			return err
		}
		if o == nil {
			return errors.New("empty model response")
		}
		a := retrieval.StripMarkers(o.Text)
		if a == "" {
			return errors.New("empty answer")
		}
		out, answer = o, a
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = fmt.Errorf("%w: %v", ErrGenerationFailure, err)
		}
		step.End("", err)
		return Failed{Err: err}
	}

	t.answer = answer
	t.referenced = referencedDocuments(out, t.candidates)

	summary, _ := json.Marshal(generationSummary{Attempts: attempts, Referenced: t.referenced, Answer: answer})
	step.End(string(summary), nil)
	return Generated{ReferencedDocumentIDs: t.referenced}
}

// referencedDocuments keeps the ids the answer cites that were actually
// retrieved, in first-reference order. Explicit ids come before markers.
func referencedDocuments(out *GenerateOutput, cands []entity.RetrievalCandidate) []string {
	retrieved := make(map[string]bool, len(cands))
	for _, c := range cands {
		retrieved[c.Chunk.DocumentID] = true
	}
	ids := append(append([]string(nil), out.ReferencedDocumentIDs...), retrieval.ExtractMarkers(out.Text)...)

	var keep []string
	for _, id := range citation.Dedupe(ids) {
		if retrieved[id] {
			keep = append(keep, id)
		}
	}
	return keep
}

func (g *Graph) formatCitations(ctx context.Context, t *turn) Event {
	step := t.rec.Start(entity.StepTool, "format_citations", strings.Join(t.referenced, ","))
	block, err := citation.Resolve(ctx, t.referenced, g.lookup)
	if err != nil {
		step.End("", err)
		return Failed{Err: err}
	}
	t.citations = citation.FormatEntries(block)
	t.used = make([]string, 0, len(block))
	for _, e := range block {
		t.used = append(t.used, e.DocumentID)
	}
	step.End(t.citations, nil)
	return Formatted{}
}

func (g *Graph) apologize(ctx context.Context, t *turn) {
	err := t.err
	if err == nil {
		err = errors.New("turn failed")
	}
	t.answer = ApologyMessage
	t.citations = citation.NoReferences
	t.used = nil

	step := t.rec.Start(entity.StepControl, "failed", t.in.Query)
	step.End(ApologyMessage, err)
	logger.Error(ctx, "turn failed", err)
}
