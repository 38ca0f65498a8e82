package conversation

import (
	"context"

	"github.com/BerkeleyLibrary/willa/internal/application/trace"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

// GenerateInput is what the model sees for one turn.
type GenerateInput struct {
	Query   string
	History []*entity.ConversationTurn
	// Context holds the retrieved chunks, each headed by its [doc:<id>] marker.
	// Empty for direct answers.
	Context    string
	Candidates []entity.RetrievalCandidate
	// Direct is set for trivial turns answered without the archive.
	Direct bool
}

// GenerateOutput is the raw model answer. ReferencedDocumentIDs may be empty,
// in which case the [doc:<id>] markers in Text are used.
type GenerateOutput struct {
	Text                  string
	ReferencedDocumentIDs []string
}

// Generator produces an answer.
type Generator interface {
	Generate(ctx context.Context, in *GenerateInput) (*GenerateOutput, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, in *GenerateInput) (*GenerateOutput, error)

func (f GeneratorFunc) Generate(ctx context.Context, in *GenerateInput) (*GenerateOutput, error) {
	return f(ctx, in)
}

// Retriever is the part of retrieval.Engine the graph uses.
type Retriever interface {
	RetrieveTraced(ctx context.Context, query string, history []*entity.ConversationTurn, rec *trace.Recorder) ([]entity.RetrievalCandidate, error)
}
