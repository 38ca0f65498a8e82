// Package cli implements the willa command line.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/BerkeleyLibrary/willa/internal/application/conversation"
	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

type Ingestor interface {
	Ingest(ctx context.Context, documentID string, content []byte, opts ...ingest.IngestOption) (*ingest.IngestResult, error)
	Delete(ctx context.Context, documentID string) (bool, error)
}

type Conversation interface {
	CreateSession(ctx context.Context, title string) (*entity.ConversationSession, error)
	Answer(ctx context.Context, sessionID, query string) (*conversation.AnswerResult, error)
}

// Catalog is the TIND client surface used by fetch and ingest-dir.
type Catalog interface {
	Resolve(ctx context.Context, documentID string) (*entity.Metadata, error)
	FetchRaw(ctx context.Context, documentID string) ([]byte, error)
	ParseRecord(documentID string, marcxml []byte) (*entity.Metadata, error)
}

// Services are the backends the commands drive. A nil Extractor makes
// ingest-dir reject PDF transcripts.
type Services struct {
	Ingestor     Ingestor
	Conversation Conversation
	Catalog      Catalog
	Extractor    ingest.TextExtractor
	StorageDir   string
}

// Loader builds Services on first use so that help and flag errors never
// touch a backend. The returned cleanup runs after the command.
type Loader func(ctx context.Context) (*Services, func(), error)

type app struct {
	load     Loader
	services *Services
	cleanup  func()
}

// NewRootCommand returns the willa command tree.
func NewRootCommand(version string, load Loader) *cobra.Command {
	a := &app{load: load}

	root := &cobra.Command{
		Use:           "willa",
		Short:         "Ask questions of the oral history archive",
		Long:          `willa indexes oral history transcripts and answers questions about them with citations to the library catalog.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.cleanup != nil {
				a.cleanup()
				a.cleanup = nil
			}
		},
	}

	root.AddCommand(
		newIngestCommand(a),
		newIngestDirCommand(a),
		newDeleteCommand(a),
		newAskCommand(a),
		newFetchCommand(a),
	)
	return root
}

func (a *app) svc(ctx context.Context) (*Services, error) {
	if a.services != nil {
		return a.services, nil
	}
	if a.load == nil {
		return nil, errors.New("services not configured")
	}
	s, cleanup, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	a.services, a.cleanup = s, cleanup
	return s, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
