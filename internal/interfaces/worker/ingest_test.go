package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/application/catalog"
	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/messaging"
)

type stubIngestor struct {
	err     error
	calls   int
	opts    int
	deleted []string
}

func (s *stubIngestor) Ingest(_ context.Context, id string, _ []byte, opts ...ingest.IngestOption) (*ingest.IngestResult, error) {
	s.calls++
	s.opts = len(opts)
	if s.err != nil {
		return nil, s.err
	}
	return &ingest.IngestResult{DocumentID: id, ChunksWritten: 2}, nil
}

func (s *stubIngestor) Delete(_ context.Context, id string) (bool, error) {
	s.deleted = append(s.deleted, id)
	return true, nil
}

type recordingRegistrar map[string]messaging.MessageHandler

func (r recordingRegistrar) RegisterHandler(t string, h messaging.MessageHandler) { r[t] = h }

func ingestMessage(t *testing.T, job messaging.IngestJobMessage) *messaging.Message {
	t.Helper()
	msg, err := messaging.NewMessage("m1", messaging.TypeIngestDocument, job)
	require.NoError(t, err)
	return msg
}

func TestIngestHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("registers both types", func(t *testing.T) {
		r := recordingRegistrar{}
		NewIngestHandler(&stubIngestor{}).Register(r)
		assert.Contains(t, r, messaging.TypeIngestDocument)
		assert.Contains(t, r, messaging.TypeDeleteDocument)
	})

	t.Run("ingests with force", func(t *testing.T) {
		s := &stubIngestor{}
		err := NewIngestHandler(s).HandleIngest(ctx, ingestMessage(t, messaging.IngestJobMessage{JobID: "j", DocumentID: "d", Content: []byte("text"), Force: true}))
		require.NoError(t, err)
		assert.Equal(t, 1, s.calls)
		assert.Equal(t, 1, s.opts)
	})

	t.Run("missing document id is permanent", func(t *testing.T) {
		s := &stubIngestor{}
		err := NewIngestHandler(s).HandleIngest(ctx, ingestMessage(t, messaging.IngestJobMessage{JobID: "j", Content: []byte("text")}))
		assert.ErrorIs(t, err, messaging.ErrPermanent)
		assert.Zero(t, s.calls)
	})

	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"empty document", ingest.ErrEmptyDocument, true},
		{"pdf without extractor", fmt.Errorf("%w: pdf", ingest.ErrUnsupportedContent), true},
		{"unknown catalog record", fmt.Errorf("resolve: %w", catalog.ErrNotFound), true},
		{"transient", errors.New("index store down"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stubIngestor{err: tt.err}
			err := NewIngestHandler(s).HandleIngest(ctx, ingestMessage(t, messaging.IngestJobMessage{DocumentID: "d", Content: []byte("x")}))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, messaging.ErrPermanent))
		})
	}

	t.Run("delete", func(t *testing.T) {
		s := &stubIngestor{}
		msg, err := messaging.NewMessage("m2", messaging.TypeDeleteDocument, messaging.DeleteJobMessage{JobID: "j", DocumentID: "d"})
		require.NoError(t, err)
		require.NoError(t, NewIngestHandler(s).HandleDelete(ctx, msg))
		assert.Equal(t, []string{"d"}, s.deleted)
	})
}
