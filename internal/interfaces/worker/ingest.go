// Package worker turns stream messages into ingest operations.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/BerkeleyLibrary/willa/internal/application/catalog"
	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/messaging"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

// Ingestor is the slice of ingest.Ingestor the worker drives.
type Ingestor interface {
	Ingest(ctx context.Context, documentID string, content []byte, opts ...ingest.IngestOption) (*ingest.IngestResult, error)
	Delete(ctx context.Context, documentID string) (bool, error)
}

// Registrar is satisfied by *messaging.Consumer.
type Registrar interface {
	RegisterHandler(msgType string, handler messaging.MessageHandler)
}

type IngestHandler struct {
	ingestor Ingestor
}

func NewIngestHandler(ingestor Ingestor) *IngestHandler {
	return &IngestHandler{ingestor: ingestor}
}

// Register binds the ingest and delete message types on r.
func (h *IngestHandler) Register(r Registrar) {
	r.RegisterHandler(messaging.TypeIngestDocument, h.HandleIngest)
	r.RegisterHandler(messaging.TypeDeleteDocument, h.HandleDelete)
}

func (h *IngestHandler) HandleIngest(ctx context.Context, msg *messaging.Message) error {
	var job messaging.IngestJobMessage
	if err := msg.UnmarshalPayload(&job); err != nil {
		return fmt.Errorf("%w: decode ingest job: %v", messaging.ErrPermanent, err)
	}
	if job.DocumentID == "" {
		return fmt.Errorf("%w: ingest job %s has no document id", messaging.ErrPermanent, job.JobID)
	}
	ctx = logger.WithContext(ctx, logger.DocumentKey, job.DocumentID)

	var opts []ingest.IngestOption
	if job.Force {
		opts = append(opts, ingest.WithForce())
	}
	res, err := h.ingestor.Ingest(ctx, job.DocumentID, job.Content, opts...)
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("%w: %v", messaging.ErrPermanent, err)
		}
		return err
	}

	logger.Info(ctx, "ingest job done",
		"job_id", job.JobID,
		"chunks", res.ChunksWritten,
		"replaced", res.Replaced,
		"skipped", res.Skipped,
	)
	return nil
}

func (h *IngestHandler) HandleDelete(ctx context.Context, msg *messaging.Message) error {
	var job messaging.DeleteJobMessage
	if err := msg.UnmarshalPayload(&job); err != nil {
		return fmt.Errorf("%w: decode delete job: %v", messaging.ErrPermanent, err)
	}
	ctx = logger.WithContext(ctx, logger.DocumentKey, job.DocumentID)

	existed, err := h.ingestor.Delete(ctx, job.DocumentID)
	if err != nil {
		return err
	}
	logger.Info(ctx, "delete job done", "job_id", job.JobID, "existed", existed)
	return nil
}

// permanent reports failures that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, ingest.ErrEmptyDocument) ||
		errors.Is(err, ingest.ErrUnsupportedContent) ||
		errors.Is(err, catalog.ErrNotFound)
}
