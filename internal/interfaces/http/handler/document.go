package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/BerkeleyLibrary/willa/internal/application/catalog"
	"github.com/BerkeleyLibrary/willa/internal/application/citation"
	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/interfaces/http/dto"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

const maxIngestBodyBytes = 32 << 20

// DocumentIngestor is the slice of ingest.Ingestor the handler needs.
type DocumentIngestor interface {
	Ingest(ctx context.Context, documentID string, content []byte, opts ...ingest.IngestOption) (*ingest.IngestResult, error)
	Delete(ctx context.Context, documentID string) (bool, error)
}

// IngestQueue publishes asynchronous ingest and delete jobs.
type IngestQueue interface {
	PublishIngestJob(ctx context.Context, documentID string, content []byte, force bool) (string, error)
	PublishDeleteJob(ctx context.Context, documentID string) (string, error)
}

type DocumentHandler struct {
	ingestor DocumentIngestor
	queue    IngestQueue
	resolver catalog.Resolver
}

// NewDocumentHandler accepts a nil queue; the async route then answers 503.
func NewDocumentHandler(ingestor DocumentIngestor, queue IngestQueue, resolver catalog.Resolver) *DocumentHandler {
	return &DocumentHandler{ingestor: ingestor, queue: queue, resolver: resolver}
}

// Ingest indexes the transcript in the request body synchronously.
// POST /api/v1/documents/:id/ingest
func (h *DocumentHandler) Ingest(c *gin.Context) {
	id, content, force, ok := h.bindIngest(c)
	if !ok {
		return
	}
	ctx := logger.WithContext(c.Request.Context(), logger.DocumentKey, id)

	var opts []ingest.IngestOption
	if force {
		opts = append(opts, ingest.WithForce())
	}
	res, err := h.ingestor.Ingest(ctx, id, content, opts...)
	if err != nil {
		respondError(c, "ingest failed", err)
		return
	}
	dto.Success(c, dto.NewIngestResponse(res))
}

// QueueIngest publishes the body as an ingest job for the worker.
// POST /api/v1/documents/:id/ingest-jobs
func (h *DocumentHandler) QueueIngest(c *gin.Context) {
	if h.queue == nil {
		dto.ServiceUnavailable(c, "ingest queue is not configured")
		return
	}
	id, content, force, ok := h.bindIngest(c)
	if !ok {
		return
	}
	jobID, err := h.queue.PublishIngestJob(c.Request.Context(), id, content, force)
	if err != nil {
		respondError(c, "failed to queue ingest job", err)
		return
	}
	dto.Accepted(c, dto.JobResponse{JobID: jobID, DocumentID: id})
}

// Delete removes every chunk of a document. With ?async=true the removal is
// queued for the worker instead.
// DELETE /api/v1/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if c.Query("async") == "true" {
		h.queueDelete(c, id)
		return
	}
	existed, err := h.ingestor.Delete(c.Request.Context(), id)
	if err != nil {
		respondError(c, "delete failed", err)
		return
	}
	if !existed {
		dto.NotFound(c, "document not found")
		return
	}
	dto.Success(c, dto.DeleteResponse{DocumentID: id, Deleted: true})
}

func (h *DocumentHandler) queueDelete(c *gin.Context, id string) {
	if h.queue == nil {
		dto.ServiceUnavailable(c, "ingest queue is not configured")
		return
	}
	jobID, err := h.queue.PublishDeleteJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, "failed to queue delete job", err)
		return
	}
	dto.Accepted(c, dto.JobResponse{JobID: jobID, DocumentID: id})
}

// Metadata returns the catalog record and its citation block.
// GET /api/v1/documents/:id/metadata
func (h *DocumentHandler) Metadata(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	md, err := h.resolver.Resolve(c.Request.Context(), id)
	if err != nil {
		respondError(c, "metadata lookup failed", err)
		return
	}
	dto.Success(c, dto.MetadataResponse{
		Metadata: md,
		Citation: citation.FormatEntries([]entity.CitationEntry{entity.NewCitationEntry(md)}),
	})
}

// bindIngest accepts JSON {content, force} or a raw text or PDF body with
// ?force=.
func (h *DocumentHandler) bindIngest(c *gin.Context) (id string, content []byte, force bool, ok bool) {
	id = strings.TrimSpace(c.Param("id"))
	if id == "" {
		dto.BadRequest(c, "document id is required")
		return "", nil, false, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBodyBytes))
	if err != nil {
		dto.Error(c, http.StatusRequestEntityTooLarge, "request body too large")
		return "", nil, false, false
	}
	force = dto.BindBool(c, "force")

	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req dto.IngestRequest
		if err := json.Unmarshal(body, &req); err != nil {
			dto.BadRequest(c, "invalid request body: "+err.Error())
			return "", nil, false, false
		}
		body = []byte(req.Content)
		force = force || req.Force
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		dto.BadRequest(c, "document content is required")
		return "", nil, false, false
	}
	return id, body, force, true
}
