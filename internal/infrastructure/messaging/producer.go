package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

var tracer = otel.Tracer("messaging")

type Producer struct {
	client *redis.Client
	maxLen int64
	stream Stream
}

func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
		stream: StreamIngest,
	}
}

// WithStream sets the stream ingest and delete jobs go to.
func (p *Producer) WithStream(stream Stream) *Producer {
	if stream != "" {
		p.stream = stream
	}
	return p
}

func (p *Producer) Stream() Stream {
	return p.stream
}

// Publish appends msg to stream and returns the stream entry id.
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		msg.SetMetadata("request_id", reqID)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.SetMetadata("trace_id", sc.TraceID().String())
	}

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishIngestJob queues an ingest job and returns its job id.
func (p *Producer) PublishIngestJob(ctx context.Context, documentID string, content []byte, force bool) (string, error) {
	job := &IngestJobMessage{
		JobID:      uuid.NewString(),
		DocumentID: documentID,
		Content:    content,
		Force:      force,
	}
	msg, err := NewMessage(job.JobID, TypeIngestDocument, job)
	if err != nil {
		return "", err
	}
	msg.SetMetadata("document_id", documentID)
	if _, err := p.Publish(ctx, p.stream, msg); err != nil {
		return "", err
	}
	return job.JobID, nil
}

// PublishDeleteJob queues removal of a document from the index.
func (p *Producer) PublishDeleteJob(ctx context.Context, documentID string) (string, error) {
	job := &DeleteJobMessage{JobID: uuid.NewString(), DocumentID: documentID}
	msg, err := NewMessage(job.JobID, TypeDeleteDocument, job)
	if err != nil {
		return "", err
	}
	msg.SetMetadata("document_id", documentID)
	if _, err := p.Publish(ctx, p.stream, msg); err != nil {
		return "", err
	}
	return job.JobID, nil
}
