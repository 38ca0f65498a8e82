package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/config"
)

func TestCalculateBackoff(t *testing.T) {
	b := BackoffConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.CalculateBackoff(tt.retry), "retry %d", tt.retry)
	}
}

func TestBackoffFromConfig(t *testing.T) {
	assert.Equal(t, DefaultBackoffConfig(), BackoffFromConfig(config.BackoffConfig{}))

	got := BackoffFromConfig(config.BackoffConfig{Initial: 200 * time.Millisecond, Multiplier: 3})
	assert.Equal(t, 200*time.Millisecond, got.Initial)
	assert.Equal(t, time.Minute, got.Max)
	assert.Equal(t, 3.0, got.Multiplier)
}

func TestMessageRoundTrip(t *testing.T) {
	job := IngestJobMessage{JobID: "j1", DocumentID: "123", Content: []byte("text"), Force: true}
	msg, err := NewMessage(job.JobID, TypeIngestDocument, job)
	require.NoError(t, err)
	msg.SetMetadata("document_id", "123")

	var got IngestJobMessage
	require.NoError(t, msg.UnmarshalPayload(&got))
	assert.Equal(t, job, got)
	assert.Equal(t, "123", msg.GetMetadata("document_id"))
	assert.Empty(t, msg.GetMetadata("missing"))
}

func TestMessageRoundTrip_BinaryContent(t *testing.T) {
	job := IngestJobMessage{JobID: "j2", DocumentID: "9", Content: []byte("%PDF-1.4\n\x00\xff\xfe\x80 stream")}
	msg, err := NewMessage(job.JobID, TypeIngestDocument, job)
	require.NoError(t, err)

	var got IngestJobMessage
	require.NoError(t, msg.UnmarshalPayload(&got))
	assert.Equal(t, job.Content, got.Content)
}

func TestDecodeEntry(t *testing.T) {
	msg, err := NewMessage("m1", TypeDeleteDocument, DeleteJobMessage{JobID: "m1", DocumentID: "9"})
	require.NoError(t, err)
	raw, err := jsonString(msg)
	require.NoError(t, err)

	got, err := decodeEntry(redis.XMessage{ID: "1-0", Values: map[string]any{"data": raw}})
	require.NoError(t, err)
	assert.Equal(t, TypeDeleteDocument, got.Type)

	_, err = decodeEntry(redis.XMessage{ID: "1-1", Values: map[string]any{}})
	assert.Error(t, err)
	_, err = decodeEntry(redis.XMessage{ID: "1-2", Values: map[string]any{"data": "{"}})
	assert.Error(t, err)
}

func TestStreamNames(t *testing.T) {
	assert.Equal(t, "dlq:stream:ingest:document", StreamIngest.DLQStream())
	assert.Equal(t, ConsumerGroup("willa-cg-ingest-worker"), ConsumerGroupIngestWorker.GroupName("willa-"))
	assert.Equal(t, ConsumerGroupIngestWorker, ConsumerGroupIngestWorker.GroupName(""))
}

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}
