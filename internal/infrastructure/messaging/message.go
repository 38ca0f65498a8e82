// Package messaging carries asynchronous ingest jobs over redis streams.
package messaging

import (
	"encoding/json"
	"time"

	"github.com/BerkeleyLibrary/willa/internal/config"
)

// Message is the envelope stored under the "data" field of a stream entry.
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

func NewMessage(id, msgType string, payload any) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        id,
		Type:      msgType,
		Payload:   payloadBytes,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now(),
	}, nil
}

func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

func (m *Message) GetMetadata(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

func (m *Message) UnmarshalPayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

type Stream string

const StreamIngest Stream = "stream:ingest:document"

// DLQStream names the dead-letter stream for s.
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

type ConsumerGroup string

const ConsumerGroupIngestWorker ConsumerGroup = "cg-ingest-worker"

// GroupName applies the configured prefix, if any.
func (g ConsumerGroup) GroupName(prefix string) ConsumerGroup {
	if prefix == "" {
		return g
	}
	return ConsumerGroup(prefix + string(g))
}

// Message types.
const (
	TypeIngestDocument = "ingest.document"
	TypeDeleteDocument = "delete.document"
)

// IngestJobMessage asks a worker to (re)ingest one transcript. Content is the
// raw text or PDF body; JSON carries it as base64.
type IngestJobMessage struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Content    []byte `json:"content"`
	Force      bool   `json:"force,omitempty"`
}

// DeleteJobMessage asks a worker to drop a document from the index.
type DeleteJobMessage struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
}

type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
	}
}

// BackoffFromConfig falls back to the defaults for unset fields.
func BackoffFromConfig(cfg config.BackoffConfig) BackoffConfig {
	b := DefaultBackoffConfig()
	if cfg.Initial > 0 {
		b.Initial = cfg.Initial
	}
	if cfg.Max > 0 {
		b.Max = cfg.Max
	}
	if cfg.Multiplier >= 1 {
		b.Multiplier = cfg.Multiplier
	}
	return b
}

// CalculateBackoff returns Initial*Multiplier^retryCount capped at Max.
func (c BackoffConfig) CalculateBackoff(retryCount int) time.Duration {
	backoff := c.Initial
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * c.Multiplier)
		if backoff > c.Max {
			backoff = c.Max
			break
		}
	}
	return backoff
}
