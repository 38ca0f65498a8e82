package retrieval

import "errors"

var (
	// ErrIndexStoreUnavailable wraps every index store failure. It is never retried.
	ErrIndexStoreUnavailable = errors.New("index store unavailable")

	// ErrEmbeddingFailure is returned when embedding still fails after one retry.
	ErrEmbeddingFailure = errors.New("embedding failed")

	// ErrInvalidChunks is returned by ValidateChunks.
	ErrInvalidChunks = errors.New("invalid chunk set")

	// ErrEmbedderDisabled means no embedder was configured.
	ErrEmbedderDisabled = errors.New("embedder is not configured")
)
