// Package bolt is a single-file IndexStore on bbolt.
//
// Layout:
//
//	docs/<document_id>            -> JSON docPointer (generation, hash, chunk count)
//	chunks/<document_id>/<ordinal> -> encoded chunk (vector + JSON body)
//
// UpsertDocument rewrites a document's chunk bucket and its pointer in one
// Update transaction. Search runs in one View transaction, so it reads a single
// committed snapshot.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/config"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/pkg/metrics"
)

var tracer = otel.Tracer("bolt")

var (
	bucketDocs   = []byte("docs")
	bucketChunks = []byte("chunks")
)

const (
	backendName        = "bolt"
	defaultOpenTimeout = 5 * time.Second
)

type docPointer struct {
	Generation int64  `json:"generation"`
	Hash       string `json:"hash"`
	Chunks     int    `json:"chunks"`
}

type IndexStore struct {
	db *bbolt.DB
}

var _ retrieval.IndexStore = (*IndexStore)(nil)

func Open(cfg *config.BoltConfig) (*IndexStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("vector.bolt.path is required")
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, retrieval.Unavailable("open", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDocs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketChunks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, retrieval.Unavailable("init buckets", err)
	}
	return &IndexStore{db: db}, nil
}

func (s *IndexStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *IndexStore) UpsertDocument(ctx context.Context, documentID, contentHash string, chunks []entity.Chunk) (bool, error) {
	documentID = strings.TrimSpace(documentID)
	if err := retrieval.ValidateChunks(documentID, chunks); err != nil {
		return false, err
	}

	ctx, span := tracer.Start(ctx, "bolt.UpsertDocument")
	defer span.End()
	span.SetAttributes(attribute.String("index.document_id", documentID), attribute.Int("index.chunks", len(chunks)))

	if err := ctx.Err(); err != nil {
		return false, err
	}

	replaced := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocs)
		all := tx.Bucket(bucketChunks)
		key := []byte(documentID)

		replaced = docs.Get(key) != nil
		if all.Bucket(key) != nil {
			if err := all.DeleteBucket(key); err != nil {
				return err
			}
		}
		gen, err := docs.NextSequence()
		if err != nil {
			return err
		}
		b, err := all.CreateBucket(key)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			c.ContentHash = contentHash
			c.Generation = int64(gen)
			val, err := encodeChunk(c)
			if err != nil {
				return err
			}
			if err := b.Put(ordinalKey(c.Ordinal), val); err != nil {
				return err
			}
		}

		ptr, err := json.Marshal(docPointer{Generation: int64(gen), Hash: contentHash, Chunks: len(chunks)})
		if err != nil {
			return err
		}
		return docs.Put(key, ptr)
	})
	if err != nil {
		span.RecordError(err)
		return false, retrieval.Unavailable("upsert", err)
	}
	return replaced, nil
}

func (s *IndexStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	_, span := tracer.Start(ctx, "bolt.DeleteDocument")
	defer span.End()

	existed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		key := []byte(documentID)
		docs := tx.Bucket(bucketDocs)
		existed = docs.Get(key) != nil
		if err := docs.Delete(key); err != nil {
			return err
		}
		all := tx.Bucket(bucketChunks)
		if all.Bucket(key) != nil {
			return all.DeleteBucket(key)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, retrieval.Unavailable("delete", err)
	}
	return existed, nil
}

type hit struct {
	doc        []byte
	key        []byte
	similarity float64
}

func (s *IndexStore) Search(ctx context.Context, query []float32, k int) ([]entity.RetrievalCandidate, error) {
	ctx, span := tracer.Start(ctx, "bolt.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("index.k", k))

	start := time.Now()
	var out []entity.RetrievalCandidate
	err := s.db.View(func(tx *bbolt.Tx) error {
		all := tx.Bucket(bucketChunks)
		var hits []entity.RetrievalCandidate
		refs := make(map[string]hit)

		err := all.ForEach(func(doc, v []byte) error {
			if v != nil {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return all.Bucket(doc).ForEach(func(key, val []byte) error {
				vec, err := decodeVector(val)
				if err != nil {
					return err
				}
				ord := int(binary.BigEndian.Uint32(key))
				c := entity.RetrievalCandidate{
					Chunk:      entity.Chunk{DocumentID: string(doc), Ordinal: ord},
					Similarity: retrieval.Cosine(query, vec),
				}
				hits = append(hits, c)
				refs[c.Chunk.ID()] = hit{doc: doc, key: key}
				return nil
			})
		})
		if err != nil {
			return err
		}

		out = retrieval.RankBySimilarity(hits, k)
		for i := range out {
			ref := refs[out[i].Chunk.ID()]
			chunk, err := decodeChunk(all.Bucket(ref.doc).Get(ref.key))
			if err != nil {
				return err
			}
			out[i].Chunk = chunk
		}
		return nil
	})
	metrics.IndexSearchDuration.WithLabelValues(backendName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IndexSearchTotal.WithLabelValues(backendName, "error").Inc()
		span.RecordError(err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retrieval.Unavailable("search", err)
	}
	metrics.IndexSearchTotal.WithLabelValues(backendName, "ok").Inc()
	if out == nil {
		out = []entity.RetrievalCandidate{}
	}
	return out, nil
}

func (s *IndexStore) Exists(_ context.Context, documentID string) (bool, error) {
	_, ok, err := s.pointer(documentID)
	return ok, err
}

func (s *IndexStore) DocumentHash(_ context.Context, documentID string) (string, bool, error) {
	p, ok, err := s.pointer(documentID)
	if err != nil || !ok {
		return "", ok, err
	}
	return p.Hash, true, nil
}

func (s *IndexStore) pointer(documentID string) (docPointer, bool, error) {
	var (
		p  docPointer
		ok bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketDocs).Get([]byte(documentID))
		if raw == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(raw, &p)
	})
	if err != nil {
		return docPointer{}, false, retrieval.Unavailable("read pointer", err)
	}
	return p, ok, nil
}

func (s *IndexStore) DocumentChunks(_ context.Context, documentID string) ([]entity.Chunk, error) {
	var out []entity.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks).Bucket([]byte(documentID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, val []byte) error {
			c, err := decodeChunk(val)
			if err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, retrieval.Unavailable("read chunks", err)
	}
	return out, nil
}

// ordinalKey is big-endian so bucket iteration follows ordinal order.
func ordinalKey(ordinal int) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(ordinal))
	return k
}

// Encoded chunk: uint32 dim | dim float32 (little endian) | JSON chunk without embedding.
func encodeChunk(c entity.Chunk) ([]byte, error) {
	vec := c.Embedding
	c.Embedding = nil
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk %s: %w", c.ID(), err)
	}
	out := make([]byte, 4+4*len(vec)+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(vec)))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(out[4+4*i:], math.Float32bits(x))
	}
	copy(out[4+4*len(vec):], body)
	return out, nil
}

var errCorruptChunk = errors.New("corrupt chunk record")

func decodeVector(val []byte) ([]float32, error) {
	if len(val) < 4 {
		return nil, errCorruptChunk
	}
	dim := int(binary.LittleEndian.Uint32(val))
	if len(val) < 4+4*dim {
		return nil, errCorruptChunk
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(val[4+4*i:]))
	}
	return vec, nil
}

func decodeChunk(val []byte) (entity.Chunk, error) {
	vec, err := decodeVector(val)
	if err != nil {
		return entity.Chunk{}, err
	}
	var c entity.Chunk
	if err := json.Unmarshal(val[4+4*len(vec):], &c); err != nil {
		return entity.Chunk{}, fmt.Errorf("%w: %v", errCorruptChunk, err)
	}
	c.Embedding = vec
	return c, nil
}
