package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/config"
)

func TestHTTPReranker(t *testing.T) {
	cands := []retrieval.RerankCandidate{
		{ID: "a#0", Content: "first"},
		{ID: "b#0", Content: "second"},
	}

	t.Run("maps indexes back to ids", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			var req rerankRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "where was she born", req.Query)
			assert.Equal(t, []string{"first", "second"}, req.Documents)
			_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.9},{"index":0,"relevance_score":0.1}]}`))
		}))
		defer srv.Close()

		r, err := NewHTTPReranker(&config.RetrievalConfig{RerankURL: srv.URL, RerankModel: "bge"}, "secret", nil)
		require.NoError(t, err)
		assert.Equal(t, "bge", r.ModelName())

		got, err := r.Rerank(context.Background(), "where was she born", cands)
		require.NoError(t, err)
		assert.Equal(t, []retrieval.RerankResult{{ID: "b#0", Score: 0.9}, {ID: "a#0", Score: 0.1}}, got)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name   string
			status int
			body   string
		}{
			{"server error", http.StatusInternalServerError, `oops`},
			{"bad json", http.StatusOK, `{`},
			{"index out of range", http.StatusOK, `{"results":[{"index":5,"relevance_score":1}]}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				}))
				defer srv.Close()

				r, err := NewHTTPReranker(&config.RetrievalConfig{RerankURL: srv.URL}, "", nil)
				require.NoError(t, err)
				_, err = r.Rerank(context.Background(), "q", cands)
				assert.Error(t, err)
			})
		}
	})

	t.Run("requires url", func(t *testing.T) {
		_, err := NewHTTPReranker(&config.RetrievalConfig{}, "", nil)
		assert.Error(t, err)
	})
}
