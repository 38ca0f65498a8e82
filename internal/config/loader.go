package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// ConfigDirEnv overrides the directory searched for config files.
const ConfigDirEnv = "WILLA_CONFIG_DIR"

var envPattern = regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)

// Load reads configs/config.yaml, then configs/config.{APP_ENV}.yaml, then
// environment variables (dots become underscores), then built-in defaults.
func Load() (*Config, error) {
	dir := os.Getenv(ConfigDirEnv)
	if dir == "" {
		dir = "configs"
	}
	return LoadFrom(dir)
}

// LoadFrom is Load with an explicit config directory. Missing files are not an error.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := loadConfigFile(v, filepath.Join(dir, "config.yaml")); err != nil {
		return nil, err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := loadConfigFile(v, filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env))); err != nil {
		return nil, err
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func loadConfigFile(v *viper.Viper, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	reader := strings.NewReader(expandEnv(string(content)))
	if v.ConfigFileUsed() == "" {
		if err := v.ReadConfig(reader); err != nil {
			return fmt.Errorf("failed to read processed config %s: %w", path, err)
		}
		v.SetConfigFile(path)
		return nil
	}
	if err := v.MergeConfig(reader); err != nil {
		return fmt.Errorf("failed to merge processed config %s: %w", path, err)
	}
	return nil
}

// expandEnv replaces ${VAR} and ${VAR:default}. Unset variables without a
// default are left as-is so they are easy to spot.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(sub[1]); ok {
			return val
		}
		if sub[2] != "" {
			return sub[3]
		}
		return match
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "willa")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "120s")
	v.SetDefault("server.http.idle_timeout", "120s")

	v.SetDefault("database.postgres.enabled", false)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "willa")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")
	v.SetDefault("database.postgres.auto_migrate", true)

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 20)
	v.SetDefault("cache.redis.min_idle_conns", 2)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")

	v.SetDefault("vector.backend", VectorBackendBolt)
	v.SetDefault("vector.bolt.path", "data/index.db")
	v.SetDefault("vector.bolt.open_timeout", "5s")
	v.SetDefault("vector.milvus.host", "localhost")
	v.SetDefault("vector.milvus.port", 19530)
	v.SetDefault("vector.milvus.collection_prefix", "willa")
	v.SetDefault("vector.milvus.dimension", 1536)
	v.SetDefault("vector.milvus.hnsw_m", 16)
	v.SetDefault("vector.milvus.hnsw_ef_construction", 200)
	v.SetDefault("vector.milvus.hnsw_ef", 128)

	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.providers.openai.api_key", "")
	v.SetDefault("llm.providers.openai.base_url", "")
	v.SetDefault("llm.providers.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.providers.openai.max_tokens", 1024)
	v.SetDefault("llm.providers.openai.temperature", 0.2)
	v.SetDefault("llm.providers.openai.timeout", "60s")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.batch_size", 16)
	v.SetDefault("embedding.timeout", "30s")

	v.SetDefault("catalog.base_url", "https://digicoll.lib.berkeley.edu/api/v1")
	v.SetDefault("catalog.record_url", "https://digicoll.lib.berkeley.edu/record")
	v.SetDefault("catalog.api_key", "")
	v.SetDefault("catalog.timeout", "30s")
	v.SetDefault("catalog.cache_ttl", "24h")
	v.SetDefault("catalog.requests_per_second", 5)
	v.SetDefault("catalog.burst", 5)

	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.overlap_fraction", 0.2)
	v.SetDefault("ingest.embed_concurrency", 4)
	v.SetDefault("ingest.retry_backoff", "500ms")
	v.SetDefault("ingest.stream", "stream:ingest:document")
	v.SetDefault("ingest.pdftotext_path", "pdftotext")
	v.SetDefault("ingest.storage_dir", "")

	v.SetDefault("retrieval.candidates", 20)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.history_messages", 6)
	v.SetDefault("retrieval.max_prior", 4)
	v.SetDefault("retrieval.rewriter", RewriterWindow)
	v.SetDefault("retrieval.reranker", RerankerLexical)
	v.SetDefault("retrieval.rerank_url", "")
	v.SetDefault("retrieval.rerank_model", "")
	v.SetDefault("retrieval.rerank_timeout", "10s")
	v.SetDefault("retrieval.retry_backoff", "500ms")

	v.SetDefault("conversation.classifier", ClassifierHeuristic)
	v.SetDefault("conversation.auto_create_session", true)
	v.SetDefault("conversation.retry_backoff", "500ms")
	v.SetDefault("conversation.context_max_runes", 12000)
	v.SetDefault("conversation.trace_retention", 1000)
	v.SetDefault("conversation.export_traces", true)
	v.SetDefault("conversation.generate_provider", "")

	v.SetDefault("messaging.redis_stream.max_len", 10000)
	v.SetDefault("messaging.redis_stream.consumer_group_prefix", "willa-")
	v.SetDefault("messaging.redis_stream.block_timeout", "5s")
	v.SetDefault("messaging.redis_stream.claim_interval", "30s")
	v.SetDefault("messaging.redis_stream.retry_limit", 3)
	v.SetDefault("messaging.redis_stream.retry_backoff.initial", "1s")
	v.SetDefault("messaging.redis_stream.retry_backoff.max", "30s")
	v.SetDefault("messaging.redis_stream.retry_backoff.multiplier", 2.0)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.insecure", true)
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")

	v.SetDefault("security.rate_limit.enabled", false)
	v.SetDefault("security.rate_limit.requests_per_second", 20)
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"})
}
