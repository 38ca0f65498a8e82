// Package config holds the typed configuration for every willa binary.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration tree.
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Vector        VectorConfig        `yaml:"vector" mapstructure:"vector"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding" mapstructure:"embedding"`
	Catalog       CatalogConfig       `yaml:"catalog" mapstructure:"catalog"`
	Ingest        IngestConfig        `yaml:"ingest" mapstructure:"ingest"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" mapstructure:"retrieval"`
	Conversation  ConversationConfig  `yaml:"conversation" mapstructure:"conversation"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// Addr returns host:port for net/http.
func (c HTTPServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

// DSN returns the libpq keyword/value connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Vector backends.
const (
	VectorBackendMemory = "memory"
	VectorBackendBolt   = "bolt"
	VectorBackendMilvus = "milvus"
)

type VectorConfig struct {
	Backend string       `yaml:"backend" mapstructure:"backend"`
	Milvus  MilvusConfig `yaml:"milvus" mapstructure:"milvus"`
	Bolt    BoltConfig   `yaml:"bolt" mapstructure:"bolt"`
}

type MilvusConfig struct {
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	CollectionPrefix   string `yaml:"collection_prefix" mapstructure:"collection_prefix"`
	Dimension          int    `yaml:"dimension" mapstructure:"dimension"`
	HNSWM              int    `yaml:"hnsw_m" mapstructure:"hnsw_m"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction" mapstructure:"hnsw_ef_construction"`
	HNSWEf             int    `yaml:"hnsw_ef" mapstructure:"hnsw_ef"`
}

func (c MilvusConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type BoltConfig struct {
	Path        string        `yaml:"path" mapstructure:"path"`
	OpenTimeout time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
}

type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

type ProviderConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Embedding providers.
const (
	EmbeddingOpenAI = "openai"
	EmbeddingHash   = "hash"
)

type EmbeddingConfig struct {
	Provider  string        `yaml:"provider" mapstructure:"provider"`
	Model     string        `yaml:"model" mapstructure:"model"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	Dimension int           `yaml:"dimension" mapstructure:"dimension"`
	BatchSize int           `yaml:"batch_size" mapstructure:"batch_size"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CatalogConfig configures the TIND metadata client.
type CatalogConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	RecordURL         string        `yaml:"record_url" mapstructure:"record_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

type IngestConfig struct {
	ChunkSize        int           `yaml:"chunk_size" mapstructure:"chunk_size"`
	OverlapFraction  float64       `yaml:"overlap_fraction" mapstructure:"overlap_fraction"`
	EmbedConcurrency int           `yaml:"embed_concurrency" mapstructure:"embed_concurrency"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	Stream           string        `yaml:"stream" mapstructure:"stream"`
	PDFToText        string        `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	StorageDir       string        `yaml:"storage_dir" mapstructure:"storage_dir"`
}

// Query rewriter and reranker kinds.
const (
	RewriterWindow  = "window"
	RewriterLLM     = "llm"
	RerankerLexical = "lexical"
	RerankerHTTP    = "http"
)

type RetrievalConfig struct {
	Candidates      int           `yaml:"candidates" mapstructure:"candidates"`
	TopK            int           `yaml:"top_k" mapstructure:"top_k"`
	HistoryMessages int           `yaml:"history_messages" mapstructure:"history_messages"`
	MaxPrior        int           `yaml:"max_prior" mapstructure:"max_prior"`
	Rewriter        string        `yaml:"rewriter" mapstructure:"rewriter"`
	Reranker        string        `yaml:"reranker" mapstructure:"reranker"`
	RerankURL       string        `yaml:"rerank_url" mapstructure:"rerank_url"`
	RerankModel     string        `yaml:"rerank_model" mapstructure:"rerank_model"`
	RerankTimeout   time.Duration `yaml:"rerank_timeout" mapstructure:"rerank_timeout"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// Turn classifier kinds.
const (
	ClassifierHeuristic = "heuristic"
	ClassifierLLM       = "llm"
)

type ConversationConfig struct {
	Classifier       string        `yaml:"classifier" mapstructure:"classifier"`
	AutoCreate       bool          `yaml:"auto_create_session" mapstructure:"auto_create_session"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	ContextMaxRunes  int           `yaml:"context_max_runes" mapstructure:"context_max_runes"`
	TraceRetention   int           `yaml:"trace_retention" mapstructure:"trace_retention"`
	ExportTraces     bool          `yaml:"export_traces" mapstructure:"export_traces"`
	GenerateProvider string        `yaml:"generate_provider" mapstructure:"generate_provider"`
}

type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

type RedisStreamConfig struct {
	MaxLen              int           `yaml:"max_len" mapstructure:"max_len"`
	ConsumerGroupPrefix string        `yaml:"consumer_group_prefix" mapstructure:"consumer_group_prefix"`
	BlockTimeout        time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit          int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure   bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}
