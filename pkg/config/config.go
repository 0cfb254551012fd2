// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Storage, Chunking, Embedding, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Queue     QueueConfig     `yaml:"queue"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. Publishing lifecycle
// events is skipped when Enabled is false.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentEvents string `yaml:"documentEvents"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// StorageConfig selects the storage backend and the cache TTL per entity.
// Backend "postgres" uses Postgres as the durable index and Redis as the
// cache; "memory" keeps both in process.
type StorageConfig struct {
	Backend            string        `yaml:"backend"`
	DocumentIndex      string        `yaml:"documentIndex"`
	JobIndex           string        `yaml:"jobIndex"`
	EmbeddingIndex     string        `yaml:"embeddingIndex"`
	DocumentTTL        time.Duration `yaml:"documentTTL"`
	JobTTL             time.Duration `yaml:"jobTTL"`
	EmbeddingTTL       time.Duration `yaml:"embeddingTTL"`
	SearchTTL          time.Duration `yaml:"searchTTL"`
	EmbeddingDimension int           `yaml:"embeddingDimension"`
	VectorTable        string        `yaml:"vectorTable"`
}

// ChunkingConfig holds the engine defaults. Sizes are in characters.
type ChunkingConfig struct {
	Strategy     string `yaml:"strategy"`
	ChunkSize    int    `yaml:"chunkSize"`
	ChunkOverlap int    `yaml:"chunkOverlap"`
}

// EmbeddingConfig controls provider calls, retries and batching.
type EmbeddingConfig struct {
	DefaultProvider  string                    `yaml:"defaultProvider"`
	BatchSize        int                       `yaml:"batchSize"`
	MaxAttempts      int                       `yaml:"maxAttempts"`
	InitialBackoff   time.Duration             `yaml:"initialBackoff"`
	MaxBackoff       time.Duration             `yaml:"maxBackoff"`
	RequestTimeout   time.Duration             `yaml:"requestTimeout"`
	BreakerThreshold int                       `yaml:"breakerThreshold"`
	BreakerReset     time.Duration             `yaml:"breakerReset"`
	Providers        map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes one hosted embedding endpoint.
type ProviderConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// QueueConfig controls the ingestion queue.
type QueueConfig struct {
	StagingDir string `yaml:"stagingDir"`
}

// SearchConfig controls similarity search limits.
type SearchConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxResults   int `yaml:"maxResults"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
// Chunking bounds are checked again by the chunking engine itself.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "postgres", "memory":
	default:
		return apperrors.Config("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Chunking.ChunkSize <= 0 {
		return apperrors.Config("chunking.chunkSize must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return apperrors.Config("chunking.chunkOverlap must be in [0, %d), got %d",
			c.Chunking.ChunkSize, c.Chunking.ChunkOverlap)
	}
	if c.Embedding.BatchSize <= 0 {
		return apperrors.Config("embedding.batchSize must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.MaxAttempts <= 0 {
		return apperrors.Config("embedding.maxAttempts must be positive, got %d", c.Embedding.MaxAttempts)
	}
	if _, ok := c.Embedding.Providers[c.Embedding.DefaultProvider]; !ok {
		return apperrors.Config("embedding.defaultProvider %q is not configured", c.Embedding.DefaultProvider)
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  45 * time.Second,
			MaxUploadBytes:  50 << 20,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "docpipeline",
			User:            "docpipeline",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "docpipeline-embedder",
			Topics: KafkaTopics{
				DocumentEvents: "document-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Storage: StorageConfig{
			Backend:            "postgres",
			DocumentIndex:      "documents",
			JobIndex:           "jobs",
			EmbeddingIndex:     "document_embeddings",
			DocumentTTL:        time.Hour,
			JobTTL:             time.Hour,
			EmbeddingTTL:       24 * time.Hour,
			SearchTTL:          time.Hour,
			EmbeddingDimension: 768,
			VectorTable:        "document_vectors",
		},
		Chunking: ChunkingConfig{
			Strategy:     "hybrid",
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Embedding: EmbeddingConfig{
			DefaultProvider:  "nomic",
			BatchSize:        50,
			MaxAttempts:      3,
			InitialBackoff:   4 * time.Second,
			MaxBackoff:       10 * time.Second,
			RequestTimeout:   30 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
			Providers: map[string]ProviderConfig{
				"nomic": {
					URL:   "https://api-atlas.nomic.ai/v1/embedding/text",
					Model: "nomic-embed-text-v1.5",
				},
				"granite": {
					URL:   "http://localhost:8000/v1/embeddings",
					Model: "ibm-granite/granite-embedding-30m-english",
				},
			},
		},
		Queue: QueueConfig{
			StagingDir: os.TempDir(),
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxResults:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads DP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("DP_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("DP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DP_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("DP_CHUNKING_STRATEGY"); v != "" {
		cfg.Chunking.Strategy = v
	}
	if v := os.Getenv("DP_CHUNKING_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.ChunkSize = size
		}
	}
	if v := os.Getenv("DP_CHUNKING_OVERLAP"); v != "" {
		if overlap, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.ChunkOverlap = overlap
		}
	}
	if v := os.Getenv("DP_EMBEDDING_BATCH_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.BatchSize = size
		}
	}
	for name, p := range cfg.Embedding.Providers {
		prefix := "DP_EMBEDDING_" + strings.ToUpper(name) + "_"
		if v := os.Getenv(prefix + "URL"); v != "" {
			p.URL = v
		}
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			p.Model = v
		}
		cfg.Embedding.Providers[name] = p
	}
	if v := os.Getenv("DP_QUEUE_STAGING_DIR"); v != "" {
		cfg.Queue.StagingDir = v
	}
	if v := os.Getenv("DP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
