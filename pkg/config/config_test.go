package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "hybrid", cfg.Chunking.Strategy)
	assert.Equal(t, 1000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 50, cfg.Embedding.BatchSize)
	assert.Equal(t, 3, cfg.Embedding.MaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.Embedding.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.Embedding.MaxBackoff)
	assert.Equal(t, time.Hour, cfg.Storage.DocumentTTL)
	assert.Equal(t, 24*time.Hour, cfg.Storage.EmbeddingTTL)
	assert.Contains(t, cfg.Embedding.Providers, "nomic")
	assert.Contains(t, cfg.Embedding.Providers, "granite")
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
storage:
  backend: memory
chunking:
  strategy: sentence
  chunkSize: 300
  chunkOverlap: 30
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("DP_CHUNKING_SIZE", "400")
	t.Setenv("DP_EMBEDDING_NOMIC_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "sentence", cfg.Chunking.Strategy)
	assert.Equal(t, 400, cfg.Chunking.ChunkSize)
	assert.Equal(t, 30, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, "secret", cfg.Embedding.Providers["nomic"].APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"size", func(c *Config) { c.Chunking.ChunkSize = 0 }},
		{"overlap equals size", func(c *Config) { c.Chunking.ChunkOverlap = c.Chunking.ChunkSize }},
		{"negative overlap", func(c *Config) { c.Chunking.ChunkOverlap = -1 }},
		{"batch size", func(c *Config) { c.Embedding.BatchSize = 0 }},
		{"provider", func(c *Config) { c.Embedding.DefaultProvider = "openai" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), apperrors.ErrConfig)
		})
	}
}
