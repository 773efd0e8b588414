package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
embedder:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "all-minilm"
  dimension: 384
  batch_size: 32

database:
  driver: "postgres"
  url: "postgres://localhost:5432/pharma"

index:
  backend: "bolt"
  collection: "scr_pharma_test"
  path: "/tmp/index.db"
  max_batch_size: 1000

matcher:
  k: 5
  approved_sources: ["cruzverde", "ahumada"]
  site_ids:
    cruzverde: 11

cache:
  type: "memory"
  ttl: "2h"

scraper:
  rate_limit: 1.5
  timeout: "10s"
  sites:
    - name: "profar"
      start_urls: ["https://www.profar.cl/medicamentos"]
      product: "div.product-item"
      title: "a.product-name"
      price: "span.price"

log:
  mode: "production"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "http://localhost:11434", config.Embedder.BaseURL)
	assert.Equal(t, 32, config.Embedder.BatchSize)
	assert.Equal(t, 1, config.Embedder.Concurrency)
	assert.Equal(t, "bolt", config.Index.Backend)
	assert.Equal(t, 1000, config.Index.MaxBatchSize)
	assert.Equal(t, "postgres://localhost:5432/pharma", config.Index.URL)
	assert.Equal(t, 5, config.Matcher.K)
	assert.Equal(t, []string{"cruzverde", "ahumada"}, config.Matcher.ApprovedSources)
	assert.Equal(t, 11, config.Matcher.SiteIDs["cruzverde"])
	assert.Equal(t, 2*time.Hour, config.Cache.TTL)
	assert.Equal(t, 10*time.Second, config.Scraper.Timeout)
	require.Len(t, config.Scraper.Sites, 1)
	assert.Equal(t, "div.product-item", config.Scraper.Sites[0].Product)
	assert.Equal(t, "production", config.Log.Mode)
	assert.Equal(t, "info", config.Log.Level)
	assert.Empty(t, config.Validate())
}

func TestDefaults(t *testing.T) {
	config := &Config{}
	applyDefaults(config)

	assert.Equal(t, "ollama", config.Embedder.Provider)
	assert.Equal(t, 384, config.Embedder.Dimension)
	assert.Equal(t, "pgvector", config.Index.Backend)
	assert.Equal(t, 5461, config.Index.MaxBatchSize)
	assert.Equal(t, 10, config.Matcher.K)
	assert.Empty(t, config.Matcher.ApprovedSources)
	assert.Equal(t, "none", config.Cache.Type)
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		c.Database.URL = "postgres://localhost:5432/pharma"
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "invalid embedder and index",
			mutate: func(c *Config) {
				c.Embedder.Provider = "openai"
				c.Embedder.Dimension = -1
				c.Index.Backend = "chroma"
				c.Index.Collection = "bad-name"
			},
			errorMessages: []string{
				"embedder.provider: unknown embedding provider: openai",
				"embedder.dimension: dimension must be positive",
				"index.backend: unknown index backend: chroma",
				"index.collection: invalid collection name",
			},
		},
		{
			name: "redis cache without url",
			mutate: func(c *Config) {
				c.Cache.Type = "redis"
			},
			errorMessages: []string{
				"cache.redis_url: Redis URL is required",
			},
		},
		{
			name: "site id outside allowlist",
			mutate: func(c *Config) {
				c.Matcher.ApprovedSources = []string{"cruzverde"}
				c.Matcher.SiteIDs = map[string]int{"farmex": 16}
			},
			errorMessages: []string{
				"matcher.site_ids: site id given for source outside approved_sources: farmex",
			},
		},
		{
			name: "missing database url",
			mutate: func(c *Config) {
				c.Database.URL = ""
				c.Database.Driver = "mysql"
			},
			errorMessages: []string{
				"database.driver: driver must be 'postgres' or 'sqlite'",
				"database.url: database URL is required",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			errors := config.Validate()
			assert.Len(t, errors, len(tt.errorMessages))

			for i, msg := range tt.errorMessages {
				if i < len(errors) {
					assert.Contains(t, errors[i].Error(), msg)
				}
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/pharma")
	t.Setenv("REDIS_URL", "redis://env-redis:6379/0")

	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)

	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/pharma", config.Database.URL)
	assert.Equal(t, "postgres://env-db:5432/pharma", config.Index.URL)
	assert.Equal(t, "redis://env-redis:6379/0", config.Cache.RedisURL)
}
