package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Embedder EmbedderConfig `yaml:"embedder"`
	Database DatabaseConfig `yaml:"database"`
	Index    IndexConfig    `yaml:"index"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Cache    CacheConfig    `yaml:"cache"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Log      LogConfig      `yaml:"log"`
}

type EmbedderConfig struct {
	Provider    string `yaml:"provider"` // "ollama" or "hash"
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	Dimension   int    `yaml:"dimension"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "sqlite"
	URL    string `yaml:"url"`
}

type IndexConfig struct {
	Backend      string `yaml:"backend"` // "memory", "bolt" or "pgvector"
	Collection   string `yaml:"collection"`
	Path         string `yaml:"path"`
	URL          string `yaml:"url"`
	MaxBatchSize int    `yaml:"max_batch_size"`
	IVFLists     int    `yaml:"ivf_lists"`
}

// MatcherConfig leaves sources and site ids empty unless overridden; the
// matcher supplies the editorial defaults.
type MatcherConfig struct {
	K               int            `yaml:"k"`
	ApprovedSources []string       `yaml:"approved_sources"`
	SiteIDs         map[string]int `yaml:"site_ids"`
}

type CacheConfig struct {
	Type     string        `yaml:"type"` // "none", "memory" or "redis"
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type ScraperConfig struct {
	RateLimit float64       `yaml:"rate_limit"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxPages  int           `yaml:"max_pages"`
	UserAgent string        `yaml:"user_agent"`
	Sites     []SiteConfig  `yaml:"sites"`
}

type SiteConfig struct {
	Name       string   `yaml:"name"`
	StartURLs  []string `yaml:"start_urls"`
	Product    string   `yaml:"product"`
	ProductURL string   `yaml:"product_url"`
	Title      string   `yaml:"title"`
	Price      string   `yaml:"price"`
	PriceSale  string   `yaml:"price_sale"`
	PriceBenef string   `yaml:"price_benef"`
	Code       string   `yaml:"code"`
	Brand      string   `yaml:"brand"`
	NextPage   string   `yaml:"next_page"`
}

type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/scr-pharma/config.yaml"),
			"/etc/scr-pharma/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.Model == "" {
		config.Embedder.Model = "all-minilm"
	}
	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.Dimension == 0 {
		config.Embedder.Dimension = 384
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 64
	}
	if config.Embedder.Concurrency == 0 {
		config.Embedder.Concurrency = 1
	}

	if config.Database.Driver == "" {
		config.Database.Driver = "postgres"
	}

	if config.Index.Backend == "" {
		config.Index.Backend = "pgvector"
	}
	if config.Index.Collection == "" {
		config.Index.Collection = "scr_pharma"
	}
	if config.Index.Path == "" {
		config.Index.Path = "datafolder/index.db"
	}
	if config.Index.URL == "" {
		config.Index.URL = config.Database.URL
	}
	if config.Index.MaxBatchSize == 0 {
		config.Index.MaxBatchSize = 5461
	}

	if config.Matcher.K == 0 {
		config.Matcher.K = 10
	}

	if config.Cache.Type == "" {
		config.Cache.Type = "none"
	}
	if config.Cache.TTL == 0 {
		config.Cache.TTL = 30 * 24 * time.Hour
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}
	if config.Scraper.MaxPages == 0 {
		config.Scraper.MaxPages = 50
	}

	if config.Schedule.Cron == "" {
		config.Schedule.Cron = "0 0 3 * * *"
	}

	if config.Log.Mode == "" {
		config.Log.Mode = "development"
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if vecURL := os.Getenv("VECTOR_DATABASE_URL"); vecURL != "" {
		config.Index.URL = vecURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.Cache.RedisURL = redisURL
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
