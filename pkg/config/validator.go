package config

import (
	"fmt"
	"net/url"
	"regexp"
)

var collectionNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Embedder config
	switch c.Embedder.Provider {
	case "ollama":
		if c.Embedder.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "embedder.base_url",
				Message: "Ollama base URL is required",
			})
		} else if _, err := url.ParseRequestURI(c.Embedder.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "embedder.base_url",
				Message: "invalid Ollama base URL",
			})
		}
	case "hash":
	default:
		errors = append(errors, ValidationError{
			Field:   "embedder.provider",
			Message: fmt.Sprintf("unknown embedding provider: %s", c.Embedder.Provider),
		})
	}

	if c.Embedder.Dimension < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.dimension",
			Message: "dimension must be positive",
		})
	}

	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedder.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.concurrency",
			Message: "concurrency must be positive",
		})
	}

	// Validate Database config
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		errors = append(errors, ValidationError{
			Field:   "database.driver",
			Message: "driver must be 'postgres' or 'sqlite'",
		})
	}

	if c.Database.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "database URL is required",
		})
	} else if c.Database.Driver == "postgres" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	// Validate Index config
	switch c.Index.Backend {
	case "memory":
	case "bolt":
		if c.Index.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "index.path",
				Message: "path is required for the bolt backend",
			})
		}
	case "pgvector":
		if c.Index.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "index.url",
				Message: "URL is required for the pgvector backend",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "index.backend",
			Message: fmt.Sprintf("unknown index backend: %s", c.Index.Backend),
		})
	}

	if !collectionNameRe.MatchString(c.Index.Collection) {
		errors = append(errors, ValidationError{
			Field:   "index.collection",
			Message: fmt.Sprintf("invalid collection name: %q", c.Index.Collection),
		})
	}

	if c.Index.MaxBatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "index.max_batch_size",
			Message: "max_batch_size must be positive",
		})
	}

	// Validate Matcher config
	if c.Matcher.K < 1 {
		errors = append(errors, ValidationError{
			Field:   "matcher.k",
			Message: "k must be positive",
		})
	}

	for source := range c.Matcher.SiteIDs {
		if len(c.Matcher.ApprovedSources) > 0 && !contains(c.Matcher.ApprovedSources, source) {
			errors = append(errors, ValidationError{
				Field:   "matcher.site_ids",
				Message: fmt.Sprintf("site id given for source outside approved_sources: %s", source),
			})
		}
	}

	// Validate Cache config
	switch c.Cache.Type {
	case "none", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errors = append(errors, ValidationError{
				Field:   "cache.redis_url",
				Message: "Redis URL is required when cache type is 'redis'",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "cache.type",
			Message: "cache type must be 'none', 'memory' or 'redis'",
		})
	}

	// Validate Scraper config
	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	for _, site := range c.Scraper.Sites {
		if site.Name == "" || site.Product == "" || site.Title == "" {
			errors = append(errors, ValidationError{
				Field:   "scraper.sites",
				Message: fmt.Sprintf("site %q needs name, product and title selectors", site.Name),
			})
		}
		for _, start := range site.StartURLs {
			if _, err := url.ParseRequestURI(start); err != nil {
				errors = append(errors, ValidationError{
					Field:   "scraper.sites",
					Message: fmt.Sprintf("invalid start URL for %s: %s", site.Name, start),
				})
			}
		}
	}

	return errors
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
