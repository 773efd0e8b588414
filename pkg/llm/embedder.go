package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/sync/errgroup"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/cache"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider    string // "ollama" or "hash"
	Model       string
	BaseURL     string // Ollama server URL
	Dimension   int
	BatchSize   int
	Concurrency int
}

// Embedder turns product names into fixed-length vectors.
type Embedder struct {
	config EmbedderConfig
	client embeddings.EmbedderClient
	cache  cache.Store
	log    *logger.Logger
}

type Option func(*Embedder)

// WithClient replaces the provider client, e.g. with a fake in tests.
func WithClient(client embeddings.EmbedderClient) Option {
	return func(e *Embedder) { e.client = client }
}

func WithCache(store cache.Store) Option {
	return func(e *Embedder) { e.cache = store }
}

func WithLogger(log *logger.Logger) Option {
	return func(e *Embedder) { e.log = log }
}

func NewEmbedderWithConfig(config EmbedderConfig, opts ...Option) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		config.Model = "all-minilm" // 384 dimensions, same family as paraphrase-MiniLM-L6-v2
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.Dimension <= 0 {
		config.Dimension = 384
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	e := &Embedder{config: config, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		switch config.Provider {
		case "ollama":
			emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
			if err != nil {
				return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
			}
			e.client = emb
		case "hash":
			e.client = NewHashEmbedder(config.Dimension)
			e.config.Model = fmt.Sprintf("hash-%d", config.Dimension)
		default:
			return nil, fmt.Errorf("unknown embedding provider: %s", config.Provider)
		}
	}

	e.log = e.log.With("service", "Embedder", "model", e.config.Model)
	return e, nil
}

func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

func (e *Embedder) ModelName() string {
	return e.config.Model
}

// ValidateText reports whether text can be encoded. Callers are expected to
// pass cleaned names; nothing is trimmed or replaced here.
func ValidateText(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: text is not valid UTF-8", types.ErrEncoding)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty text", types.ErrEncoding)
	}
	return nil
}

func (e *Embedder) Encode(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EncodeMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) EncodeMany(ctx context.Context, texts []string) ([][]float32, error) {
	for i, text := range texts {
		if err := ValidateText(text); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}

	out := make([][]float32, len(texts))
	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if v, ok := e.cached(ctx, text); ok {
			out[i] = v
			continue
		}
		pending = append(pending, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		idx := pending[start:end]

		g.Go(func() error {
			batch := make([]string, len(idx))
			for j, i := range idx {
				batch[j] = texts[i]
			}

			vectors, err := e.client.CreateEmbedding(gctx, batch)
			if err != nil {
				return fmt.Errorf("failed to create embeddings: %w", err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
			}

			for j, i := range idx {
				if len(vectors[j]) != e.config.Dimension {
					return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.config.Dimension, len(vectors[j]))
				}
				out[i] = vectors[j]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, i := range pending {
		e.store(ctx, texts[i], out[i])
	}

	return out, nil
}

func (e *Embedder) cached(ctx context.Context, text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	v, err := e.cache.Get(ctx, cache.Key(e.config.Model, text))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			e.log.Warn("Embedding cache read failed", "error", err)
		}
		return nil, false
	}
	if len(v) != e.config.Dimension {
		return nil, false
	}
	return v, true
}

func (e *Embedder) store(ctx context.Context, text string, v []float32) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, cache.Key(e.config.Model, text), v); err != nil {
		e.log.Warn("Embedding cache write failed", "error", err)
	}
}
