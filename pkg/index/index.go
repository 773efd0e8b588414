// Package index stores product name embeddings in named collections and
// answers nearest-neighbour queries restricted to a set of sources.
package index

import (
	"context"
	"fmt"
	"regexp"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
)

// DefaultMaxBatchSize is the largest number of entries written in one backend call.
const DefaultMaxBatchSize = 5461

var collectionNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Entry is one vector with its metadata, as handed to a backend.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata models.Metadata
}

// Hit is a query result. Distance is the Euclidean distance to the query vector.
type Hit struct {
	ID       string
	Metadata models.Metadata
	Distance float64
}

// Filter restricts a query to entries whose source is in Sources. An empty
// Sources list matches nothing; pass a nil *Filter for an unrestricted query.
type Filter struct {
	Sources []string
}

// Backend is the storage engine behind an Index. Inputs reaching a backend
// have already been validated.
type Backend interface {
	// CreateCollection returns ErrAlreadyExists when name is taken.
	CreateCollection(ctx context.Context, name string, dim int) error
	// CollectionDim returns ErrNotFound when name does not exist.
	CollectionDim(ctx context.Context, name string) (int, error)
	DropCollection(ctx context.Context, name string) error
	// Existing returns the subset of ids already stored in the collection.
	Existing(ctx context.Context, name string, ids []string) ([]string, error)
	Insert(ctx context.Context, name string, entries []Entry) error
	// Search returns up to k hits ordered by distance, then insertion order.
	Search(ctx context.Context, name string, vector []float32, k int, filter *Filter) ([]Hit, error)
	Count(ctx context.Context, name string) (int, error)
	Close() error
}

type IndexConfig struct {
	Dimension    int
	MaxBatchSize int
}

type Index struct {
	backend Backend
	config  IndexConfig
	log     *logger.Logger
}

type Option func(*Index)

func WithLogger(log *logger.Logger) Option {
	return func(ix *Index) { ix.log = log }
}

func NewWithConfig(backend Backend, config IndexConfig, opts ...Option) (*Index, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", types.ErrInvalidArgument)
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = DefaultMaxBatchSize
	}

	ix := &Index{backend: backend, config: config, log: logger.Nop()}
	for _, opt := range opts {
		opt(ix)
	}
	ix.log = ix.log.With("service", "Index")
	return ix, nil
}

func (ix *Index) Dimension() int {
	return ix.config.Dimension
}

// CreateCollection creates an empty collection. It fails with ErrAlreadyExists
// if the name is taken; callers wanting a fresh collection drop it first.
func (ix *Index) CreateCollection(ctx context.Context, name string) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ix.backend.CreateCollection(ctx, name, ix.config.Dimension); err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	ix.log.Info("Created collection", "collection", name, "dim", ix.config.Dimension)
	return &Collection{name: name, dim: ix.config.Dimension, index: ix}, nil
}

// OpenCollection returns an existing collection or ErrNotFound.
func (ix *Index) OpenCollection(ctx context.Context, name string) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	dim, err := ix.backend.CollectionDim(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}
	if dim != ix.config.Dimension {
		return nil, fmt.Errorf("%w: collection %s holds %d-dim vectors, index expects %d",
			types.ErrInvalidArgument, name, dim, ix.config.Dimension)
	}
	return &Collection{name: name, dim: dim, index: ix}, nil
}

// DropCollection removes a collection and its entries. Dropping a missing
// collection is not an error.
func (ix *Index) DropCollection(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ix.backend.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	ix.log.Info("Dropped collection", "collection", name)
	return nil
}

func (ix *Index) Close() error {
	return ix.backend.Close()
}

func validateName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: invalid collection name %q", types.ErrInvalidArgument, name)
	}
	return nil
}

type Collection struct {
	name  string
	dim   int
	index *Index
}

func (c *Collection) Name() string {
	return c.name
}

// Add stores vectors under ids with their metadata. The whole call is checked
// before anything is written; it is then sent to the backend in chunks of at
// most MaxBatchSize entries.
func (c *Collection) Add(ctx context.Context, ids []string, vectors [][]float32, metadatas []models.Metadata) error {
	if len(ids) != len(vectors) || len(ids) != len(metadatas) {
		return fmt.Errorf("%w: %d ids, %d vectors, %d metadatas",
			types.ErrInvalidBatch, len(ids), len(vectors), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty id at position %d", types.ErrInvalidBatch, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate id %s", types.ErrInvalidBatch, id)
		}
		seen[id] = struct{}{}

		if len(vectors[i]) != c.dim {
			return fmt.Errorf("%w: vector %s has dimension %d, expected %d",
				types.ErrInvalidBatch, id, len(vectors[i]), c.dim)
		}
		if metadatas[i].ExternalID <= 0 || metadatas[i].SourceID == "" {
			return fmt.Errorf("%w: invalid metadata for %s", types.ErrInvalidBatch, id)
		}
	}

	existing, err := c.index.backend.Existing(ctx, c.name, ids)
	if err != nil {
		return fmt.Errorf("failed to check existing ids: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: id %s already stored in %s", types.ErrInvalidBatch, existing[0], c.name)
	}

	size := c.index.config.MaxBatchSize
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}

		entries := make([]Entry, 0, end-start)
		for i := start; i < end; i++ {
			entries = append(entries, Entry{ID: ids[i], Vector: vectors[i], Metadata: metadatas[i]})
		}

		if err := c.index.backend.Insert(ctx, c.name, entries); err != nil {
			return fmt.Errorf("failed to insert entries %d-%d: %w", start, end, err)
		}
		c.index.log.Debug("Inserted chunk", "collection", c.name, "from", start, "to", end)
	}

	return nil
}

// Query returns up to k entries nearest to vector whose source is in
// filter.Sources, closest first. A nil filter searches every entry. No match
// is an empty result, not an error.
func (c *Collection) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", types.ErrInvalidArgument, k)
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, expected %d",
			types.ErrInvalidArgument, len(vector), c.dim)
	}

	hits, err := c.index.backend.Search(ctx, c.name, vector, k, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	return hits, nil
}

func (c *Collection) Count(ctx context.Context) (int, error) {
	n, err := c.index.backend.Count(ctx, c.name)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c.name, err)
	}
	return n, nil
}
