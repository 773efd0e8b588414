package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/config"
)

// Open builds an Index on the backend named in cfg.
func Open(ctx context.Context, cfg config.IndexConfig, dim int, log *logger.Logger) (*Index, error) {
	var backend Backend
	switch cfg.Backend {
	case "memory":
		backend = NewMemoryBackend()
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		b, err := NewBoltBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		backend = b
	case "pgvector":
		b, err := NewPgvectorBackend(ctx, PgvectorConfig{ConnString: cfg.URL, IVFLists: cfg.IVFLists})
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
	}

	ix, err := NewWithConfig(backend, IndexConfig{Dimension: dim, MaxBatchSize: cfg.MaxBatchSize}, WithLogger(log))
	if err != nil {
		backend.Close()
		return nil, err
	}
	return ix, nil
}
