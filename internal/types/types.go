package types

import (
	"context"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
)

// Core interfaces
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	// EncodeMany returns one vector per input, in input order.
	EncodeMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

type CatalogReader interface {
	ListInternalProducts(ctx context.Context) ([]models.InternalProduct, error)
	ListExternalProducts(ctx context.Context) ([]models.ExternalProduct, error)
	// GetExternalProduct returns ErrNotFound when the id no longer exists.
	GetExternalProduct(ctx context.Context, id int64) (models.ExternalProduct, error)
}

type BatchTracker interface {
	CreateBatch(ctx context.Context, runID string) (models.LoadBatch, error)
	FinalizeBatch(ctx context.Context, id int64, status string, rowCount int) error
}

type ResultWriter interface {
	Write(ctx context.Context, loadID int64, rows []models.ResultRow) error
}
