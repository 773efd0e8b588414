package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
)

const batchDescription = "carga scraping"

// BatchTracker records one cfg_load row per matching run.
type BatchTracker struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewBatchTracker(db *gorm.DB, log *logger.Logger) *BatchTracker {
	return &BatchTracker{db: db, log: log.With("service", "BatchTracker"), now: time.Now}
}

// CreateBatch inserts an open batch and returns it with its id.
func (t *BatchTracker) CreateBatch(ctx context.Context, runID string) (models.LoadBatch, error) {
	batch := models.LoadBatch{
		CreatedAt:   t.now(),
		Status:      models.BatchStatusOpen,
		Description: batchDescription,
		RunID:       runID,
	}
	if err := t.db.WithContext(ctx).Create(&batch).Error; err != nil {
		return models.LoadBatch{}, fmt.Errorf("%w: failed to create load batch: %w", types.ErrPersistence, err)
	}
	t.log.Info("Created load batch", "id", batch.ID, "run_id", runID)
	return batch, nil
}

// FinalizeBatch closes a batch as completed or failed.
func (t *BatchTracker) FinalizeBatch(ctx context.Context, id int64, status string, rowCount int) error {
	if status != models.BatchStatusCompleted && status != models.BatchStatusFailed {
		return fmt.Errorf("%w: cannot finalize batch with status %q", types.ErrInvalidArgument, status)
	}

	res := t.db.WithContext(ctx).Model(&models.LoadBatch{}).Where("id = ?", id).Updates(map[string]any{
		"status": status,
		"qty":    rowCount,
		"dateto": t.now(),
	})
	if res.Error != nil {
		return fmt.Errorf("%w: failed to finalize load batch %d: %w", types.ErrPersistence, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("load batch %d: %w", id, types.ErrNotFound)
	}
	t.log.Info("Finalized load batch", "id", id, "status", status, "rows", rowCount)
	return nil
}

func (t *BatchTracker) GetBatch(ctx context.Context, id int64) (models.LoadBatch, error) {
	var batch models.LoadBatch
	err := t.db.WithContext(ctx).First(&batch, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return batch, fmt.Errorf("load batch %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return batch, fmt.Errorf("failed to get load batch %d: %w", id, err)
	}
	return batch, nil
}
