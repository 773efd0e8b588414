package catalog

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
)

const writeBatchSize = 1000

// ResultWriter appends match results for a load batch.
type ResultWriter struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResultWriter(db *gorm.DB, log *logger.Logger) *ResultWriter {
	return &ResultWriter{db: db, log: log.With("service", "ResultWriter")}
}

// Write inserts rows under loadID in one transaction. Either every row is
// committed or none is; failures are reported as ErrPersistence.
func (w *ResultWriter) Write(ctx context.Context, loadID int64, rows []models.ResultRow) error {
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.LoadBatch
		if err := tx.First(&batch, loadID).Error; err != nil {
			return fmt.Errorf("load batch %d: %w", loadID, err)
		}
		if len(rows) == 0 {
			return nil
		}

		records := make([]models.ResultRow, len(rows))
		for i, row := range rows {
			row.ID = 0
			row.LoadID = loadID
			row.Load = nil
			records[i] = row
		}
		return tx.CreateInBatches(&records, writeBatchSize).Error
	})
	if err != nil {
		w.log.Error("Failed to write results", "load_id", loadID, "rows", len(rows), "error", err)
		return fmt.Errorf("%w: %w", types.ErrPersistence, err)
	}

	w.log.Info("Wrote results", "load_id", loadID, "rows", len(rows))
	return nil
}
