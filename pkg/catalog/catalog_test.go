package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/catalog"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/config"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := catalog.Open(config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "catalog.db") + "?_foreign_keys=on",
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close(db) })
	return db
}

func externalProduct(url, source string) models.ExternalProduct {
	return models.ExternalProduct{
		Name:      "Paracetamol 500mg x 16 comprimidos",
		Code:      "PAR500",
		Price:     decimal.RequireFromString("1990"),
		PriceSale: decimal.RequireFromString("1490"),
		URL:       url,
		SourceID:  source,
		ScrapedAt: time.Now(),
	}
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewRepository(newTestDB(t), logger.Nop())

	require.NoError(t, repo.SaveInternalProducts(ctx, []models.InternalProduct{
		{ProdCode: "B2", ProdCode2: "7800001", Name: "Ibuprofeno 400mg"},
		{ProdCode: "A1", ProdCode2: "7800002", Name: "Paracetamol 500mg"},
	}))

	internal, err := repo.ListInternalProducts(ctx)
	require.NoError(t, err)
	require.Len(t, internal, 2)
	assert.Equal(t, "A1", internal[0].ProdCode)

	require.NoError(t, repo.SaveExternalProducts(ctx, []models.ExternalProduct{
		externalProduct("https://www.cruzverde.cl/paracetamol", "cruzverde"),
		externalProduct("https://www.farmex.cl/paracetamol", "farmex"),
	}))

	external, err := repo.ListExternalProducts(ctx)
	require.NoError(t, err)
	require.Len(t, external, 2)

	got, err := repo.GetExternalProduct(ctx, external[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "cruzverde", got.SourceID)
	assert.True(t, decimal.RequireFromString("1990").Equal(got.Price))

	_, err = repo.GetExternalProduct(ctx, 9999)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestSaveExternalProductsUpsertsOnURL(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewRepository(newTestDB(t), logger.Nop())

	first := externalProduct("https://www.profar.cl/p/1", "profar")
	require.NoError(t, repo.SaveExternalProducts(ctx, []models.ExternalProduct{first}))

	again := externalProduct("https://www.profar.cl/p/1", "profar")
	again.Price = decimal.RequireFromString("1790")
	require.NoError(t, repo.SaveExternalProducts(ctx, []models.ExternalProduct{again}))

	external, err := repo.ListExternalProducts(ctx)
	require.NoError(t, err)
	require.Len(t, external, 1)
	assert.True(t, decimal.RequireFromString("1790").Equal(external[0].Price))
}

func TestBatchTracker(t *testing.T) {
	ctx := context.Background()
	tracker := catalog.NewBatchTracker(newTestDB(t), logger.Nop())

	before := time.Now().Add(-time.Second)
	batch, err := tracker.CreateBatch(ctx, "run-1")
	require.NoError(t, err)
	assert.Positive(t, batch.ID)
	assert.Equal(t, models.BatchStatusOpen, batch.Status)
	assert.Equal(t, "carga scraping", batch.Description)
	assert.True(t, batch.CreatedAt.After(before))

	second, err := tracker.CreateBatch(ctx, "run-2")
	require.NoError(t, err)
	assert.Greater(t, second.ID, batch.ID)

	require.NoError(t, tracker.FinalizeBatch(ctx, batch.ID, models.BatchStatusCompleted, 7))
	stored, err := tracker.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 7, stored.RowCount)
	assert.NotNil(t, stored.FinishedAt)

	err = tracker.FinalizeBatch(ctx, batch.ID, models.BatchStatusOpen, 0)
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))

	err = tracker.FinalizeBatch(ctx, 9999, models.BatchStatusFailed, 0)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func resultRows(n int) []models.ResultRow {
	site := 11
	rows := make([]models.ResultRow, n)
	for i := range rows {
		rows[i] = models.ResultRow{
			SourceID: "cruzverde",
			SiteID:   &site,
			ProdCode: fmt.Sprintf("P%d", i),
			ExtName:  "Paracetamol 500mg",
			Price:    decimal.NewFromInt(1990),
			Distance: 0.25,
			URL:      fmt.Sprintf("https://www.cruzverde.cl/p/%d", i),
		}
	}
	return rows
}

func TestResultWriter(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tracker := catalog.NewBatchTracker(db, logger.Nop())
	writer := catalog.NewResultWriter(db, logger.Nop())
	repo := catalog.NewRepository(db, logger.Nop())

	batch, err := tracker.CreateBatch(ctx, "run-1")
	require.NoError(t, err)

	require.NoError(t, writer.Write(ctx, batch.ID, resultRows(3)))
	require.NoError(t, writer.Write(ctx, batch.ID, nil))

	rows, err := repo.ListResults(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, batch.ID, row.LoadID)
		require.NotNil(t, row.SiteID)
		assert.Equal(t, 11, *row.SiteID)
	}
	assert.Equal(t, "P0", rows[0].ProdCode)
}

func TestResultWriterUnknownBatch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	writer := catalog.NewResultWriter(db, logger.Nop())

	err := writer.Write(ctx, 42, resultRows(2))
	assert.True(t, errors.Is(err, types.ErrPersistence))

	var count int64
	require.NoError(t, db.Model(&models.ResultRow{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestResultWriterIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tracker := catalog.NewBatchTracker(db, logger.Nop())
	writer := catalog.NewResultWriter(db, logger.Nop())

	batch, err := tracker.CreateBatch(ctx, "run-1")
	require.NoError(t, err)

	// Fail the second insert statement, after the first chunk went in.
	inserts := 0
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:fail_second_chunk", func(tx *gorm.DB) {
		if tx.Statement.Table != "scr_result" {
			return
		}
		inserts++
		if inserts == 2 {
			tx.AddError(errors.New("disk full"))
		}
	}))

	err = writer.Write(ctx, batch.ID, resultRows(1500))
	assert.True(t, errors.Is(err, types.ErrPersistence))

	var count int64
	require.NoError(t, db.Model(&models.ResultRow{}).Count(&count).Error)
	assert.Zero(t, count)
}
