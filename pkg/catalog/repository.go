package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
)

const saveBatchSize = 500

// Repository gives access to the internal catalog and the scraped listings.
type Repository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepository(db *gorm.DB, log *logger.Logger) *Repository {
	return &Repository{db: db, log: log.With("service", "Repository")}
}

func (r *Repository) ListInternalProducts(ctx context.Context) ([]models.InternalProduct, error) {
	var products []models.InternalProduct
	if err := r.db.WithContext(ctx).Order("prodcode").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list internal products: %w", err)
	}
	return products, nil
}

func (r *Repository) ListExternalProducts(ctx context.Context) ([]models.ExternalProduct, error) {
	var products []models.ExternalProduct
	if err := r.db.WithContext(ctx).Order("id").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list external products: %w", err)
	}
	return products, nil
}

func (r *Repository) GetExternalProduct(ctx context.Context, id int64) (models.ExternalProduct, error) {
	var product models.ExternalProduct
	err := r.db.WithContext(ctx).First(&product, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return product, fmt.Errorf("external product %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return product, fmt.Errorf("failed to get external product %d: %w", id, err)
	}
	return product, nil
}

// SaveExternalProducts upserts listings on their URL, so a listing scraped
// again keeps its id and gets fresh prices.
func (r *Repository) SaveExternalProducts(ctx context.Context, products []models.ExternalProduct) error {
	if len(products) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"code",
			"price",
			"price_sale",
			"price_benef",
			"category",
			"brand",
			"spider_name",
			"timestamp",
		}),
	}).CreateInBatches(&products, saveBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to save external products: %w", err)
	}
	r.log.Info("Saved external products", "count", len(products))
	return nil
}

func (r *Repository) SaveInternalProducts(ctx context.Context, products []models.InternalProduct) error {
	if len(products) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "prodcode"}},
		DoUpdates: clause.AssignmentColumns([]string{"prodcode2", "name"}),
	}).CreateInBatches(&products, saveBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to save internal products: %w", err)
	}
	return nil
}

// ListResults returns the rows written for a load batch in insertion order.
func (r *Repository) ListResults(ctx context.Context, loadID int64) ([]models.ResultRow, error) {
	var rows []models.ResultRow
	if err := r.db.WithContext(ctx).Where("id_load = ?", loadID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return rows, nil
}
