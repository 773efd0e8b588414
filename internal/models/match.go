package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metadata is attached to every vector index entry.
type Metadata struct {
	ExternalID int64  `json:"external_id"`
	SourceID   string `json:"source_id"`
}

type EmbeddingRecord struct {
	ExternalProductID int64
	Vector            []float32
	SourceID          string
}

func (r EmbeddingRecord) Metadata() Metadata {
	return Metadata{ExternalID: r.ExternalProductID, SourceID: r.SourceID}
}

// MatchCandidate pairs an internal product with one resolved index hit.
type MatchCandidate struct {
	Internal InternalProduct
	External ExternalProduct
	SourceID string
	SiteID   *int
	Distance float64
}

func (c MatchCandidate) ResultRow(loadID int64) ResultRow {
	return ResultRow{
		LoadID:     loadID,
		SourceID:   c.SourceID,
		SiteID:     c.SiteID,
		ProdCode:   c.Internal.ProdCode,
		ProdCode2:  c.Internal.ProdCode2,
		ExtCode:    c.External.Code,
		ExtName:    c.External.Name,
		Price:      c.External.Price,
		PriceSale:  c.External.PriceSale,
		PriceBenef: c.External.PriceBenef,
		Distance:   c.Distance,
		URL:        c.External.URL,
	}
}

const (
	BatchStatusOpen      = "P"
	BatchStatusCompleted = "A"
	BatchStatusFailed    = "F"
)

// LoadBatch is the lineage record of one matching run.
type LoadBatch struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	CreatedAt   time.Time  `gorm:"column:loaddate;not null"`
	Status      string     `gorm:"column:status;size:1;not null"`
	Description string     `gorm:"column:descrip;size:255"`
	RunID       string     `gorm:"column:run_id;size:36"`
	RowCount    int        `gorm:"column:qty"`
	FinishedAt  *time.Time `gorm:"column:dateto"`
}

func (LoadBatch) TableName() string {
	return "cfg_load"
}

type ResultRow struct {
	ID         int64           `gorm:"column:id;primaryKey;autoIncrement"`
	LoadID     int64           `gorm:"column:id_load;not null;index"`
	Load       *LoadBatch      `gorm:"foreignKey:LoadID;references:ID"`
	SourceID   string          `gorm:"column:source_id;size:64"`
	SiteID     *int            `gorm:"column:id_site"`
	ProdCode   string          `gorm:"column:prodcode;size:64"`
	ProdCode2  string          `gorm:"column:prodcode2;size:64"`
	ExtCode    string          `gorm:"column:codext;size:255"`
	ExtName    string          `gorm:"column:name;size:255"`
	Price      decimal.Decimal `gorm:"column:price;type:decimal(12,2)"`
	PriceSale  decimal.Decimal `gorm:"column:priceoffer;type:decimal(12,2)"`
	PriceBenef decimal.Decimal `gorm:"column:pdesctender;type:decimal(12,2)"`
	Distance   float64         `gorm:"column:prodrating"`
	URL        string          `gorm:"column:url;size:255"`
}

func (ResultRow) TableName() string {
	return "scr_result"
}
