package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExternalProduct is a competitor listing scraped from a pharmacy site.
type ExternalProduct struct {
	ID         int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Name       string          `gorm:"column:name;size:255"`
	Code       string          `gorm:"column:code;size:255"`
	Price      decimal.Decimal `gorm:"column:price;type:decimal(12,2)"`
	PriceSale  decimal.Decimal `gorm:"column:price_sale;type:decimal(12,2)"`
	PriceBenef decimal.Decimal `gorm:"column:price_benef;type:decimal(12,2)"`
	URL        string          `gorm:"column:url;size:255;uniqueIndex"`
	Category   string          `gorm:"column:category;type:text"`
	Brand      string          `gorm:"column:brand;size:255"`
	SourceID   string          `gorm:"column:spider_name;size:64;index"`
	ScrapedAt  time.Time       `gorm:"column:timestamp"`
}

func (ExternalProduct) TableName() string {
	return "scr_pharma"
}

// InternalProduct is a row of the reference catalog.
type InternalProduct struct {
	ProdCode  string `gorm:"column:prodcode;primaryKey;size:64"`
	ProdCode2 string `gorm:"column:prodcode2;size:64"`
	Name      string `gorm:"column:name;size:255"`
}

func (InternalProduct) TableName() string {
	return "prd_product"
}

// ScrapedItem is a listing as read off a page, before normalization.
type ScrapedItem struct {
	Name       string
	URL        string
	Category   string
	Price      string
	PriceSale  string
	PriceBenef string
	Code       string
	Brand      string
	SpiderName string
	Timestamp  time.Time
}
