package processor

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
)

type ProcessorConfig struct {
	// MaxLength caps names, codes, brands and URLs, in characters.
	MaxLength int
	Now       func() time.Time
}

// Processor turns raw scraped items into storable external products.
type Processor struct {
	config ProcessorConfig
}

type Stats struct {
	Input   int
	Output  int
	Merged  int
	Dropped int
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MaxLength == 0 {
		config.MaxLength = 255
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return Processor{
		config: config,
	}
}

// Process cleans items and merges those sharing a URL, joining their
// categories with " | ". Items without a URL are dropped. Output keeps the
// order in which each URL was first seen.
func (p *Processor) Process(items []models.ScrapedItem) ([]models.ExternalProduct, Stats) {
	stats := Stats{Input: len(items)}
	var products []models.ExternalProduct
	seen := make(map[string]int)

	for _, item := range items {
		product := p.clean(item)
		if product.URL == "" {
			stats.Dropped++
			continue
		}

		if i, ok := seen[product.URL]; ok {
			products[i].Category = mergeCategory(products[i].Category, product.Category)
			stats.Merged++
			continue
		}

		seen[product.URL] = len(products)
		products = append(products, product)
	}

	stats.Output = len(products)
	return products, stats
}

func (p *Processor) clean(item models.ScrapedItem) models.ExternalProduct {
	price := CleanPrice(item.Price)
	sale := CleanPrice(item.PriceSale)

	// A listing without a discount shows one price; use it for both.
	if price.IsZero() {
		price = sale
	}
	if sale.IsZero() {
		sale = price
	}

	scrapedAt := item.Timestamp
	if scrapedAt.IsZero() {
		scrapedAt = p.config.Now()
	}

	return models.ExternalProduct{
		Name:       p.truncate(CleanName(item.Name)),
		Code:       p.truncate(collapseSpaces(item.Code)),
		Price:      price,
		PriceSale:  sale,
		PriceBenef: CleanPrice(item.PriceBenef),
		URL:        p.truncate(strings.TrimSpace(item.URL)),
		Category:   collapseSpaces(item.Category),
		Brand:      p.truncate(collapseSpaces(item.Brand)),
		SourceID:   item.SpiderName,
		ScrapedAt:  scrapedAt,
	}
}

// CleanPrice keeps only the digits of a displayed price, so "$1.990" is
// 1990. Text without digits is zero.
func CleanPrice(value string) decimal.Decimal {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, value)

	if digits == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CleanName replaces commas with dots and collapses whitespace.
func CleanName(name string) string {
	return collapseSpaces(strings.ReplaceAll(name, ",", "."))
}

func collapseSpaces(text string) string {
	return strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
}

func (p *Processor) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= p.config.MaxLength {
		return text
	}
	return string(runes[:p.config.MaxLength])
}

func mergeCategory(existing, next string) string {
	if next == "" {
		return existing
	}
	if existing == "" {
		return next
	}
	for _, c := range strings.Split(existing, " | ") {
		if c == next {
			return existing
		}
	}
	return existing + " | " + next
}
