// Package matcher pairs internal catalog products with the nearest scraped
// listings from approved pharmacies.
package matcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/index"
)

const DefaultK = 10

// DefaultApprovedSources are the pharmacies whose listings may appear in results.
var DefaultApprovedSources = []string{"cruzverde", "ahumada", "salcobrand", "profar", "ligafarmacia"}

// DefaultSiteIDs maps each approved pharmacy to its site id in scr_result.
var DefaultSiteIDs = map[string]int{
	"cruzverde":    11,
	"ahumada":      12,
	"salcobrand":   13,
	"profar":       14,
	"ligafarmacia": 15,
}

type Config struct {
	ApprovedSources []string
	SiteIDs         map[string]int
	K               int
}

func DefaultConfig() Config {
	return Config{ApprovedSources: DefaultApprovedSources, SiteIDs: DefaultSiteIDs, K: DefaultK}
}

// Searcher is the part of an index collection the matcher needs.
type Searcher interface {
	Query(ctx context.Context, vector []float32, k int, filter *index.Filter) ([]index.Hit, error)
}

type Matcher struct {
	approved  []string
	allowlist map[string]struct{}
	siteIDs   map[string]int
	k         int

	embedder types.Embedder
	searcher Searcher
	catalog  types.CatalogReader
	log      *logger.Logger
}

// New builds a matcher. Empty config fields take the defaults; the config is
// copied so later changes by the caller have no effect.
func New(config Config, embedder types.Embedder, searcher Searcher, catalog types.CatalogReader, log *logger.Logger) *Matcher {
	if len(config.ApprovedSources) == 0 {
		config.ApprovedSources = DefaultApprovedSources
	}
	if config.SiteIDs == nil {
		config.SiteIDs = DefaultSiteIDs
	}
	if config.K <= 0 {
		config.K = DefaultK
	}

	m := &Matcher{
		approved:  append([]string(nil), config.ApprovedSources...),
		allowlist: make(map[string]struct{}, len(config.ApprovedSources)),
		siteIDs:   make(map[string]int, len(config.SiteIDs)),
		k:         config.K,
		embedder:  embedder,
		searcher:  searcher,
		catalog:   catalog,
		log:       log.With("service", "Matcher"),
	}
	for _, s := range config.ApprovedSources {
		m.allowlist[s] = struct{}{}
	}
	for s, id := range config.SiteIDs {
		m.siteIDs[s] = id
	}
	return m
}

func (m *Matcher) ApprovedSources() []string {
	return append([]string(nil), m.approved...)
}

// SiteID returns the site id for source, or nil when none is configured.
func (m *Matcher) SiteID(source string) *int {
	id, ok := m.siteIDs[source]
	if !ok {
		return nil
	}
	return &id
}

// MatchProduct returns up to K candidates for p, closest first. Hits whose
// listing has since been deleted are skipped.
func (m *Matcher) MatchProduct(ctx context.Context, p models.InternalProduct) ([]models.MatchCandidate, error) {
	vector, err := m.embedder.Encode(ctx, p.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", p.ProdCode, err)
	}

	hits, err := m.searcher.Query(ctx, vector, m.k, &index.Filter{Sources: m.approved})
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbours of %s: %w", p.ProdCode, err)
	}

	candidates := make([]models.MatchCandidate, 0, len(hits))
	for _, hit := range hits {
		source := hit.Metadata.SourceID
		if _, ok := m.allowlist[source]; !ok {
			m.log.Warn("Dropping hit from unapproved source", "source", source, "id", hit.ID)
			continue
		}

		external, err := m.catalog.GetExternalProduct(ctx, hit.Metadata.ExternalID)
		if errors.Is(err, types.ErrNotFound) {
			m.log.Warn("Skipping hit for missing external product", "prodcode", p.ProdCode, "external_id", hit.Metadata.ExternalID)
			continue
		}
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, models.MatchCandidate{
			Internal: p,
			External: external,
			SourceID: source,
			SiteID:   m.SiteID(source),
			Distance: hit.Distance,
		})
	}
	return candidates, nil
}

// MatchAll matches every product in order. A product whose name cannot be
// encoded is logged and skipped; any other failure stops the run. progress,
// if set, is called after each product.
func (m *Matcher) MatchAll(ctx context.Context, products []models.InternalProduct, progress func()) ([]models.MatchCandidate, error) {
	var all []models.MatchCandidate
	skipped := 0

	for _, p := range products {
		candidates, err := m.MatchProduct(ctx, p)
		if errors.Is(err, types.ErrEncoding) {
			m.log.Warn("Skipping product with unencodable name", "prodcode", p.ProdCode, "error", err)
			skipped++
		} else if err != nil {
			return nil, err
		}
		all = append(all, candidates...)

		if progress != nil {
			progress()
		}
	}

	m.log.Info("Matching finished", "products", len(products), "skipped", skipped, "candidates", len(all))
	return all, nil
}
