// Package pipeline runs ingestion of scraped listings into the vector index
// followed by matching of the internal catalog against it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/index"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/llm"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/matcher"
)

// Progress receives per-stage progress. Implementations must tolerate
// total == 0.
type Progress interface {
	Start(stage string, total int)
	Step()
	Finish()
}

type nopProgress struct{}

func (nopProgress) Start(string, int) {}
func (nopProgress) Step()             {}
func (nopProgress) Finish()           {}

type Config struct {
	Collection string
	// Fresh drops the collection before ingest. Without it an existing
	// collection makes Ingest fail with ErrAlreadyExists.
	Fresh   bool
	Matcher matcher.Config
}

type Pipeline struct {
	config   Config
	catalog  types.CatalogReader
	embedder types.Embedder
	index    *index.Index
	tracker  types.BatchTracker
	writer   types.ResultWriter
	progress Progress
	log      *logger.Logger
}

type Option func(*Pipeline)

func WithProgress(progress Progress) Option {
	return func(p *Pipeline) { p.progress = progress }
}

func New(config Config, catalog types.CatalogReader, embedder types.Embedder, ix *index.Index,
	tracker types.BatchTracker, writer types.ResultWriter, log *logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		config:   config,
		catalog:  catalog,
		embedder: embedder,
		index:    ix,
		tracker:  tracker,
		writer:   writer,
		progress: nopProgress{},
		log:      log.With("service", "Pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type IngestReport struct {
	Indexed int
	Skipped int
}

type MatchReport struct {
	RunID  string
	LoadID int64
	Rows   int
	Status string
}

// Ingest builds the collection from every external product. Listings whose
// name cannot be encoded are left out with a warning.
func (p *Pipeline) Ingest(ctx context.Context) (IngestReport, error) {
	var report IngestReport
	start := time.Now()

	if p.config.Fresh {
		p.log.Info("Dropping collection before ingest", "collection", p.config.Collection)
		if err := p.index.DropCollection(ctx, p.config.Collection); err != nil {
			return report, err
		}
	}
	collection, err := p.index.CreateCollection(ctx, p.config.Collection)
	if err != nil {
		if errors.Is(err, types.ErrAlreadyExists) {
			return report, fmt.Errorf("collection %s already exists, drop it before ingest: %w", p.config.Collection, err)
		}
		return report, err
	}

	products, err := p.catalog.ListExternalProducts(ctx)
	if err != nil {
		return report, err
	}
	p.log.Info("Loaded external products", "count", len(products))

	ids := make([]string, 0, len(products))
	names := make([]string, 0, len(products))
	metadatas := make([]models.Metadata, 0, len(products))
	for _, product := range products {
		if err := llm.ValidateText(product.Name); err != nil {
			p.log.Warn("Skipping external product", "id", product.ID, "source", product.SourceID, "error", err)
			report.Skipped++
			continue
		}
		record := models.EmbeddingRecord{ExternalProductID: product.ID, SourceID: product.SourceID}
		ids = append(ids, strconv.FormatInt(product.ID, 10))
		names = append(names, product.Name)
		metadatas = append(metadatas, record.Metadata())
	}

	p.progress.Start("encoding", len(names))
	vectors, err := p.embedder.EncodeMany(ctx, names)
	p.progress.Finish()
	if err != nil {
		return report, fmt.Errorf("failed to encode external products: %w", err)
	}

	if err := collection.Add(ctx, ids, vectors, metadatas); err != nil {
		return report, err
	}

	report.Indexed = len(ids)
	p.log.Info("Ingest finished", "indexed", report.Indexed, "skipped", report.Skipped, "elapsed", time.Since(start))
	return report, nil
}

// Match opens a load batch, matches every internal product and writes the
// results under it. The batch is finalized as failed if anything after its
// creation goes wrong.
func (p *Pipeline) Match(ctx context.Context, runID string) (MatchReport, error) {
	report := MatchReport{RunID: runID}
	start := time.Now()

	batch, err := p.tracker.CreateBatch(ctx, runID)
	if err != nil {
		return report, err
	}
	report.LoadID = batch.ID

	rows, err := p.match(ctx, batch.ID)
	if err != nil {
		report.Status = models.BatchStatusFailed
		if ferr := p.tracker.FinalizeBatch(ctx, batch.ID, models.BatchStatusFailed, 0); ferr != nil {
			p.log.Error("Failed to mark load batch as failed", "id", batch.ID, "error", ferr)
			return report, errors.Join(err, ferr)
		}
		return report, err
	}

	if err := p.tracker.FinalizeBatch(ctx, batch.ID, models.BatchStatusCompleted, rows); err != nil {
		return report, err
	}
	report.Rows = rows
	report.Status = models.BatchStatusCompleted

	p.log.Info("Match finished", "load_id", batch.ID, "rows", rows, "elapsed", time.Since(start))
	return report, nil
}

func (p *Pipeline) match(ctx context.Context, loadID int64) (int, error) {
	collection, err := p.index.OpenCollection(ctx, p.config.Collection)
	if err != nil {
		return 0, err
	}

	products, err := p.catalog.ListInternalProducts(ctx)
	if err != nil {
		return 0, err
	}
	p.log.Info("Loaded internal products", "count", len(products))

	m := matcher.New(p.config.Matcher, p.embedder, collection, p.catalog, p.log)

	p.progress.Start("matching", len(products))
	candidates, err := m.MatchAll(ctx, products, p.progress.Step)
	p.progress.Finish()
	if err != nil {
		return 0, err
	}

	rows := make([]models.ResultRow, len(candidates))
	for i, c := range candidates {
		rows[i] = c.ResultRow(loadID)
	}
	if err := p.writer.Write(ctx, loadID, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Run ingests then matches under a fresh run id.
func (p *Pipeline) Run(ctx context.Context) (MatchReport, error) {
	runID := uuid.NewString()
	p.log.Info("Starting run", "run_id", runID)

	if _, err := p.Ingest(ctx); err != nil {
		return MatchReport{RunID: runID}, fmt.Errorf("ingest failed: %w", err)
	}
	report, err := p.Match(ctx, runID)
	if err != nil {
		return report, fmt.Errorf("match failed: %w", err)
	}
	return report, nil
}

// NewRunID returns an id for a match-only run.
func NewRunID() string {
	return uuid.NewString()
}
