package matcher_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/index"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/matcher"
)

// tableEmbedder returns fixed vectors per text.
type tableEmbedder map[string][]float32

func (e tableEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	v, ok := e[text]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrEncoding, text)
	}
	return v, nil
}

func (e tableEmbedder) EncodeMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Encode(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e tableEmbedder) Dimension() int    { return 2 }
func (e tableEmbedder) ModelName() string { return "table" }

type mapCatalog map[int64]models.ExternalProduct

func (c mapCatalog) ListInternalProducts(ctx context.Context) ([]models.InternalProduct, error) {
	return nil, nil
}

func (c mapCatalog) ListExternalProducts(ctx context.Context) ([]models.ExternalProduct, error) {
	return nil, nil
}

func (c mapCatalog) GetExternalProduct(ctx context.Context, id int64) (models.ExternalProduct, error) {
	p, ok := c[id]
	if !ok {
		return p, types.ErrNotFound
	}
	return p, nil
}

// leakySearcher ignores the filter, like a misbehaving backend.
type leakySearcher struct {
	hits []index.Hit
}

func (s leakySearcher) Query(ctx context.Context, vector []float32, k int, filter *index.Filter) ([]index.Hit, error) {
	return s.hits, nil
}

func newCollection(t *testing.T, products mapCatalog, vectors map[int64][]float32) *index.Collection {
	t.Helper()
	ctx := context.Background()
	ix, err := index.NewWithConfig(index.NewMemoryBackend(), index.IndexConfig{Dimension: 2})
	require.NoError(t, err)
	col, err := ix.CreateCollection(ctx, "scr_pharma")
	require.NoError(t, err)

	for id, p := range products {
		err := col.Add(ctx,
			[]string{fmt.Sprint(id)},
			[][]float32{vectors[id]},
			[]models.Metadata{{ExternalID: id, SourceID: p.SourceID}})
		require.NoError(t, err)
	}
	return col
}

func TestMatchProductRestrictsToApprovedSources(t *testing.T) {
	products := mapCatalog{
		1: {ID: 1, Name: "Paracetamol 500mg", SourceID: "cruzverde", URL: "https://cv/1"},
		2: {ID: 2, Name: "Paracetamol 500 mg", SourceID: "farmex", URL: "https://fx/2"},
		3: {ID: 3, Name: "Paracetamol 1g", SourceID: "ahumada", URL: "https://ah/3"},
	}
	vectors := map[int64][]float32{1: {0.1, 0}, 2: {0, 0}, 3: {1, 1}}
	emb := tableEmbedder{"Paracetamol 500mg": {0, 0}}

	m := matcher.New(matcher.Config{}, emb, newCollection(t, products, vectors), products, logger.Nop())

	candidates, err := m.MatchProduct(context.Background(), models.InternalProduct{ProdCode: "P1", Name: "Paracetamol 500mg"})
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "cruzverde", candidates[0].SourceID)
	require.NotNil(t, candidates[0].SiteID)
	assert.Equal(t, 11, *candidates[0].SiteID)
	assert.InDelta(t, 0.1, candidates[0].Distance, 1e-6)

	assert.Equal(t, "ahumada", candidates[1].SourceID)
	assert.Equal(t, 12, *candidates[1].SiteID)

	row := candidates[0].ResultRow(5)
	assert.Equal(t, int64(5), row.LoadID)
	assert.Equal(t, "P1", row.ProdCode)
	assert.Equal(t, "https://cv/1", row.URL)
}

func TestMatchProductDropsLeakedHits(t *testing.T) {
	products := mapCatalog{
		1: {ID: 1, SourceID: "farmex"},
		2: {ID: 2, SourceID: "profar"},
	}
	searcher := leakySearcher{hits: []index.Hit{
		{ID: "1", Metadata: models.Metadata{ExternalID: 1, SourceID: "farmex"}, Distance: 0},
		{ID: "2", Metadata: models.Metadata{ExternalID: 2, SourceID: "profar"}, Distance: 1},
	}}
	m := matcher.New(matcher.Config{}, tableEmbedder{"x": {0, 0}}, searcher, products, logger.Nop())

	candidates, err := m.MatchProduct(context.Background(), models.InternalProduct{Name: "x"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "profar", candidates[0].SourceID)
}

func TestMatchProductSkipsDeletedListings(t *testing.T) {
	products := mapCatalog{1: {ID: 1, SourceID: "profar"}, 2: {ID: 2, SourceID: "profar"}}
	col := newCollection(t, products, map[int64][]float32{1: {0, 0}, 2: {1, 0}})
	delete(products, 1)

	m := matcher.New(matcher.Config{}, tableEmbedder{"x": {0, 0}}, col, products, logger.Nop())
	candidates, err := m.MatchProduct(context.Background(), models.InternalProduct{Name: "x"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(2), candidates[0].External.ID)
}

func TestUnknownSiteIDIsNil(t *testing.T) {
	products := mapCatalog{1: {ID: 1, SourceID: "drsimi"}}
	col := newCollection(t, products, map[int64][]float32{1: {0, 0}})

	cfg := matcher.Config{ApprovedSources: []string{"drsimi"}, SiteIDs: map[string]int{}, K: 3}
	m := matcher.New(cfg, tableEmbedder{"x": {0, 0}}, col, products, logger.Nop())

	candidates, err := m.MatchProduct(context.Background(), models.InternalProduct{Name: "x"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Nil(t, candidates[0].SiteID)
}

func TestMatchAll(t *testing.T) {
	products := mapCatalog{1: {ID: 1, SourceID: "salcobrand"}}
	col := newCollection(t, products, map[int64][]float32{1: {0, 0}})
	m := matcher.New(matcher.Config{K: 1}, tableEmbedder{"known": {0, 0}}, col, products, logger.Nop())

	calls := 0
	candidates, err := m.MatchAll(context.Background(), []models.InternalProduct{
		{ProdCode: "A", Name: "known"},
		{ProdCode: "B", Name: "unencodable"},
		{ProdCode: "C", Name: "known"},
	}, func() { calls++ })
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
	assert.Equal(t, 3, calls)

	candidates, err = m.MatchAll(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestMatchAllStopsOnQueryError(t *testing.T) {
	col := newCollection(t, mapCatalog{}, nil)
	// A 3-dim query against a 2-dim collection.
	emb := tableEmbedder{"x": {0, 0, 0}}
	m := matcher.New(matcher.Config{}, emb, col, mapCatalog{}, logger.Nop())

	_, err := m.MatchAll(context.Background(), []models.InternalProduct{{Name: "x"}}, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
}

func TestConfigIsCopied(t *testing.T) {
	sources := []string{"profar"}
	sites := map[string]int{"profar": 14}
	m := matcher.New(matcher.Config{ApprovedSources: sources, SiteIDs: sites}, tableEmbedder{}, leakySearcher{}, mapCatalog{}, logger.Nop())

	sources[0] = "farmex"
	sites["profar"] = 99

	assert.Equal(t, []string{"profar"}, m.ApprovedSources())
	assert.Equal(t, 14, *m.SiteID("profar"))
	assert.Nil(t, m.SiteID("farmex"))
}
