package index

import (
	"context"
	"sync"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
)

type memoryCollection struct {
	dim     int
	entries []Entry
	ids     map[string]struct{}
}

// MemoryBackend keeps collections in process memory and searches by brute force.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryBackend) CreateCollection(ctx context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[name]; ok {
		return types.ErrAlreadyExists
	}
	m.collections[name] = &memoryCollection{dim: dim, ids: make(map[string]struct{})}
	return nil
}

func (m *MemoryBackend) CollectionDim(ctx context.Context, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[name]
	if !ok {
		return 0, types.ErrNotFound
	}
	return col.dim, nil
}

func (m *MemoryBackend) DropCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.collections, name)
	return nil
}

func (m *MemoryBackend) Existing(ctx context.Context, name string, ids []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[name]
	if !ok {
		return nil, types.ErrNotFound
	}
	var found []string
	for _, id := range ids {
		if _, ok := col.ids[id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (m *MemoryBackend) Insert(ctx context.Context, name string, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[name]
	if !ok {
		return types.ErrNotFound
	}
	for _, e := range entries {
		vector := make([]float32, len(e.Vector))
		copy(vector, e.Vector)
		e.Vector = vector
		col.entries = append(col.entries, e)
		col.ids[e.ID] = struct{}{}
	}
	return nil
}

func (m *MemoryBackend) Search(ctx context.Context, name string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[name]
	if !ok {
		return nil, types.ErrNotFound
	}

	allowed := newSourceSet(filter)
	var hits []Hit
	for _, e := range col.entries {
		if !allowed.allows(e.Metadata.SourceID) {
			continue
		}
		hits = append(hits, Hit{ID: e.ID, Metadata: e.Metadata, Distance: L2(vector, e.Vector)})
	}
	return topK(hits, k), nil
}

func (m *MemoryBackend) Count(ctx context.Context, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[name]
	if !ok {
		return 0, types.ErrNotFound
	}
	return len(col.entries), nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
