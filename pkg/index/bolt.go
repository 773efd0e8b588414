package index

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
)

var (
	bucketEntries = []byte("entries")
	bucketIDs     = []byte("ids")
	keyDim        = []byte("dim")
)

type storedEntry struct {
	ID       string          `json:"id"`
	Vector   []float32       `json:"v"`
	Metadata models.Metadata `json:"m"`
}

// BoltBackend persists collections in a single bbolt file. Each collection is
// a top-level bucket holding its dimension, the entries keyed by insertion
// sequence and an id -> sequence lookup.
type BoltBackend struct {
	db *bbolt.DB
}

func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) CreateCollection(ctx context.Context, name string, dim int) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		col, err := tx.CreateBucket([]byte(name))
		if errors.Is(err, bbolt.ErrBucketExists) {
			return types.ErrAlreadyExists
		}
		if err != nil {
			return err
		}
		if _, err := col.CreateBucket(bucketEntries); err != nil {
			return err
		}
		if _, err := col.CreateBucket(bucketIDs); err != nil {
			return err
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(dim))
		return col.Put(keyDim, buf)
	})
}

func (b *BoltBackend) CollectionDim(ctx context.Context, name string) (int, error) {
	var dim int
	err := b.db.View(func(tx *bbolt.Tx) error {
		col := tx.Bucket([]byte(name))
		if col == nil {
			return types.ErrNotFound
		}
		buf := col.Get(keyDim)
		if len(buf) != 4 {
			return fmt.Errorf("collection %s has no dimension", name)
		}
		dim = int(binary.BigEndian.Uint32(buf))
		return nil
	})
	return dim, err
}

func (b *BoltBackend) DropCollection(ctx context.Context, name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func (b *BoltBackend) Existing(ctx context.Context, name string, ids []string) ([]string, error) {
	var found []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		col := tx.Bucket([]byte(name))
		if col == nil {
			return types.ErrNotFound
		}
		idx := col.Bucket(bucketIDs)
		for _, id := range ids {
			if idx.Get([]byte(id)) != nil {
				found = append(found, id)
			}
		}
		return nil
	})
	return found, err
}

func (b *BoltBackend) Insert(ctx context.Context, name string, entries []Entry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		col := tx.Bucket([]byte(name))
		if col == nil {
			return types.ErrNotFound
		}
		data := col.Bucket(bucketEntries)
		idx := col.Bucket(bucketIDs)

		for _, e := range entries {
			seq, err := data.NextSequence()
			if err != nil {
				return err
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)

			value, err := json.Marshal(storedEntry{ID: e.ID, Vector: e.Vector, Metadata: e.Metadata})
			if err != nil {
				return err
			}
			if err := data.Put(key, value); err != nil {
				return err
			}
			if err := idx.Put([]byte(e.ID), key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search scans entries in sequence order, so ties keep insertion order.
func (b *BoltBackend) Search(ctx context.Context, name string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	allowed := newSourceSet(filter)
	var hits []Hit

	err := b.db.View(func(tx *bbolt.Tx) error {
		col := tx.Bucket([]byte(name))
		if col == nil {
			return types.ErrNotFound
		}
		return col.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var e storedEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt entry %x: %w", k, err)
			}
			if !allowed.allows(e.Metadata.SourceID) {
				return nil
			}
			hits = append(hits, Hit{ID: e.ID, Metadata: e.Metadata, Distance: L2(vector, e.Vector)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return topK(hits, k), nil
}

func (b *BoltBackend) Count(ctx context.Context, name string) (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		col := tx.Bucket([]byte(name))
		if col == nil {
			return types.ErrNotFound
		}
		return col.Bucket(bucketIDs).ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
