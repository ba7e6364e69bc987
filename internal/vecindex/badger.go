package vecindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/hindsight-dev/hindsight/internal/vecmath"
)

// BadgerIndex is a local Index implementation on BadgerDB. Records live
// under "<namespace>/<id>" keys; queries prefix-scan the namespace and
// score by cosine similarity.
type BadgerIndex struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger-backed index at path.
func OpenBadger(path string) (*BadgerIndex, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	return &BadgerIndex{db: db}, nil
}

// OpenBadgerInMemory opens an ephemeral in-memory index.
func OpenBadgerInMemory() (*BadgerIndex, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory vector index: %w", err)
	}
	return &BadgerIndex{db: db}, nil
}

// Close closes the underlying store.
func (b *BadgerIndex) Close() error {
	return b.db.Close()
}

func recordKey(namespace, id string) []byte {
	return []byte(namespace + "/" + id)
}

// Upsert writes records into the namespace, replacing existing ids.
func (b *BadgerIndex) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encoding record %s: %w", r.ID, err)
			}
			if err := txn.Set(recordKey(namespace, r.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Fetch reads a single record by id. Returns nil when the id is absent.
func (b *BadgerIndex) Fetch(ctx context.Context, namespace, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r *Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(namespace, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r = &Record{}
			return json.Unmarshal(val, r)
		})
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Query scans the namespace, applies the filter, and returns the topK
// records by cosine similarity, best first.
func (b *BadgerIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, f Filter) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}

	var matches []Match
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(namespace + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				return err
			}
			if !f.matches(r.Metadata) {
				continue
			}
			matches = append(matches, Match{
				Record:     r,
				Similarity: vecmath.CosineSimilarity(vector, r.Vector),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes records by id.
func (b *BadgerIndex) Delete(ctx context.Context, namespace string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(recordKey(namespace, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteNamespace drops every record in a workspace namespace. Used by
// workspace teardown.
func (b *BadgerIndex) DeleteNamespace(_ context.Context, namespace string) error {
	return b.db.DropPrefix([]byte(namespace + "/"))
}

func (f Filter) matches(m Metadata) bool {
	if f.Layer != "" && m.Layer != f.Layer {
		return false
	}
	if f.View != "" && m.View != f.View {
		return false
	}
	if len(f.Sources) > 0 && !contains(f.Sources, m.Source) {
		return false
	}
	if len(f.SourceTypes) > 0 && !contains(f.SourceTypes, m.SourceType) {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
