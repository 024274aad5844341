package store

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
)

// Code MongoDB uses for documents failing validation.
const documentValidationFailure = 121

// MemoryBackend is an in-process Backend that enforces _id uniqueness per
// collection and reports rejections the way MongoDB does.
type MemoryBackend struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
	reject      map[any]bool
	fail        error
}

type memoryCollection struct {
	docs []Document
	ids  map[any]bool
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string]*memoryCollection),
		reject:      make(map[any]bool),
	}
}

// FailWith makes every following InsertMany return err; nil clears it.
func (m *MemoryBackend) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Reject makes documents with the given _id values fail validation.
func (m *MemoryBackend) Reject(ids ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.reject[id] = true
	}
}

// InsertMany implements Backend.
func (m *MemoryBackend) InsertMany(ctx context.Context, collection string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}

	coll, ok := m.collections[collection]
	if !ok {
		coll = &memoryCollection{ids: make(map[any]bool)}
		m.collections[collection] = coll
	}

	var writeErrs []mongo.BulkWriteError
	for i, doc := range docs {
		id := doc["_id"]
		switch {
		case m.reject[id]:
			writeErrs = append(writeErrs, mongo.BulkWriteError{WriteError: mongo.WriteError{
				Index:   i,
				Code:    documentValidationFailure,
				Message: "Document failed validation",
			}})
		case coll.ids[id]:
			writeErrs = append(writeErrs, mongo.BulkWriteError{WriteError: mongo.WriteError{
				Index:   i,
				Code:    11000,
				Message: fmt.Sprintf("E11000 duplicate key error collection: %s index: _id_ dup key: { _id: %v }", collection, id),
			}})
		default:
			coll.ids[id] = true
			coll.docs = append(coll.docs, maps.Clone(doc))
		}
	}

	if len(writeErrs) > 0 {
		return mongo.BulkWriteException{WriteErrors: writeErrs}
	}
	return nil
}

// Documents implements Backend, yielding documents in insertion order.
func (m *MemoryBackend) Documents(ctx context.Context, collection string, limit int) iter.Seq2[Document, error] {
	m.mu.Lock()
	var docs []Document
	if coll, ok := m.collections[collection]; ok {
		docs = make([]Document, len(coll.docs))
		copy(docs, coll.docs)
	}
	m.mu.Unlock()

	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}

	return func(yield func(Document, error) bool) {
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(maps.Clone(doc), nil) {
				return
			}
		}
	}
}

// Count implements Backend.
func (m *MemoryBackend) Count(ctx context.Context, collection string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if coll, ok := m.collections[collection]; ok {
		return int64(len(coll.docs)), nil
	}
	return 0, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close(ctx context.Context) error {
	return nil
}
