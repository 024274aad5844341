package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound indicates no checkpoint exists for the key
	ErrNotFound = errors.New("checkpoint not found")

	// ErrInvalidEntry indicates the stored checkpoint is corrupted
	ErrInvalidEntry = errors.New("invalid checkpoint entry")
)

// Store persists checkpoints.
type Store interface {
	// Get returns ErrNotFound when there is no live checkpoint for key.
	Get(ctx context.Context, key Key) (Entry, error)
	Set(ctx context.Context, key Key, entry Entry) error
	Delete(ctx context.Context, key Key) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
}

// NewMemoryStore creates an empty store. Entries older than ttl are ignored;
// ttl 0 keeps them forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		ttl:     ttl,
	}
}

// Get retrieves the checkpoint for key.
func (m *MemoryStore) Get(ctx context.Context, key Key) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key.String()]
	if !ok || entry.IsExpired(m.ttl) {
		delete(m.entries, key.String())
		recordOperation("get", "miss")
		return Entry{}, ErrNotFound
	}
	recordOperation("get", "hit")
	return entry, nil
}

// Set stores entry for key, stamping UpdatedAt when unset.
func (m *MemoryStore) Set(ctx context.Context, key Key, entry Entry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	m.mu.Lock()
	m.entries[key.String()] = entry
	m.mu.Unlock()

	recordOperation("set", "ok")
	return nil
}

// Delete removes the checkpoint for key.
func (m *MemoryStore) Delete(ctx context.Context, key Key) error {
	m.mu.Lock()
	delete(m.entries, key.String())
	m.mu.Unlock()

	recordOperation("delete", "ok")
	return nil
}
