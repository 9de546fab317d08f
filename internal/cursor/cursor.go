// Package cursor defines the durable key -> cursor mapping that paging
// participants use to resume where the previous sync left off.
package cursor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one stored cursor.
type Entry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Store persists pagination cursors keyed by participant cursor key.
//
// Entries are created on the first page that carries an end cursor,
// overwritten on every later page and only removed by an explicit Delete.
// Implementations need not serialize concurrent writers to the same key; the
// sync coordinator guarantees a single in-flight execution.
type Store interface {
	// Get returns the stored cursor for key. ok is false when no cursor has
	// been written yet.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes value for key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes the cursor for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all entries ordered by key.
	List(ctx context.Context) ([]Entry, error)
}

// Memory is an in-process Store. It does not survive restarts and is meant
// for tests and ephemeral runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Get implements Store.Get.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	return e.Value, ok, nil
}

// Set implements Store.Set.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = Entry{Key: key, Value: value, UpdatedAt: m.now()}
	return nil
}

// Delete implements Store.Delete.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// List implements Store.List.
func (m *Memory) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
