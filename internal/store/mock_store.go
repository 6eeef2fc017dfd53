// ABOUTME: Mock DocumentStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject medium failures

package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable is the error returned by MockStore while failures are injected
var ErrUnavailable = errors.New("store unavailable")

// MockStore is an in-memory DocumentStore implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	documents map[string]*Document // keyed by document key
	loads     int
	saves     int
	failLoad  error
	failSave  error
	closed    bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		documents: make(map[string]*Document),
	}
}

// LoadDocument retrieves a copy of the stored document.
func (m *MockStore) LoadDocument(ctx context.Context, key string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loads++
	if m.failLoad != nil {
		return nil, m.failLoad
	}

	doc, ok := m.documents[key]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	return copyDocument(doc), nil
}

// SaveDocument stores a copy of the document.
func (m *MockStore) SaveDocument(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saves++
	if m.failSave != nil {
		return m.failSave
	}

	// Make a copy to avoid external modification
	stored := copyDocument(doc)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	m.documents[doc.Key] = stored
	return nil
}

// Ping fails while load failures are injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failLoad
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetRaw stores body under key as-is, bypassing any encoding.
// Tests use it to seed documents written by older schema versions.
func (m *MockStore) SetRaw(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[key] = &Document{Key: key, Body: append([]byte(nil), body...), UpdatedAt: time.Now()}
}

// Raw returns the stored bytes for key and whether the key exists.
func (m *MockStore) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), doc.Body...), true
}

// FailLoads makes subsequent loads return err; nil restores normal behavior.
func (m *MockStore) FailLoads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLoad = err
}

// FailSaves makes subsequent saves return err; nil restores normal behavior.
func (m *MockStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = err
}

// Loads returns how many loads were attempted.
func (m *MockStore) Loads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads
}

// Saves returns how many saves were attempted.
func (m *MockStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func copyDocument(doc *Document) *Document {
	return &Document{
		Key:       doc.Key,
		Body:      append([]byte(nil), doc.Body...),
		UpdatedAt: doc.UpdatedAt,
	}
}
