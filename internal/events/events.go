// ABOUTME: Commit notifications emitted after every accepted project state write
// ABOUTME: Publisher interface with no-op, in-memory and NATS implementations

package events

import (
	"context"
	"sync"
	"time"
)

// DefaultSubject is used when no subject is configured
const DefaultSubject = "forgestate.state.committed"

// Commit describes one committed write of the project state.
type Commit struct {
	Revision    uint64    `json:"revision"`
	LastUpdated time.Time `json:"lastUpdated"`
	Completed   int       `json:"completed"`
	Total       int       `json:"total"`
	Reason      string    `json:"reason"`
}

// Publisher delivers commit notifications. Publish failures never roll back a
// write; callers log them and move on.
type Publisher interface {
	Publish(ctx context.Context, c Commit) error
	Close() error
}

// Nop discards every commit.
type Nop struct{}

func (Nop) Publish(context.Context, Commit) error { return nil }
func (Nop) Close() error                          { return nil }

// MemoryPublisher keeps commits in memory. Used by tests and by `watch`-style
// consumers living in the same process.
type MemoryPublisher struct {
	mu      sync.Mutex
	commits []Commit
}

// NewMemoryPublisher creates an empty MemoryPublisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records c.
func (m *MemoryPublisher) Publish(_ context.Context, c Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, c)
	return nil
}

// Close is a no-op.
func (m *MemoryPublisher) Close() error { return nil }

// Commits returns a copy of everything published so far.
func (m *MemoryPublisher) Commits() []Commit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Commit(nil), m.commits...)
}
