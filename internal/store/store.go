// ABOUTME: DocumentStore interface and data types for forgestate persistence
// ABOUTME: One key holds one full serialized JSON document; no secondary indexes

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested document does not exist
var ErrNotFound = errors.New("not found")

// ErrUnknownDriver is returned by Open for an unsupported database driver
var ErrUnknownDriver = errors.New("unknown database driver")

// Document is a single persisted JSON document addressed by key
type Document struct {
	Key       string
	Body      []byte
	UpdatedAt time.Time
}

// DocumentStore defines the durable medium behind the project state.
// Implementations provide durability, not multi-writer isolation; callers
// serialize their own writes.
type DocumentStore interface {
	// LoadDocument returns the document stored under key, or ErrNotFound.
	LoadDocument(ctx context.Context, key string) (*Document, error)

	// SaveDocument replaces the whole document stored under doc.Key.
	SaveDocument(ctx context.Context, doc *Document) error

	// Ping reports whether the medium is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// Driver names accepted by Open
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, cgo
	DriverNATSKV  = "natskv"  // NATS JetStream key-value bucket
)

// Options configures Open
type Options struct {
	Driver string
	Path   string

	// NATS key-value settings, used by DriverNATSKV
	NATSURL string
	Bucket  string
}

// Open creates the DocumentStore selected by opts.Driver.
// An empty driver selects DriverSQLite.
func Open(ctx context.Context, opts Options) (DocumentStore, error) {
	switch opts.Driver {
	case "", DriverSQLite, DriverSQLite3:
		driver := opts.Driver
		if driver == "" {
			driver = DriverSQLite
		}
		return NewSQLiteStoreWithDriver(driver, opts.Path)
	case DriverNATSKV:
		return NewNATSKVStore(ctx, opts.NATSURL, opts.Bucket)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
