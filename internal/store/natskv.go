// ABOUTME: NATS JetStream key-value implementation of DocumentStore
// ABOUTME: Each document is one key in a history-1 bucket, created on first use

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const defaultBucket = "forgestate"

// NATSKVStore implements DocumentStore on top of a JetStream key-value bucket
type NATSKVStore struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	bucket string
	logger *slog.Logger
}

// NewNATSKVStore connects to NATS and opens (or creates) the bucket.
func NewNATSKVStore(ctx context.Context, url, bucket string) (*NATSKVStore, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	if bucket == "" {
		bucket = defaultBucket
	}

	conn, err := nats.Connect(url, nats.Name("forgestate-store"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	kv, err := openBucket(ctx, js, bucket)
	if err != nil {
		conn.Close()
		return nil, err
	}

	logger := slog.Default().With("component", "store", "driver", DriverNATSKV)
	logger.Info("NATS KV store initialized", "url", url, "bucket", bucket)

	return &NATSKVStore{
		conn:   conn,
		kv:     kv,
		bucket: bucket,
		logger: logger,
	}, nil
}

// openBucket gets the bucket, creating it when it doesn't exist yet
func openBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("opening KV bucket %s: %w", bucket, err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "forgestate project state documents",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("creating KV bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// LoadDocument retrieves a document by key.
// Returns ErrNotFound if the key has never been written.
func (s *NATSKVStore) LoadDocument(ctx context.Context, key string) (*Document, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting key %s: %w", key, err)
	}

	return &Document{
		Key:       key,
		Body:      entry.Value(),
		UpdatedAt: entry.Created(),
	}, nil
}

// SaveDocument replaces the value stored under doc.Key
func (s *NATSKVStore) SaveDocument(ctx context.Context, doc *Document) error {
	rev, err := s.kv.Put(ctx, doc.Key, doc.Body)
	if err != nil {
		return fmt.Errorf("putting key %s: %w", doc.Key, err)
	}

	s.logger.Debug("saved document", "key", doc.Key, "size", len(doc.Body), "kv_revision", rev)
	return nil
}

// Ping reports whether the NATS connection is up
func (s *NATSKVStore) Ping(_ context.Context) error {
	if !s.conn.IsConnected() {
		return fmt.Errorf("nats connection %s", s.conn.Status())
	}
	return nil
}

// Close drains the NATS connection
func (s *NATSKVStore) Close() error {
	s.logger.Info("closing NATS KV store", "bucket", s.bucket)
	done := make(chan struct{})
	s.conn.SetClosedHandler(func(*nats.Conn) { close(done) })
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("draining NATS connection: %w", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.conn.Close()
	}
	return nil
}
