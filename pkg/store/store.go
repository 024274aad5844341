// Package store persists collected posts into a document store.
//
// The Sink inserts batches unordered and treats duplicate-key rejections as
// already-stored posts, so re-running a collection never fails on documents
// it has seen before. MongoBackend talks to MongoDB; MemoryBackend mimics its
// duplicate-key signalling for tests and dry runs.
package store

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Defaults used when the configuration leaves them out.
const (
	DefaultDatabase   = "twitter"
	DefaultCollection = "twitter_data"
	DefaultPort       = 27017
)

// Document is one stored post. Its _id is the post ID.
type Document = bson.M

// Backend is the document-store contract the sink needs.
type Backend interface {
	// InsertMany inserts docs without stopping at the first rejected document.
	// Per-document rejections are reported through mongo.BulkWriteException.
	InsertMany(ctx context.Context, collection string, docs []Document) error

	// Documents iterates over up to limit documents of collection (0 = all).
	Documents(ctx context.Context, collection string, limit int) iter.Seq2[Document, error]

	// Count returns the number of documents in collection.
	Count(ctx context.Context, collection string) (int64, error)

	Close(ctx context.Context) error
}

// DatabaseConfig locates the document store.
type DatabaseConfig struct {
	Address    string `mapstructure:"address"`
	Port       int    `mapstructure:"port"`
	Name       string `mapstructure:"name"`
	Collection string `mapstructure:"collection"`
}

// URI returns the connection string for the configured server.
// An address that already is a mongodb:// or mongodb+srv:// URI is used as is.
func (c DatabaseConfig) URI() string {
	if strings.HasPrefix(c.Address, "mongodb://") || strings.HasPrefix(c.Address, "mongodb+srv://") {
		return c.Address
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("mongodb://%s:%d", c.Address, port)
}

// Validate checks the required fields.
func (c DatabaseConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("database address is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("database port out of range (got %d)", c.Port)
	}
	return nil
}
