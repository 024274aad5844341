package store

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Sternrassler/sonet/pkg/logging"
)

// MongoBackend stores documents in one MongoDB database.
type MongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger
}

// Open connects to the server in cfg and verifies it answers.
// The caller owns the returned backend and must Close it.
func Open(ctx context.Context, cfg DatabaseConfig) (*MongoBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = DefaultDatabase
	}

	opts := options.Client().
		ApplyURI(cfg.URI()).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	logger := logging.NewLogger("mongo").With().Str("database", name).Logger()
	logger.Info().Str("address", cfg.Address).Msg("Connected to document store")

	return &MongoBackend{
		client: client,
		db:     client.Database(name),
		logger: logger,
	}, nil
}

// InsertMany implements Backend with an unordered bulk insert.
func (m *MongoBackend) InsertMany(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]interface{}, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	_, err := m.db.Collection(collection).InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
	return err
}

// Documents implements Backend.
func (m *MongoBackend) Documents(ctx context.Context, collection string, limit int) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		opts := options.Find()
		if limit > 0 {
			opts.SetLimit(int64(limit))
		}

		cursor, err := m.db.Collection(collection).Find(ctx, bson.D{}, opts)
		if err != nil {
			yield(nil, fmt.Errorf("find in %s: %w", collection, err))
			return
		}
		defer cursor.Close(context.Background())

		for cursor.Next(ctx) {
			var doc Document
			if err := cursor.Decode(&doc); err != nil {
				yield(nil, fmt.Errorf("decode document: %w", err))
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(nil, fmt.Errorf("cursor: %w", err))
		}
	}
}

// Count implements Backend.
func (m *MongoBackend) Count(ctx context.Context, collection string) (int64, error) {
	n, err := m.db.Collection(collection).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// Close disconnects from the server.
func (m *MongoBackend) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongo disconnect: %w", err)
	}
	m.logger.Debug().Msg("Disconnected from document store")
	return nil
}
