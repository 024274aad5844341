package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Sternrassler/sonet/pkg/logging"
	"github.com/Sternrassler/sonet/pkg/search"
)

var documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sonet_documents_total",
	Help: "Documents handed to the store by outcome",
}, []string{"outcome"})

// Duplicate-key server error codes.
var duplicateKeyCodes = map[int]bool{11000: true, 11001: true, 12582: true}

// Result summarizes one InsertMany call.
type Result struct {
	// Inserted holds the IDs of newly stored posts, in batch order.
	Inserted []int64
	// Skipped counts posts that were already stored.
	Skipped int
	// Failed counts posts rejected for any other reason.
	Failed int
}

// Sink inserts post batches into a Backend.
type Sink struct {
	backend           Backend
	defaultCollection string
	logger            zerolog.Logger
}

// NewSink creates a sink writing to defaultCollection unless a call names another.
func NewSink(backend Backend, defaultCollection string) *Sink {
	if defaultCollection == "" {
		defaultCollection = DefaultCollection
	}
	return &Sink{
		backend:           backend,
		defaultCollection: defaultCollection,
		logger:            logging.NewLogger("store"),
	}
}

// DefaultCollection returns the collection used when a call names none.
func (s *Sink) DefaultCollection() string {
	return s.defaultCollection
}

// InsertMany stores batch in collection (the default collection when empty).
//
// Duplicate-key rejections are counted as skipped and other per-document
// rejections as failed; neither is returned. Write-concern errors are logged.
// Any other error (connection loss, timeout) is returned.
func (s *Sink) InsertMany(ctx context.Context, batch []search.Post, collection string) (Result, error) {
	if collection == "" {
		collection = s.defaultCollection
	}
	if len(batch) == 0 {
		return Result{}, nil
	}

	docs := make([]Document, len(batch))
	for i, post := range batch {
		docs[i] = toDocument(post)
	}

	err := s.backend.InsertMany(ctx, collection, docs)
	rejected, result, err := s.classify(collection, err)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("collection", collection).
			Int("batch_size", len(batch)).
			Msg("Insert failed")
		return Result{}, fmt.Errorf("insert into %s: %w", collection, err)
	}

	result.Inserted = make([]int64, 0, len(batch)-len(rejected))
	for i, post := range batch {
		if !rejected[i] {
			result.Inserted = append(result.Inserted, post.ID)
		}
	}

	documentsTotal.WithLabelValues("inserted").Add(float64(len(result.Inserted)))
	documentsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
	documentsTotal.WithLabelValues("failed").Add(float64(result.Failed))

	s.logger.Debug().
		Str("collection", collection).
		Int("batch_size", len(batch)).
		Int("inserted", len(result.Inserted)).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Batch stored")

	return result, nil
}

// classify splits a backend error into rejected document indexes and a fatal error.
func (s *Sink) classify(collection string, err error) (map[int]bool, Result, error) {
	var result Result
	rejected := make(map[int]bool)
	if err == nil {
		return rejected, result, nil
	}

	var writeErrs []mongo.WriteError
	var concernErr *mongo.WriteConcernError

	var bulk mongo.BulkWriteException
	var single mongo.WriteException
	switch {
	case errors.As(err, &bulk):
		for _, we := range bulk.WriteErrors {
			writeErrs = append(writeErrs, we.WriteError)
		}
		concernErr = bulk.WriteConcernError
	case errors.As(err, &single):
		writeErrs = single.WriteErrors
		concernErr = single.WriteConcernError
	default:
		return nil, Result{}, err
	}

	for _, we := range writeErrs {
		rejected[we.Index] = true
		if isDuplicateKey(we) {
			result.Skipped++
			continue
		}
		result.Failed++
		s.logger.Warn().
			Str("collection", collection).
			Int("index", we.Index).
			Int("code", we.Code).
			Str("message", we.Message).
			Msg("Document rejected")
	}

	if concernErr != nil {
		s.logger.Warn().
			Str("collection", collection).
			Int("code", concernErr.Code).
			Str("message", concernErr.Message).
			Msg("Write concern error")
	}

	return rejected, result, nil
}

func isDuplicateKey(we mongo.WriteError) bool {
	return duplicateKeyCodes[we.Code] || strings.Contains(we.Message, "E11000 duplicate key")
}

func toDocument(post search.Post) Document {
	doc := make(Document, len(post.Attributes)+1)
	for k, v := range post.Attributes {
		doc[k] = v
	}
	doc["_id"] = post.ID
	return doc
}
