// Package export writes stored posts to flat files and terminals.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Sternrassler/sonet/pkg/logging"
	"github.com/Sternrassler/sonet/pkg/store"
)

// Delimiter separates CSV fields.
const Delimiter = ';'

// Column maps a CSV header to a dotted document path.
type Column struct {
	Header string
	Path   string
}

// DefaultColumns are the columns written by WriteCSV.
var DefaultColumns = []Column{
	{Header: "created_at", Path: "created_at"},
	{Header: "text", Path: "text"},
	{Header: "location", Path: "user.location"},
}

// WriteCSV writes one row per document to w, preceded by a header row.
// limit > 0 stops after that many rows. Missing fields are written blank.
// It returns the number of rows written, excluding the header.
func WriteCSV(ctx context.Context, docs iter.Seq2[store.Document, error], w io.Writer, limit int) (int, error) {
	return WriteColumns(ctx, docs, w, DefaultColumns, limit)
}

// WriteColumns is WriteCSV with explicit columns.
func WriteColumns(ctx context.Context, docs iter.Seq2[store.Document, error], w io.Writer, columns []Column, limit int) (int, error) {
	logger := logging.NewLogger("export")

	cw := csv.NewWriter(w)
	cw.Comma = Delimiter

	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Header
	}
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rows := 0
	record := make([]string, len(columns))
	for doc, err := range docs {
		if err != nil {
			cw.Flush()
			return rows, fmt.Errorf("read documents: %w", err)
		}
		if err := ctx.Err(); err != nil {
			cw.Flush()
			return rows, err
		}

		for i, col := range columns {
			record[i] = Field(doc, col.Path)
		}
		if err := cw.Write(record); err != nil {
			return rows, fmt.Errorf("write row %d: %w", rows+1, err)
		}
		rows++

		if limit > 0 && rows >= limit {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush: %w", err)
	}

	logger.Debug().Int("rows", rows).Int("limit", limit).Msg("CSV export finished")
	return rows, nil
}

// Field resolves a dotted path in doc and formats the value.
// It returns "" when any path element is missing or not a document.
func Field(doc map[string]any, path string) string {
	v, ok := lookup(doc, strings.Split(path, "."))
	if !ok || v == nil {
		return ""
	}
	return format(v)
}

func lookup(v any, path []string) (any, bool) {
	for _, key := range path {
		switch m := v.(type) {
		case bson.M:
			v = m[key]
		case map[string]any:
			v = m[key]
		case bson.D:
			found := false
			for _, e := range m {
				if e.Key == key {
					v, found = e.Value, true
					break
				}
			}
			if !found {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return v, true
}

func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case primitive.DateTime:
		return x.Time().UTC().Format("Mon Jan 02 15:04:05 -0700 2006")
	case primitive.ObjectID:
		return x.Hex()
	default:
		return fmt.Sprint(x)
	}
}
