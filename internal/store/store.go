// Package store provides pluggable persistence for custom annotation
// databases. Three adapters conform to the same Store contract: an
// in-memory arena, a DuckDB file and a remote Elasticsearch cluster.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/genomeforge/engine/internal/schema"
)

// ErrNotFound is returned when a database id is unknown to the store.
var ErrNotFound = errors.New("store: database not found")

// Metadata is the bookkeeping attached to a custom database.
type Metadata struct {
	RecordCount int       `json:"recordCount"`
	Enabled     bool      `json:"enabled"`
	Priority    int       `json:"priority"`
	Tags        []string  `json:"tags,omitempty"`
	SourceFile  string    `json:"sourceFile,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Database is a named annotation database: one schema, many validated
// records.
type Database struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Schema *schema.Schema `json:"schema"`
	Meta   Metadata       `json:"meta"`
}

// Record is one validated, normalized row of a database.
type Record struct {
	ID         string         `json:"id"`
	DatabaseID string         `json:"databaseId"`
	Fields     map[string]any `json:"fields"`
}

// Field returns the record's value for a field, matched case-insensitively.
func (r *Record) Field(name string) (any, bool) {
	if v, ok := r.Fields[name]; ok {
		return v, true
	}
	for k, v := range r.Fields {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Store is the persistence contract the database manager runs on.
type Store interface {
	SaveDatabase(db *Database) error
	LoadDatabase(id string) (*Database, error)
	DeleteDatabase(id string) error
	ListDatabases() ([]*Database, error)

	PutRecords(dbID string, records []*Record) error
	Records(dbID string) ([]*Record, error)
	// FindByField returns the records whose value for field equals any of
	// the given values (case-insensitive string comparison on the
	// canonical value).
	FindByField(dbID, field string, values []string) ([]*Record, error)

	Close() error
}

// canonical renders a typed field value the way indices key it.
func canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return strings.ToLower(fmt.Sprintf("%v", x))
	}
}
