package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/cenkalti/backoff"
	es7 "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/elastic/go-elasticsearch/v7/esutil"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/genomeforge/engine/internal/schema"
)

const (
	metaIndex     = "genomeforge-databases"
	recordsPrefix = "genomeforge-db-"

	// searchSize bounds unfiltered record scans. Custom annotation
	// databases are small; anything larger should query by field.
	searchSize = 10000
)

// Elastic is the remote Store: one metadata index plus one records index
// per database.
type Elastic struct {
	client *es7.Client
	logger *zap.Logger
}

// OpenElastic connects to an Elasticsearch cluster with exponential retry
// backoff on transient status codes.
func OpenElastic(url, username, password string) (*Elastic, error) {
	retryBackoff := backoff.NewExponentialBackOff()

	client, err := es7.NewClient(es7.Config{
		Addresses:     []string{url},
		Username:      username,
		Password:      password,
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			if i == 1 {
				retryBackoff.Reset()
			}
			return retryBackoff.NextBackOff()
		},
		MaxRetries: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Elastic{client: client, logger: zap.NewNop()}, nil
}

// SetLogger sets the logger for indexing diagnostics.
func (e *Elastic) SetLogger(l *zap.Logger) {
	e.logger = l
}

func recordsIndex(dbID string) string {
	return recordsPrefix + strings.ToLower(dbID)
}

// esDatabase is the metadata document shape.
type esDatabase struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Schema *schema.Schema `json:"schema"`
	Meta   Metadata       `json:"meta"`
}

func (e *Elastic) SaveDatabase(db *Database) error {
	body, err := json.Marshal(esDatabase{ID: db.ID, Name: db.Name, Schema: db.Schema, Meta: db.Meta})
	if err != nil {
		return fmt.Errorf("encode database: %w", err)
	}

	res, err := esapi.IndexRequest{
		Index:      metaIndex,
		DocumentID: db.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}.Do(context.Background(), e.client)
	if err != nil {
		return fmt.Errorf("index database: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index database: %s", res.Status())
	}
	return nil
}

func (e *Elastic) LoadDatabase(id string) (*Database, error) {
	res, err := esapi.GetRequest{Index: metaIndex, DocumentID: id}.Do(context.Background(), e.client)
	if err != nil {
		return nil, fmt.Errorf("get database: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, ErrNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("get database: %s", res.Status())
	}

	parsed, err := gabs.ParseJSONBuffer(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse database response: %w", err)
	}
	return decodeDatabase(parsed.Path("_source"))
}

func decodeDatabase(src *gabs.Container) (*Database, error) {
	if src == nil {
		return nil, ErrNotFound
	}
	var db Database
	if err := json.Unmarshal(src.Bytes(), &db); err != nil {
		return nil, fmt.Errorf("decode database document: %w", err)
	}
	return &db, nil
}

func (e *Elastic) DeleteDatabase(id string) error {
	res, err := esapi.DeleteRequest{Index: metaIndex, DocumentID: id, Refresh: "true"}.
		Do(context.Background(), e.client)
	if err != nil {
		return fmt.Errorf("delete database: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return ErrNotFound
	}

	// Drop the records index too; a missing index is fine.
	ires, err := esapi.IndicesDeleteRequest{
		Index:             []string{recordsIndex(id)},
		IgnoreUnavailable: esapi.BoolPtr(true),
	}.Do(context.Background(), e.client)
	if err != nil {
		return fmt.Errorf("delete records index: %w", err)
	}
	ires.Body.Close()
	return nil
}

func (e *Elastic) ListDatabases() ([]*Database, error) {
	query := map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"size":  searchSize,
	}
	parsed, err := e.search(metaIndex, query)
	if err != nil {
		if strings.Contains(err.Error(), "index_not_found") {
			return nil, nil
		}
		return nil, err
	}

	var out []*Database
	hits, err := parsed.Path("hits.hits").Children()
	if err != nil {
		return nil, nil
	}
	for _, hit := range hits {
		db, err := decodeDatabase(hit.Path("_source"))
		if err != nil {
			return nil, err
		}
		out = append(out, db)
	}
	return out, nil
}

func (e *Elastic) PutRecords(dbID string, records []*Record) error {
	indexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:  recordsIndex(dbID),
		Client: e.client,
	})
	if err != nil {
		return fmt.Errorf("create bulk indexer: %w", err)
	}

	ctx := context.Background()
	for _, rec := range records {
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		err = indexer.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: rec.ID,
			Body:       bytes.NewReader(body),
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				e.logger.Warn("bulk index failure",
					zap.String("record", item.DocumentID),
					zap.String("reason", res.Error.Reason),
					zap.Error(err))
			},
		})
		if err != nil {
			return fmt.Errorf("enqueue record %s: %w", rec.ID, err)
		}
	}

	if err := indexer.Close(ctx); err != nil {
		return fmt.Errorf("flush bulk indexer: %w", err)
	}
	stats := indexer.Stats()
	if stats.NumFailed > 0 {
		return fmt.Errorf("bulk indexing failed for %d of %d records", stats.NumFailed, len(records))
	}
	return nil
}

func (e *Elastic) Records(dbID string) ([]*Record, error) {
	query := map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"size":  searchSize,
	}
	return e.searchRecords(dbID, query)
}

func (e *Elastic) FindByField(dbID, field string, values []string) ([]*Record, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return e.searchRecords(dbID, termsQuery(field, values))
}

// termsQuery builds the terms search body for a field lookup. Values are
// lowercased to match the canonical form records are normalized to.
func termsQuery(field string, values []string) map[string]any {
	lowered := make([]string, len(values))
	for i, v := range values {
		lowered[i] = strings.ToLower(v)
	}
	return map[string]any{
		"query": map[string]any{
			"terms": map[string]any{
				"fields." + field + ".keyword": lowered,
			},
		},
		"size": searchSize,
	}
}

func (e *Elastic) search(index string, query map[string]any) (*gabs.Container, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(context.Background()),
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search %s: %s", index, res.Status())
	}

	parsed, err := gabs.ParseJSONBuffer(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return parsed, nil
}

func (e *Elastic) searchRecords(dbID string, query map[string]any) ([]*Record, error) {
	parsed, err := e.search(recordsIndex(dbID), query)
	if err != nil {
		if strings.Contains(err.Error(), "index_not_found") || strings.Contains(err.Error(), "404") {
			return nil, nil
		}
		return nil, err
	}

	hits, err := parsed.Path("hits.hits").Children()
	if err != nil {
		return nil, nil
	}

	out := make([]*Record, 0, len(hits))
	for _, hit := range hits {
		src, ok := hit.Path("_source").Data().(map[string]any)
		if !ok {
			continue
		}
		var rec Record
		if err := mapstructure.Decode(src, &rec); err != nil {
			return nil, fmt.Errorf("decode record hit: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// Close is a no-op; the HTTP client needs no teardown.
func (e *Elastic) Close() error {
	return nil
}
