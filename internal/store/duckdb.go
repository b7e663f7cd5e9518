package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/genomeforge/engine/internal/schema"
)

// DuckDB persists databases and records in a single analytical store file.
// Records keep their typed fields JSON-encoded; the rsID-typed key field is
// additionally materialized into its own column because essentially every
// lookup is by rsID.
type DuckDB struct {
	db   *sql.DB
	path string

	mu        sync.Mutex
	keyFields map[string]string // database id -> rsid-typed field name
}

// OpenDuckDB opens or creates a DuckDB store at the given path. An empty
// path yields an in-memory database.
func OpenDuckDB(path string) (*DuckDB, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &DuckDB{db: db, path: path, keyFields: make(map[string]string)}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// ensureSchema creates the tables if they don't exist.
func (s *DuckDB) ensureSchema() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS databases (
		id VARCHAR PRIMARY KEY,
		name VARCHAR,
		schema_json VARCHAR,
		meta_json VARCHAR
	)`); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS records (
		db_id VARCHAR,
		id VARCHAR,
		rsid VARCHAR,
		fields_json VARCHAR,
		PRIMARY KEY (db_id, id)
	)`)
	return err
}

func (s *DuckDB) SaveDatabase(db *Database) error {
	schemaJSON, err := json.Marshal(db.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	metaJSON, err := json.Marshal(db.Meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO databases (id, name, schema_json, meta_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			schema_json = excluded.schema_json,
			meta_json = excluded.meta_json`,
		db.ID, db.Name, string(schemaJSON), string(metaJSON))
	return err
}

func (s *DuckDB) LoadDatabase(id string) (*Database, error) {
	row := s.db.QueryRow(`SELECT id, name, schema_json, meta_json FROM databases WHERE id = ?`, id)
	return scanDatabase(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDatabase(row rowScanner) (*Database, error) {
	var db Database
	var schemaJSON, metaJSON string
	if err := row.Scan(&db.ID, &db.Name, &schemaJSON, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	db.Schema = &schema.Schema{}
	if err := json.Unmarshal([]byte(schemaJSON), db.Schema); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &db.Meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &db, nil
}

func (s *DuckDB) DeleteDatabase(id string) error {
	if _, err := s.db.Exec(`DELETE FROM records WHERE db_id = ?`, id); err != nil {
		return err
	}
	res, err := s.db.Exec(`DELETE FROM databases WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.mu.Lock()
	delete(s.keyFields, id)
	s.mu.Unlock()
	return nil
}

func (s *DuckDB) ListDatabases() ([]*Database, error) {
	rows, err := s.db.Query(`SELECT id, name, schema_json, meta_json FROM databases ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Database
	for rows.Next() {
		db, err := scanDatabase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, db)
	}
	return out, rows.Err()
}

// keyField resolves (and caches) the database's rsID-typed field name.
func (s *DuckDB) keyField(dbID string) (string, error) {
	s.mu.Lock()
	if f, ok := s.keyFields[dbID]; ok {
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	db, err := s.LoadDatabase(dbID)
	if err != nil {
		return "", err
	}
	field := ""
	for _, f := range db.Schema.Fields {
		if f.Type == schema.TypeRSID {
			field = f.Name
			break
		}
	}

	s.mu.Lock()
	s.keyFields[dbID] = field
	s.mu.Unlock()
	return field, nil
}

func (s *DuckDB) PutRecords(dbID string, records []*Record) error {
	keyField, err := s.keyField(dbID)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO records (db_id, id, rsid, fields_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (db_id, id) DO UPDATE SET
			rsid = excluded.rsid,
			fields_json = excluded.fields_json`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		rsid := ""
		if keyField != "" {
			if v, ok := rec.Field(keyField); ok {
				rsid = canonical(v)
			}
		}
		fieldsJSON, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		if _, err := stmt.Exec(dbID, rec.ID, rsid, string(fieldsJSON)); err != nil {
			return fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

func (s *DuckDB) Records(dbID string) ([]*Record, error) {
	rows, err := s.db.Query(`SELECT id, fields_json FROM records WHERE db_id = ?`, dbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows, dbID)
}

func (s *DuckDB) FindByField(dbID, field string, values []string) ([]*Record, error) {
	if len(values) == 0 {
		return nil, nil
	}

	keyField, err := s.keyField(dbID)
	if err != nil {
		return nil, err
	}

	// Fast path: the materialized rsID column.
	if keyField != "" && strings.EqualFold(field, keyField) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		args := make([]any, 0, len(values)+1)
		args = append(args, dbID)
		for _, v := range values {
			args = append(args, strings.ToLower(v))
		}
		rows, err := s.db.Query(
			`SELECT id, fields_json FROM records WHERE db_id = ? AND rsid IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanRecords(rows, dbID)
	}

	// Any other field: scan and filter in Go.
	all, err := s.Records(dbID)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[strings.ToLower(v)] = true
	}
	var out []*Record
	for _, rec := range all {
		if v, ok := rec.Field(field); ok && want[canonical(v)] {
			out = append(out, rec)
		}
	}
	return out, nil
}

func scanRecords(rows *sql.Rows, dbID string) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		var id, fieldsJSON string
		if err := rows.Scan(&id, &fieldsJSON); err != nil {
			return nil, err
		}
		rec := &Record{ID: id, DatabaseID: dbID}
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *DuckDB) Close() error {
	return s.db.Close()
}
