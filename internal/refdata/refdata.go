// Package refdata serves the bundled reference annotation dataset from a
// read-only SQLite file: clinical significance, drug interactions, trait
// associations and population frequencies, all keyed by rsID.
package refdata

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/genomeforge/engine/internal/match"
)

// queryChunk bounds the number of rsIDs bound into one IN clause; SQLite
// caps bound parameters per statement.
const queryChunk = 500

// DB is the bundled annotation dataset. It implements the matcher's lookup
// contract and is safe for concurrent use.
type DB struct {
	db   *sqlx.DB
	name string
}

// Open opens the dataset file read-only.
func Open(path string) (*DB, error) {
	db, err := sqlx.Connect("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open reference data: %w", err)
	}
	return &DB{db: db, name: "bundled-reference"}, nil
}

// OpenMemory opens an empty in-memory dataset and creates its tables. Used
// by tests and by dataset build tooling.
func OpenMemory() (*DB, error) {
	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open reference data: %w", err)
	}
	if _, err := db.Exec(datasetDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &DB{db: db, name: "bundled-reference"}, nil
}

// Close releases the underlying database handle.
func (r *DB) Close() error {
	return r.db.Close()
}

// Handle exposes the raw connection for dataset build tooling.
func (r *DB) Handle() *sqlx.DB {
	return r.db
}

const datasetDDL = `
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS clinvar (
	rsid         TEXT PRIMARY KEY,
	gene         TEXT,
	condition    TEXT NOT NULL,
	significance TEXT NOT NULL,
	review_stars INTEGER NOT NULL DEFAULT 0,
	chromosome   TEXT,
	position     INTEGER
);
CREATE TABLE IF NOT EXISTS pharmgkb (
	rsid           TEXT NOT NULL,
	gene           TEXT NOT NULL,
	drug           TEXT NOT NULL,
	evidence_level TEXT,
	response       TEXT,
	recommendation TEXT,
	has_label      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (rsid, drug)
);
CREATE TABLE IF NOT EXISTS gwas (
	rsid        TEXT NOT NULL,
	trait       TEXT NOT NULL,
	category    TEXT,
	risk_allele TEXT,
	effect      TEXT,
	p_value     REAL NOT NULL,
	odds_ratio  REAL,
	PRIMARY KEY (rsid, trait)
);
CREATE TABLE IF NOT EXISTS frequency (
	rsid             TEXT PRIMARY KEY,
	global_frequency REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pharmgkb_rsid ON pharmgkb (rsid);
CREATE INDEX IF NOT EXISTS idx_gwas_rsid ON gwas (rsid);
`

type clinvarRow struct {
	RSID         string `db:"rsid"`
	Gene         string `db:"gene"`
	Condition    string `db:"condition"`
	Significance string `db:"significance"`
	ReviewStars  int    `db:"review_stars"`
	Chromosome   string `db:"chromosome"`
	Position     int64  `db:"position"`
}

type pharmgkbRow struct {
	RSID           string `db:"rsid"`
	Gene           string `db:"gene"`
	Drug           string `db:"drug"`
	EvidenceLevel  string `db:"evidence_level"`
	Response       string `db:"response"`
	Recommendation string `db:"recommendation"`
	HasLabel       bool   `db:"has_label"`
}

type gwasRow struct {
	RSID       string  `db:"rsid"`
	Trait      string  `db:"trait"`
	Category   string  `db:"category"`
	RiskAllele string  `db:"risk_allele"`
	Effect     string  `db:"effect"`
	PValue     float64 `db:"p_value"`
	OddsRatio  float64 `db:"odds_ratio"`
}

type frequencyRow struct {
	RSID            string  `db:"rsid"`
	GlobalFrequency float64 `db:"global_frequency"`
}

// Source describes the dataset for match results.
func (r *DB) Source() match.SourceInfo {
	info := match.SourceInfo{Name: r.name, RecordCounts: map[string]int{}}
	var version string
	if err := r.db.Get(&version, `SELECT value FROM metadata WHERE key = 'version'`); err == nil {
		info.Version = version
	}
	for _, table := range []string{"clinvar", "pharmgkb", "gwas", "frequency"} {
		var n int
		if err := r.db.Get(&n, "SELECT COUNT(*) FROM "+table); err == nil {
			info.RecordCounts[table] = n
		}
	}
	return info
}

func (r *DB) ClinicalByRSID(ctx context.Context, ids []string) (map[string]*match.ClinicalRecord, error) {
	out := make(map[string]*match.ClinicalRecord)
	err := r.chunked(ctx, ids, `SELECT rsid, IFNULL(gene,'') gene, condition, significance,
		review_stars, IFNULL(chromosome,'') chromosome, IFNULL(position,0) position
		FROM clinvar WHERE rsid IN (?)`, func(rows *sqlx.Rows) error {
		var row clinvarRow
		if err := rows.StructScan(&row); err != nil {
			return err
		}
		out[row.RSID] = &match.ClinicalRecord{
			RSID:         row.RSID,
			Gene:         row.Gene,
			Condition:    row.Condition,
			Significance: row.Significance,
			ReviewStars:  row.ReviewStars,
			Chromosome:   row.Chromosome,
			Position:     row.Position,
		}
		return nil
	})
	return out, err
}

func (r *DB) DrugsByRSID(ctx context.Context, ids []string) (map[string][]*match.DrugRecord, error) {
	out := make(map[string][]*match.DrugRecord)
	err := r.chunked(ctx, ids, `SELECT rsid, gene, drug, IFNULL(evidence_level,'') evidence_level,
		IFNULL(response,'') response, IFNULL(recommendation,'') recommendation, has_label
		FROM pharmgkb WHERE rsid IN (?)`, func(rows *sqlx.Rows) error {
		var row pharmgkbRow
		if err := rows.StructScan(&row); err != nil {
			return err
		}
		out[row.RSID] = append(out[row.RSID], &match.DrugRecord{
			RSID:           row.RSID,
			Gene:           row.Gene,
			Drug:           row.Drug,
			EvidenceLevel:  row.EvidenceLevel,
			Response:       row.Response,
			Recommendation: row.Recommendation,
			HasLabel:       row.HasLabel,
		})
		return nil
	})
	return out, err
}

func (r *DB) TraitsByRSID(ctx context.Context, ids []string) (map[string][]*match.TraitRecord, error) {
	out := make(map[string][]*match.TraitRecord)
	err := r.chunked(ctx, ids, `SELECT rsid, trait, IFNULL(category,'') category,
		IFNULL(risk_allele,'') risk_allele, IFNULL(effect,'') effect, p_value, IFNULL(odds_ratio,0) odds_ratio
		FROM gwas WHERE rsid IN (?)`, func(rows *sqlx.Rows) error {
		var row gwasRow
		if err := rows.StructScan(&row); err != nil {
			return err
		}
		out[row.RSID] = append(out[row.RSID], &match.TraitRecord{
			RSID:       row.RSID,
			Trait:      row.Trait,
			Category:   row.Category,
			RiskAllele: row.RiskAllele,
			Effect:     row.Effect,
			PValue:     row.PValue,
			OddsRatio:  row.OddsRatio,
		})
		return nil
	})
	return out, err
}

func (r *DB) FrequenciesByRSID(ctx context.Context, ids []string) (map[string]*match.FrequencyRecord, error) {
	out := make(map[string]*match.FrequencyRecord)
	err := r.chunked(ctx, ids, `SELECT rsid, global_frequency FROM frequency WHERE rsid IN (?)`,
		func(rows *sqlx.Rows) error {
			var row frequencyRow
			if err := rows.StructScan(&row); err != nil {
				return err
			}
			out[row.RSID] = &match.FrequencyRecord{
				RSID:            row.RSID,
				GlobalFrequency: row.GlobalFrequency,
			}
			return nil
		})
	return out, err
}

// chunked runs query once per id chunk, expanding the IN clause with
// sqlx.In, and hands every result row to scan.
func (r *DB) chunked(ctx context.Context, ids []string, query string, scan func(*sqlx.Rows) error) error {
	for start := 0; start < len(ids); start += queryChunk {
		end := start + queryChunk
		if end > len(ids) {
			end = len(ids)
		}

		q, args, err := sqlx.In(query, ids[start:end])
		if err != nil {
			return fmt.Errorf("expand query: %w", err)
		}
		rows, err := r.db.QueryxContext(ctx, r.db.Rebind(q), args...)
		if err != nil {
			return fmt.Errorf("query reference data: %w", err)
		}
		for rows.Next() {
			if err := scan(rows); err != nil {
				rows.Close()
				return err
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

var _ match.Lookup = (*DB)(nil)
