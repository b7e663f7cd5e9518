package annodb

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/genomeforge/engine/internal/genome"
	"github.com/genomeforge/engine/internal/schema"
)

// FileFormat identifies the layout of an annotation source file.
type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatTSV  FileFormat = "tsv"
	FormatJSON FileFormat = "json"
	FormatVCF  FileFormat = "vcf"
)

// errorSampleSize bounds how many failing rows an import report carries.
const errorSampleSize = 10

// detectSampleSize is how many rows schema auto-detection inspects.
const detectSampleSize = 100

// ImportOptions control parsing, schema resolution and validation strictness.
type ImportOptions struct {
	// Name for the new database. Defaults to the source file's base name.
	Name string
	// Format overrides extension/content sniffing when set.
	Format FileFormat
	// Schema takes precedence over SchemaName and auto-detection.
	Schema *schema.Schema
	// SchemaName selects a predefined schema (clinvar, pharmgkb, gwas,
	// frequency).
	SchemaName string
	// FieldMapping maps source column names to schema field names.
	FieldMapping map[string]string
	// SkipInvalid drops records that fail validation and imports the rest.
	// By default an import with any invalid record is rejected wholesale.
	SkipInvalid bool
	// Append adds records to the existing database with this id instead of
	// creating a new one.
	Append string
}

// ImportError is one failing row in an import report.
type ImportError struct {
	Row    int                  `json:"row"`
	Errors []*schema.FieldError `json:"errors"`
}

// ImportResult summarizes an import. A rejected import has Success false
// and Imported zero; Errors holds at most the first ten failing rows
// either way.
type ImportResult struct {
	Success    bool          `json:"success"`
	DatabaseID string        `json:"databaseId,omitempty"`
	Format     FileFormat    `json:"format"`
	SchemaName string        `json:"schemaName"`
	Imported   int           `json:"imported"`
	Skipped    int           `json:"skipped"`
	Duplicates int           `json:"duplicates"`
	Errors     []ImportError `json:"errors,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ImportFile imports an annotation file, creating a new database (or
// appending per opts.Append). Gzipped input is detected by magic bytes.
func (m *Manager) ImportFile(path string, opts ImportOptions) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if opts.Name == "" {
		opts.Name = baseName(path)
	}
	if opts.Format == "" {
		opts.Format = formatFromExtension(path)
	}

	res, err := m.ImportReader(f, opts)
	if err == nil && res.Success && res.DatabaseID != "" {
		if db, lerr := m.store.LoadDatabase(res.DatabaseID); lerr == nil {
			db.Meta.SourceFile = filepath.Base(path)
			if serr := m.store.SaveDatabase(db); serr != nil {
				m.logger.Warn("record source file", zap.Error(serr))
			}
		}
	}
	return res, err
}

// ImportReader reads annotation rows from r per opts. The reader may be
// gzipped.
func (m *Manager) ImportReader(r io.Reader, opts ImportOptions) (*ImportResult, error) {
	start := time.Now()

	br := bufio.NewReader(r)
	plain, err := maybeGunzip(br)
	if err != nil {
		return nil, err
	}
	// One buffered reader spans sniffing and parsing, so peeked bytes are
	// never lost.
	buffered := bufio.NewReader(plain)

	format := opts.Format
	if format == "" {
		format, err = sniffFormat(buffered)
		if err != nil {
			return nil, err
		}
	}

	rows, err := readRows(buffered, format)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no records found in input")
	}

	s, err := m.resolveSchema(rows, opts)
	if err != nil {
		return nil, err
	}

	validator, err := schema.NewValidator(s)
	if err != nil {
		return nil, err
	}
	if len(opts.FieldMapping) > 0 {
		validator.SetFieldMapping(opts.FieldMapping)
	}

	batch := validator.ValidateAll(rows)

	result := &ImportResult{
		Format:     format,
		SchemaName: s.Name,
		Duration:   time.Since(start),
	}
	for _, rr := range batch.Results {
		if rr.Valid {
			continue
		}
		if len(result.Errors) < errorSampleSize {
			result.Errors = append(result.Errors, ImportError{Row: rr.Row, Errors: rr.Errors})
		}
	}

	if !opts.SkipInvalid && batch.InvalidCount > 0 {
		result.Skipped = batch.InvalidCount
		result.Duration = time.Since(start)
		m.logger.Warn("import rejected",
			zap.String("name", opts.Name),
			zap.Int("invalid", batch.InvalidCount))
		return result, nil
	}

	records, duplicates := dedupe(batch, validator)
	result.Skipped = batch.InvalidCount
	result.Duplicates = duplicates

	db, err := m.targetDatabase(opts, s)
	if err != nil {
		return nil, err
	}

	recs := make([]*Record, len(records))
	for i, rr := range records {
		recs[i] = &Record{
			ID:         recordID(validator, rr.Converted),
			DatabaseID: db.ID,
			Fields:     rr.Converted,
		}
	}
	if err := m.store.PutRecords(db.ID, recs); err != nil {
		return nil, fmt.Errorf("store records: %w", err)
	}

	db.Meta.RecordCount += len(recs)
	db.Meta.UpdatedAt = time.Now()
	if err := m.store.SaveDatabase(db); err != nil {
		return nil, fmt.Errorf("save database: %w", err)
	}

	result.Success = true
	result.DatabaseID = db.ID
	result.Imported = len(recs)
	result.Duration = time.Since(start)

	m.logger.Info("imported database",
		zap.String("name", db.Name),
		zap.String("format", string(format)),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
		zap.Int("duplicates", result.Duplicates))
	m.events.emit(Event{Type: EventImported, DatabaseID: db.ID, Name: db.Name, Records: result.Imported})
	return result, nil
}

// resolveSchema picks the schema: explicit, then predefined by name, then
// auto-detection from a sample of the rows.
func (m *Manager) resolveSchema(rows []map[string]any, opts ImportOptions) (*schema.Schema, error) {
	if opts.Schema != nil {
		return opts.Schema, nil
	}
	if opts.SchemaName != "" {
		s := schema.Predefined(opts.SchemaName)
		if s == nil {
			return nil, fmt.Errorf("unknown predefined schema %q (have %s)",
				opts.SchemaName, strings.Join(schema.PredefinedNames(), ", "))
		}
		return s, nil
	}

	sample := rows
	if len(sample) > detectSampleSize {
		sample = sample[:detectSampleSize]
	}
	s := schema.Detect(opts.Name, sample)
	m.logger.Debug("auto-detected schema",
		zap.String("name", opts.Name),
		zap.Strings("fields", s.FieldNames()))
	return s, nil
}

func (m *Manager) targetDatabase(opts ImportOptions, s *schema.Schema) (*Database, error) {
	if opts.Append != "" {
		return m.store.LoadDatabase(opts.Append)
	}
	return m.CreateDatabase(opts.Name, s)
}

// dedupe keeps the last occurrence of each primary key among the valid rows.
func dedupe(batch *schema.BatchResult, v *schema.Validator) ([]schema.RecordResult, int) {
	lastRow := make(map[string]int)
	for _, rr := range batch.Results {
		if rr.Valid {
			lastRow[recordID(v, rr.Converted)] = rr.Row
		}
	}

	duplicates := 0
	out := make([]schema.RecordResult, 0, len(lastRow))
	for _, rr := range batch.Results {
		if !rr.Valid {
			continue
		}
		if lastRow[recordID(v, rr.Converted)] != rr.Row {
			duplicates++
			continue
		}
		out = append(out, rr)
	}
	return out, duplicates
}

// recordID joins the primary-key values into the record's id.
func recordID(v *schema.Validator, converted map[string]any) string {
	parts := make([]string, 0, len(v.Schema().PrimaryKey))
	for _, pk := range v.Schema().PrimaryKey {
		parts = append(parts, fmt.Sprintf("%v", converted[pk]))
	}
	return strings.Join(parts, "|")
}

func baseName(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".gz")
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// formatFromExtension maps a file extension to a format, ignoring a
// trailing .gz. Unknown extensions fall through to content sniffing.
func formatFromExtension(path string) FileFormat {
	name := strings.ToLower(strings.TrimSuffix(filepath.Base(path), ".gz"))
	switch filepath.Ext(name) {
	case ".json":
		return FormatJSON
	case ".vcf":
		return FormatVCF
	case ".tsv", ".tab":
		return FormatTSV
	case ".csv", ".txt":
		return FormatCSV
	}
	return ""
}

// maybeGunzip wraps the reader in a gzip decoder when the stream starts
// with the gzip magic bytes.
func maybeGunzip(br *bufio.Reader) (io.Reader, error) {
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, nil
	}
	return br, nil
}

// sniffFormat inspects the first non-blank byte(s) of the stream. JSON
// starts with '[' or '{', VCF with its header lines; tab beats comma for
// delimited text.
func sniffFormat(br *bufio.Reader) (FileFormat, error) {
	head, err := br.Peek(4096)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read input: %w", err)
	}
	trimmed := strings.TrimLeft(string(head), " \t\r\n")
	switch {
	case strings.HasPrefix(trimmed, "["), strings.HasPrefix(trimmed, "{"):
		return FormatJSON, nil
	case strings.HasPrefix(trimmed, "##fileformat=VCF"), strings.HasPrefix(trimmed, "#CHROM"):
		return FormatVCF, nil
	}

	firstLine := trimmed
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	if strings.Contains(firstLine, "\t") {
		return FormatTSV, nil
	}
	return FormatCSV, nil
}

// readRows parses the stream into raw records keyed by source column name.
func readRows(r io.Reader, format FileFormat) ([]map[string]any, error) {
	switch format {
	case FormatCSV:
		return readDelimited(r, ',')
	case FormatTSV:
		return readDelimited(r, '\t')
	case FormatJSON:
		return readJSON(r)
	case FormatVCF:
		return readVCF(r)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func readDelimited(r io.Reader, delim rune) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]any
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// readJSON accepts either a top-level array of objects or a single object.
func readJSON(r io.Reader) ([]map[string]any, error) {
	parsed, err := gabs.ParseJSONBuffer(r)
	if err != nil {
		return nil, err
	}

	children, err := parsed.Children()
	if err != nil {
		// Not an array: treat a top-level object as one record.
		if obj, ok := parsed.Data().(map[string]any); ok {
			return []map[string]any{obj}, nil
		}
		return nil, fmt.Errorf("expected a JSON array of objects")
	}

	rows := make([]map[string]any, 0, len(children))
	for i, child := range children {
		obj, ok := child.Data().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
		rows = append(rows, obj)
	}
	return rows, nil
}

// readVCF flattens VCF data lines: the fixed columns become rsid,
// chromosome and position, and every INFO key becomes its own column.
func readVCF(r io.Reader) ([]map[string]any, error) {
	var rows []map[string]any

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 8 {
			return nil, fmt.Errorf("line %d: expected 8 VCF columns, got %d", lineNo, len(cols))
		}

		row := map[string]any{
			"chromosome": genome.NormalizeChromosome(cols[0]),
			"position":   cols[1],
			"rsid":       cols[2],
			"ref":        cols[3],
			"alt":        cols[4],
		}
		for k, v := range genome.ExplodeInfo(cols[7]) {
			if _, taken := row[k]; !taken {
				row[k] = v
			}
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// asFloat coerces a typed field value to a float for comparisons and sorts.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
