package annodb

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ExportOptions control the output layout of an export.
type ExportOptions struct {
	Format FileFormat
	// Pretty indents JSON output.
	Pretty bool
	// Header writes the column row for CSV/TSV output. Defaults on via
	// DefaultExportOptions.
	Header bool
	// Gzip compresses the output stream.
	Gzip bool
}

// DefaultExportOptions exports headered CSV.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{Format: FormatCSV, Header: true}
}

// ExportFile writes a database to path, inferring format and compression
// from the extension when opts.Format is unset.
func (m *Manager) ExportFile(id, path string, opts ExportOptions) error {
	if opts.Format == "" {
		opts.Format = formatFromExtension(path)
		if opts.Format == "" {
			opts.Format = FormatCSV
		}
	}
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		opts.Gzip = true
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := m.Export(id, f, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Export writes every record of a database to w in the requested format.
// Field order follows the schema declaration.
func (m *Manager) Export(id string, w io.Writer, opts ExportOptions) error {
	db, err := m.store.LoadDatabase(id)
	if err != nil {
		return err
	}
	records, err := m.store.Records(id)
	if err != nil {
		return err
	}

	if opts.Gzip {
		gz := gzip.NewWriter(w)
		if err := m.export(db, records, gz, opts); err != nil {
			gz.Close()
			return err
		}
		return gz.Close()
	}
	return m.export(db, records, w, opts)
}

func (m *Manager) export(db *Database, records []*Record, w io.Writer, opts ExportOptions) error {
	switch opts.Format {
	case FormatJSON:
		return exportJSON(db, records, w, opts.Pretty)
	case FormatCSV:
		return exportDelimited(db, records, w, ',', opts.Header)
	case FormatTSV:
		return exportDelimited(db, records, w, '\t', opts.Header)
	default:
		return fmt.Errorf("cannot export format %q", opts.Format)
	}
}

func exportJSON(db *Database, records []*Record, w io.Writer, pretty bool) error {
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = rec.Fields
	}

	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(rows)
}

// exportDelimited writes CSV or TSV. encoding/csv handles the quoting
// rules (embedded delimiters, quotes doubled, newlines).
func exportDelimited(db *Database, records []*Record, w io.Writer, delim rune, header bool) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim

	fields := db.Schema.FieldNames()
	if header {
		if err := cw.Write(fields); err != nil {
			return err
		}
	}

	row := make([]string, len(fields))
	for _, rec := range records {
		for i, f := range fields {
			v, ok := rec.Field(f)
			if !ok || v == nil {
				row[i] = ""
				continue
			}
			row[i] = exportValue(v)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// exportValue renders a typed value so a re-import converts it back to the
// same value.
func exportValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case int64:
		return fmt.Sprintf("%d", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
