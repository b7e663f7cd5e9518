package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/genomeforge/engine/internal/annodb"
	"github.com/genomeforge/engine/internal/config"
	"github.com/genomeforge/engine/internal/schema"
	"github.com/genomeforge/engine/internal/store"
)

// dbFlags are the backend-selection flags shared by every db subcommand.
type dbFlags struct {
	backend string
	path    string
}

func (f *dbFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.backend, "store", "", "storage backend: memory, duckdb or elastic (default from config, else duckdb)")
	cmd.PersistentFlags().StringVar(&f.path, "store-path", "", "DuckDB file path (default: <data-dir>/databases.duckdb)")
}

func (f *dbFlags) manager(cfg *config.Config) (*annodb.Manager, error) {
	backend := f.backend
	if backend == "" {
		backend = configuredString("db.store", "duckdb")
	}
	path := f.path
	if path == "" {
		path = filepath.Join(cfg.DataDir, "databases.duckdb")
	}
	return openManager(backend, path, cfg)
}

func openManager(backend, path string, cfg *config.Config) (*annodb.Manager, error) {
	var (
		st  store.Store
		err error
	)
	switch backend {
	case "memory":
		st = store.NewMemory()
	case "duckdb":
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		st, err = store.OpenDuckDB(path)
	case "elastic":
		if cfg.ElasticURL == "" {
			return nil, fmt.Errorf("GENOMEFORGE_ELASTIC_URL is required for the elastic backend")
		}
		st, err = store.OpenElastic(cfg.ElasticURL, cfg.ElasticUser, cfg.ElasticPassword)
	default:
		return nil, fmt.Errorf("unknown store backend %q (memory, duckdb, elastic)", backend)
	}
	if err != nil {
		return nil, err
	}

	mgr := annodb.NewManager(st)
	mgr.SetLogger(logger)
	return mgr, nil
}

func newDBCmd() *cobra.Command {
	flags := &dbFlags{}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage custom annotation databases",
	}
	flags.register(cmd)

	cmd.AddCommand(newDBImportCmd(flags))
	cmd.AddCommand(newDBExportCmd(flags))
	cmd.AddCommand(newDBQueryCmd(flags))
	cmd.AddCommand(newDBListCmd(flags))
	cmd.AddCommand(newDBInfoCmd(flags))
	cmd.AddCommand(newDBDeleteCmd(flags))
	cmd.AddCommand(newDBCreateCmd(flags))
	cmd.AddCommand(newDBMaintainCmd(flags))

	return cmd
}

// withManager loads config, opens the selected backend and ensures cleanup.
func withManager(flags *dbFlags, fn func(*annodb.Manager) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	mgr, err := flags.manager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()
	return fn(mgr)
}

func newDBImportCmd(flags *dbFlags) *cobra.Command {
	var (
		name        string
		schemaName  string
		schemaFile  string
		skipInvalid bool
		appendTo    string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import an annotation file (CSV, TSV, JSON or VCF; optionally gzipped)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(flags, func(mgr *annodb.Manager) error {
				opts := annodb.ImportOptions{
					Name:        name,
					SchemaName:  schemaName,
					SkipInvalid: skipInvalid,
					Append:      appendTo,
				}
				if schemaFile != "" {
					s, err := schema.LoadFile(schemaFile)
					if err != nil {
						return err
					}
					opts.Schema = s
				}

				res, err := mgr.ImportFile(args[0], opts)
				if err != nil {
					return err
				}
				if !res.Success {
					fmt.Fprintf(os.Stderr, "Import rejected: %d invalid record(s)\n", res.Skipped)
					for _, ie := range res.Errors {
						for _, fe := range ie.Errors {
							fmt.Fprintf(os.Stderr, "  row %d: %v\n", ie.Row, fe)
						}
					}
					return fmt.Errorf("import failed validation")
				}

				fmt.Printf("Imported %d record(s) into %s (schema %s, %d skipped, %d duplicate(s)) in %s\n",
					res.Imported, res.DatabaseID, res.SchemaName, res.Skipped, res.Duplicates, res.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "database name (default: file base name)")
	cmd.Flags().StringVar(&schemaName, "schema", "", "predefined schema: "+strings.Join(schema.PredefinedNames(), ", "))
	cmd.Flags().StringVar(&schemaFile, "schema-file", "", "YAML schema definition file")
	cmd.Flags().BoolVar(&skipInvalid, "skip-invalid", false, "skip records that fail validation instead of rejecting the import")
	cmd.Flags().StringVar(&appendTo, "append", "", "append to an existing database id")

	return cmd
}

func newDBExportCmd(flags *dbFlags) *cobra.Command {
	var (
		format string
		pretty bool
	)

	cmd := &cobra.Command{
		Use:   "export <database-id> <output-file>",
		Short: "Export a database to CSV, TSV or JSON (gzipped when the path ends in .gz)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(flags, func(mgr *annodb.Manager) error {
				opts := annodb.DefaultExportOptions()
				opts.Format = annodb.FileFormat(format)
				opts.Pretty = pretty
				if err := mgr.ExportFile(args[0], args[1], opts); err != nil {
					return err
				}
				fmt.Printf("Exported to %s\n", args[1])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "output format: csv, tsv or json (default: by extension)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")

	return cmd
}

func newDBQueryCmd(flags *dbFlags) *cobra.Command {
	var (
		conditions    []string
		sortField     string
		sortDesc      bool
		offset, limit int
		caseSensitive bool
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "query <database-id>",
		Short: "Query a database's records",
		Long: `Filter records with --where conditions of the form field:operator:value,
for example --where gene:equals:APOE or --where p_value:lt:5e-8. Operators:
equals, contains, startsWith, endsWith, regex, gt, lt, gte, lte.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(flags, func(mgr *annodb.Manager) error {
				q := annodb.Query{
					SortField: sortField,
					Offset:    offset,
					Limit:     limit,
				}
				if sortDesc {
					q.SortDir = annodb.SortDesc
				}
				for _, raw := range conditions {
					cond, err := parseCondition(raw, caseSensitive)
					if err != nil {
						return err
					}
					q.Conditions = append(q.Conditions, cond)
				}

				db, err := mgr.Get(args[0])
				if err != nil {
					return err
				}
				res, err := mgr.Query(args[0], q)
				if err != nil {
					return err
				}

				if asJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				}

				renderRecords(db, res)
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&conditions, "where", nil, "condition field:operator:value (repeatable)")
	cmd.Flags().StringVar(&sortField, "sort", "", "sort field")
	cmd.Flags().BoolVar(&sortDesc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many matches")
	cmd.Flags().IntVar(&limit, "limit", 50, "return at most this many matches (0 = all)")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "case-sensitive string matching")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")

	return cmd
}

// parseCondition splits field:operator:value. The value may itself contain
// colons.
func parseCondition(raw string, caseSensitive bool) (annodb.Condition, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return annodb.Condition{}, fmt.Errorf("bad condition %q: want field:operator:value", raw)
	}
	return annodb.Condition{
		Field:         parts[0],
		Operator:      annodb.Operator(parts[1]),
		Value:         parts[2],
		CaseSensitive: caseSensitive,
	}, nil
}

func renderRecords(db *store.Database, res *annodb.QueryResult) {
	fields := db.Schema.FieldNames()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(fields))
	for i, f := range fields {
		header[i] = f
	}
	t.AppendHeader(header)

	for _, rec := range res.Records {
		row := make(table.Row, len(fields))
		for i, f := range fields {
			v, ok := rec.Field(f)
			if !ok || v == nil {
				row[i] = ""
				continue
			}
			row[i] = v
		}
		t.AppendRow(row)
	}
	t.Render()
	fmt.Printf("%d of %d matching record(s)\n", len(res.Records), res.Total)
}

func newDBListCmd(flags *dbFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(flags, func(mgr *annodb.Manager) error {
				dbs, err := mgr.List()
				if err != nil {
					return err
				}

				if asJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(dbs)
				}

				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"ID", "Name", "Schema", "Records", "Enabled", "Priority", "Updated"})
				for _, db := range dbs {
					t.AppendRow(table.Row{
						db.ID, db.Name, db.Schema.Name, db.Meta.RecordCount,
						db.Meta.Enabled, db.Meta.Priority,
						db.Meta.UpdatedAt.Format("2006-01-02 15:04"),
					})
				}
				t.Render()
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print databases as JSON")
	return cmd
}

func newDBInfoCmd(flags *dbFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info <database-id>",
		Short: "Show one database's schema and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(flags, func(mgr *annodb.Manager) error {
				db, err := mgr.Get(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(db)
			})
		},
	}
}

func newDBDeleteCmd(flags *dbFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <database-id>",
		Short: "Delete a database and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(flags, func(mgr *annodb.Manager) error {
				if err := mgr.Delete(args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newDBMaintainCmd(flags *dbFlags) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Recount records and refresh database statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(flags, func(mgr *annodb.Manager) error {
				if err := mgr.RefreshStats(); err != nil {
					return err
				}
				st, err := mgr.Stats()
				if err != nil {
					return err
				}
				fmt.Printf("%d database(s), %d enabled, %d record(s)\n",
					st.Databases, st.Enabled, st.TotalRecords)

				if interval <= 0 {
					return nil
				}
				if err := mgr.StartMaintenance(interval); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "refreshing every %s, interrupt to stop\n", interval)
				<-cmd.Context().Done()
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "keep refreshing at this interval until interrupted")
	return cmd
}

func newDBCreateCmd(flags *dbFlags) *cobra.Command {
	var (
		schemaName string
		schemaFile string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty database with a predefined or YAML schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(flags, func(mgr *annodb.Manager) error {
				var s *schema.Schema
				switch {
				case schemaFile != "":
					loaded, err := schema.LoadFile(schemaFile)
					if err != nil {
						return err
					}
					s = loaded
				case schemaName != "":
					s = schema.Predefined(schemaName)
					if s == nil {
						return fmt.Errorf("unknown predefined schema %q", schemaName)
					}
				default:
					return fmt.Errorf("one of --schema or --schema-file is required")
				}

				db, err := mgr.CreateDatabase(args[0], s)
				if err != nil {
					return err
				}
				fmt.Printf("Created %s (%s)\n", db.Name, db.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&schemaName, "schema", "", "predefined schema: "+strings.Join(schema.PredefinedNames(), ", "))
	cmd.Flags().StringVar(&schemaFile, "schema-file", "", "YAML schema definition file")

	return cmd
}
