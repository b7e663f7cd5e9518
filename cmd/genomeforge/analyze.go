package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/genomeforge/engine/internal/annodb"
	"github.com/genomeforge/engine/internal/config"
	"github.com/genomeforge/engine/internal/genome"
	"github.com/genomeforge/engine/internal/match"
	"github.com/genomeforge/engine/internal/refdata"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		asJSON     bool
		maxResults int
		pValue     float64
		dbDir      string
		top        int
	)

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Parse a genotype file and match it against annotation sources",
		Long: `Parse a raw genotype file and annotate its variants against the
bundled reference dataset plus any enabled custom databases, then print the
ranked findings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			g, err := parseGenome(args[0], false)
			if err != nil {
				return err
			}

			// Flags win over ~/.genomeforge.yaml, which wins over the
			// library defaults.
			if maxResults == 0 {
				maxResults = configuredInt("analyze.max-results", 0)
			}
			if pValue == 0 {
				pValue = configuredFloat("analyze.p-value", 0)
			}

			lookup, cleanup, err := buildLookup(cfg, dbDir)
			if err != nil {
				return err
			}
			defer cleanup()

			matcher := match.NewMatcher(lookup)
			matcher.SetLogger(logger)
			if maxResults > 0 {
				matcher.SetMaxResults(maxResults)
			}
			if pValue > 0 {
				matcher.SetPValueThreshold(pValue)
			}

			result, err := matcher.Match(cmd.Context(), g)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			printResult(g.Build, result, top)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full match result as JSON")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "cap on annotated variants (default 1000)")
	cmd.Flags().Float64Var(&pValue, "p-value", 0, "trait association p-value cutoff (default 5e-8)")
	cmd.Flags().StringVar(&dbDir, "db-dir", "", "DuckDB file with custom annotation databases")
	cmd.Flags().IntVar(&top, "top", 10, "number of findings to print")

	return cmd
}

// buildLookup assembles the annotation sources: custom databases (when a
// store is given) take priority over the bundled reference dataset.
func buildLookup(cfg *config.Config, dbDir string) (match.Lookup, func(), error) {
	var sources []match.Lookup
	var closers []func() error

	if dbDir != "" {
		mgr, err := openManager("duckdb", dbDir, cfg)
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, annodb.NewLookup(mgr))
		closers = append(closers, mgr.Close)
	}

	if ref, err := refdata.Open(cfg.RefDataPath()); err == nil {
		sources = append(sources, ref)
		closers = append(closers, ref.Close)
	} else if len(sources) == 0 {
		return nil, nil, fmt.Errorf("no annotation sources available (reference data: %v)", err)
	}

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
	}
	return match.NewMultiLookup(sources...), cleanup, nil
}

func printResult(build genome.Build, result *match.MatchResult, top int) {
	s := result.Summary
	fmt.Printf("Source:             %s", result.Source.Name)
	if result.Source.Version != "" {
		fmt.Printf(" (%s)", result.Source.Version)
	}
	fmt.Println()
	fmt.Printf("Build:              %s\n", build)
	fmt.Printf("Variants analyzed:  %d of %d\n", s.AnalyzedVariants, s.TotalVariants)
	fmt.Printf("Clinical findings:  %d\n", s.ClinicalCount)
	fmt.Printf("Drug interactions:  %d\n", s.DrugCount)
	fmt.Printf("Trait associations: %d\n", s.TraitCount)
	fmt.Printf("Actionable:         %d\n", s.ActionableFindings)
	if len(s.CarrierStatus) > 0 {
		fmt.Printf("Carrier status:     %s\n", strings.Join(s.CarrierStatus, ", "))
	}

	if top <= 0 || len(result.Variants) == 0 {
		return
	}
	fmt.Println("\nTop findings:")
	for i, av := range result.Variants {
		if i >= top {
			break
		}
		desc := ""
		switch {
		case av.Clinical != nil:
			desc = fmt.Sprintf("%s (%s)", av.Clinical.Condition, av.Clinical.Significance)
		case len(av.Drugs) > 0:
			desc = fmt.Sprintf("%s response", av.Drugs[0].Drug)
		case len(av.Traits) > 0:
			desc = av.Traits[0].Trait
		}
		fmt.Printf("  %-12s %-10s score %.2f  [%s]  %s\n",
			av.Variant.ID, av.Variant.Genotype, av.ImpactScore, av.Category, desc)
	}
}
