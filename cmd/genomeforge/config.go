package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// setting is one recognized configuration key: its default, a short
// description and how a raw value is checked and converted before it is
// written to ~/.genomeforge.yaml.
type setting struct {
	key   string
	def   any
	usage string
	parse func(string) (any, error)
}

var settings = []setting{
	{"analyze.max-results", 1000, "cap on annotated variants per analysis", parseIntIn(1, 100000)},
	{"analyze.p-value", 5e-8, "trait association p-value cutoff", parsePValue},
	{"batch.concurrency", 3, "concurrent jobs in a batch", parseIntIn(1, 64)},
	{"batch.retries", 2, "retries per failed job", parseIntIn(0, 10)},
	{"batch.timeout", "5m", "per-job timeout", parseTimeout},
	{"db.store", "duckdb", "default storage backend", parseOneOf("memory", "duckdb", "elastic")},
}

func findSetting(key string) (setting, bool) {
	for _, s := range settings {
		if s.key == key {
			return s, true
		}
	}
	return setting{}, false
}

func settingKeys() []string {
	keys := make([]string, len(settings))
	for i, s := range settings {
		keys[i] = s.key
	}
	return keys
}

// effective returns the configured value for the key, or its default.
func (s setting) effective() any {
	if viper.IsSet(s.key) {
		return viper.Get(s.key)
	}
	return s.def
}

func parseIntIn(lo, hi int) func(string) (any, error) {
	return func(raw string) (any, error) {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("want an integer, got %q", raw)
		}
		if n < lo || n > hi {
			return nil, fmt.Errorf("%d is outside [%d, %d]", n, lo, hi)
		}
		return n, nil
	}
}

func parsePValue(raw string) (any, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("want a number, got %q", raw)
	}
	if f <= 0 || f > 1 {
		return nil, fmt.Errorf("p-value %g is outside (0, 1]", f)
	}
	return f, nil
}

func parseTimeout(raw string) (any, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("want a duration like 5m or 90s, got %q", raw)
	}
	if d <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", d)
	}
	// Keep the human-readable form in the file.
	return raw, nil
}

func parseOneOf(allowed ...string) func(string) (any, error) {
	return func(raw string) (any, error) {
		for _, a := range allowed {
			if raw == a {
				return raw, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", raw, strings.Join(allowed, ", "))
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage genomeforge configuration",
		Long:  "List, get, or set configuration values. Config is stored in ~/.genomeforge.yaml.",
		Example: `  genomeforge config                       # list settings and defaults
  genomeforge config set analyze.max-results 500
  genomeforge config set batch.timeout 10m
  genomeforge config get analyze.p-value`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigList()
		},
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(args[0], args[1])
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(args[0])
		},
	}
}

func runConfigList() error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Key", "Value", "Default", "Description"})
	for _, s := range settings {
		value := fmt.Sprintf("%v", s.effective())
		if viper.IsSet(s.key) {
			value += " *"
		}
		t.AppendRow(table.Row{s.key, value, fmt.Sprintf("%v", s.def), s.usage})
	}
	t.Render()
	fmt.Println("* set in ~/.genomeforge.yaml")
	return nil
}

func runConfigSet(key, value string) error {
	s, ok := findSetting(key)
	if !ok {
		return fmt.Errorf("unknown key %q (known: %s)", key, strings.Join(settingKeys(), ", "))
	}
	parsed, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	viper.Set(key, parsed)

	cfgFile := viper.ConfigFileUsed()
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".genomeforge.yaml")
	}

	if err := viper.WriteConfigAs(cfgFile); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Set %s = %v in %s\n", key, parsed, cfgFile)
	return nil
}

func runConfigGet(key string) error {
	s, ok := findSetting(key)
	if !ok {
		return fmt.Errorf("unknown key %q (known: %s)", key, strings.Join(settingKeys(), ", "))
	}
	fmt.Printf("%v\n", s.effective())
	return nil
}

// Typed accessors for commands that fall back to a configured value when
// their flag was not given.

func configuredInt(key string, fallback int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return fallback
}

func configuredFloat(key string, fallback float64) float64 {
	if viper.IsSet(key) {
		return viper.GetFloat64(key)
	}
	return fallback
}

func configuredDuration(key string, fallback time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	return fallback
}

func configuredString(key, fallback string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return fallback
}
