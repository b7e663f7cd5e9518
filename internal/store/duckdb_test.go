//go:build duckdb

// The DuckDB adapter test needs the cgo duckdb driver, so it stays behind a
// build tag: go test -tags duckdb ./internal/store/...
package store

import "testing"

func TestDuckDB_Contract(t *testing.T) {
	s, err := OpenDuckDB("") // in-memory
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer s.Close()
	runStoreContract(t, s)
}
