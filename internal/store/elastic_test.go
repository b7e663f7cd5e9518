package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// No live cluster in CI: the Elastic adapter is covered at the
// query-builder level.
func TestTermsQuery(t *testing.T) {
	q := termsQuery("rsid", []string{"RS1", "rs2"})

	query, ok := q["query"].(map[string]any)
	assert.True(t, ok)
	terms, ok := query["terms"].(map[string]any)
	assert.True(t, ok)

	// Values are lowercased to the canonical form and target the keyword
	// sub-field of the record's fields object.
	assert.Equal(t, []string{"rs1", "rs2"}, terms["fields.rsid.keyword"])
	assert.Equal(t, searchSize, q["size"])
}

func TestRecordsIndexName(t *testing.T) {
	assert.Equal(t, "genomeforge-db-abc-123", recordsIndex("ABC-123"))
}
