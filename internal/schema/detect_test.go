package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_TypeInference(t *testing.T) {
	sample := []map[string]any{
		{"rsid": "rs123", "chrom": "chr1", "pos": "82154", "geno": "AA", "gene": "BRCA1", "freq": "0.12", "flag": "true", "note": "first seen"},
		{"rsid": "rs456", "chrom": "X", "pos": "727841", "geno": "CT", "gene": "APOE", "freq": "0.5", "flag": "false", "note": "second"},
		{"rsid": "i5009", "chrom": "MT", "pos": "16569", "geno": "--", "gene": "CYP2D6", "freq": "0.01", "flag": "yes", "note": ""},
	}

	s := Detect("sampled", sample)
	require.NoError(t, s.Validate())

	types := make(map[string]FieldType)
	required := make(map[string]bool)
	for _, f := range s.Fields {
		types[f.Name] = f.Type
		required[f.Name] = f.Required
	}

	assert.Equal(t, TypeRSID, types["rsid"])
	assert.Equal(t, TypeChromosome, types["chrom"])
	assert.Equal(t, TypePosition, types["pos"])
	assert.Equal(t, TypeGenotype, types["geno"])
	assert.Equal(t, TypeGene, types["gene"])
	assert.Equal(t, TypeFrequency, types["freq"])
	assert.Equal(t, TypeBoolean, types["flag"])
	assert.Equal(t, TypeString, types["note"])

	assert.True(t, required["rsid"])
	assert.False(t, required["note"], "field empty in one record is not required")

	assert.Equal(t, []string{"rsid"}, s.PrimaryKey, "rsid field preferred as primary key")
}

func TestDetect_SpecificityOrder(t *testing.T) {
	t.Run("small integers become chromosome before number", func(t *testing.T) {
		s := Detect("x", []map[string]any{
			{"val": "1"}, {"val": "7"}, {"val": "22"},
		})
		assert.Equal(t, TypeChromosome, s.Fields[0].Type)
	})

	t.Run("single letters become genotype before allele", func(t *testing.T) {
		s := Detect("x", []map[string]any{
			{"val": "A"}, {"val": "T"},
		})
		assert.Equal(t, TypeGenotype, s.Fields[0].Type)
	})

	t.Run("longer base strings become allele", func(t *testing.T) {
		s := Detect("x", []map[string]any{
			{"val": "ACG"}, {"val": "TTTA"},
		})
		assert.Equal(t, TypeAllele, s.Fields[0].Type)
	})

	t.Run("lowercase words stay strings not genes", func(t *testing.T) {
		s := Detect("x", []map[string]any{
			{"val": "hello"}, {"val": "world"},
		})
		assert.Equal(t, TypeString, s.Fields[0].Type)
	})

	t.Run("large integers become position", func(t *testing.T) {
		s := Detect("x", []map[string]any{
			{"val": "82154"}, {"val": "16569000"},
		})
		assert.Equal(t, TypePosition, s.Fields[0].Type)
	})

	t.Run("unit-range decimals become frequency", func(t *testing.T) {
		s := Detect("x", []map[string]any{
			{"val": "0.5"}, {"val": "0.001"},
		})
		assert.Equal(t, TypeFrequency, s.Fields[0].Type)
	})

	t.Run("mixed decimals become number", func(t *testing.T) {
		s := Detect("x", []map[string]any{
			{"val": "0.5"}, {"val": "3.7"},
		})
		assert.Equal(t, TypeNumber, s.Fields[0].Type)
	})
}

func TestDetect_PrimaryKeyFallbacks(t *testing.T) {
	t.Run("required string field", func(t *testing.T) {
		s := Detect("x", []map[string]any{
			{"name": "alpha", "score": "1.5"},
			{"name": "beta", "score": "2.5"},
		})
		assert.Equal(t, []string{"name"}, s.PrimaryKey)
	})

	t.Run("first field as last resort", func(t *testing.T) {
		s := Detect("x", []map[string]any{
			{"a": "0.1", "b": "0.2"},
			{"a": "", "b": "0.3"},
		})
		require.NotEmpty(t, s.PrimaryKey)
		assert.Equal(t, []string{s.Fields[0].Name}, s.PrimaryKey)
	})
}
