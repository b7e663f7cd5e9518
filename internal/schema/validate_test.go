package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s := &Schema{
		Name: "test",
		Fields: []Field{
			{Name: "rsid", Type: TypeRSID, Required: true},
			{Name: "gene", Type: TypeGene},
			{Name: "significance", Type: TypeSignificance, Required: true},
			{Name: "frequency", Type: TypeFrequency},
			{Name: "stars", Type: TypeNumber, Values: []string{"0", "1", "2", "3", "4"}},
		},
		PrimaryKey: []string{"rsid"},
		Indexes:    []string{"gene"},
	}
	require.NoError(t, s.Validate())
	return s
}

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Schema)
		wantErr string
	}{
		{"valid", func(s *Schema) {}, ""},
		{"no fields", func(s *Schema) { s.Fields = nil }, "declares no fields"},
		{"unknown type", func(s *Schema) { s.Fields[0].Type = "blob" }, "unknown type"},
		{"duplicate field", func(s *Schema) { s.Fields = append(s.Fields, Field{Name: "RSID", Type: TypeRSID}) }, "twice"},
		{"pk not declared", func(s *Schema) { s.PrimaryKey = []string{"missing"} }, "primary key"},
		{"index not declared", func(s *Schema) { s.Indexes = []string{"missing"} }, "index"},
		{"no pk", func(s *Schema) { s.PrimaryKey = nil }, "no primary key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSchema(t)
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidator_ValidateRecord(t *testing.T) {
	v, err := NewValidator(testSchema(t))
	require.NoError(t, err)

	t.Run("valid record normalizes values", func(t *testing.T) {
		res := v.ValidateRecord(map[string]any{
			"RSID":         "RS123",
			"Gene":         "brca1",
			"Significance": "Likely Pathogenic",
			"Frequency":    "0.01",
		})
		require.True(t, res.Valid, "errors: %v", res.Errors)
		assert.Equal(t, "rs123", res.Converted["rsid"])
		assert.Equal(t, "BRCA1", res.Converted["gene"])
		assert.Equal(t, "likely_pathogenic", res.Converted["significance"])
		assert.Equal(t, 0.01, res.Converted["frequency"])
	})

	t.Run("missing required field", func(t *testing.T) {
		res := v.ValidateRecord(map[string]any{"rsid": "rs1"})
		require.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, ErrRequiredMissing, res.Errors[0].Code)
		assert.Equal(t, "significance", res.Errors[0].Field)
		assert.Nil(t, res.Converted, "invalid record keeps no converted values")
	})

	t.Run("frequency out of range", func(t *testing.T) {
		res := v.ValidateRecord(map[string]any{
			"rsid": "rs1", "significance": "benign", "frequency": "1.5",
		})
		require.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, ErrOutOfRange, res.Errors[0].Code)
		assert.Equal(t, "frequency", res.Errors[0].Field)
	})

	t.Run("value not in allowed list", func(t *testing.T) {
		res := v.ValidateRecord(map[string]any{
			"rsid": "rs1", "significance": "benign", "stars": "9",
		})
		require.False(t, res.Valid)
		assert.Equal(t, ErrInvalidValue, res.Errors[0].Code)
	})

	t.Run("optional empty field is skipped", func(t *testing.T) {
		res := v.ValidateRecord(map[string]any{
			"rsid": "rs1", "significance": "benign", "gene": "",
		})
		require.True(t, res.Valid)
		_, ok := res.Converted["gene"]
		assert.False(t, ok)
	})

	t.Run("json numeric position survives", func(t *testing.T) {
		res := v.ValidateRecord(map[string]any{
			"rsid": "rs1", "significance": "benign", "stars": float64(3),
		})
		require.True(t, res.Valid, "errors: %v", res.Errors)
		assert.Equal(t, 3.0, res.Converted["stars"])
	})
}

func TestValidator_FieldMapping(t *testing.T) {
	v, err := NewValidator(testSchema(t))
	require.NoError(t, err)
	v.SetFieldMapping(map[string]string{"SNP_ID": "rsid", "ClinSig": "significance"})

	res := v.ValidateRecord(map[string]any{
		"snp_id":  "rs42",
		"clinsig": "benign",
	})
	require.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Equal(t, "rs42", res.Converted["rsid"])
	assert.Equal(t, "benign", res.Converted["significance"])
}

func TestValidator_CustomPattern(t *testing.T) {
	s := &Schema{
		Name: "patterned",
		Fields: []Field{
			{Name: "code", Type: TypeString, Required: true, Pattern: `^GF-\d{4}$`},
		},
		PrimaryKey: []string{"code"},
	}
	v, err := NewValidator(s)
	require.NoError(t, err)

	ok := v.ValidateRecord(map[string]any{"code": "GF-0042"})
	assert.True(t, ok.Valid)

	bad := v.ValidateRecord(map[string]any{"code": "GF-42"})
	require.False(t, bad.Valid)
	assert.Equal(t, ErrPatternMismatch, bad.Errors[0].Code)
}

func TestValidator_ValidateAll_DuplicateKeys(t *testing.T) {
	v, err := NewValidator(testSchema(t))
	require.NoError(t, err)

	batch := v.ValidateAll([]map[string]any{
		{"rsid": "rs1", "significance": "benign"},
		{"rsid": "rs2", "significance": "pathogenic"},
		{"rsid": "RS1", "significance": "benign"}, // same key after normalization
		{"rsid": "bogus", "significance": "benign"},
	})

	assert.Equal(t, 3, batch.ValidCount)
	assert.Equal(t, 1, batch.InvalidCount)
	require.Len(t, batch.DuplicateKeys, 1)
	assert.Equal(t, []int{0, 2}, batch.DuplicateKeys["rs1"])
}

func TestValidator_CompositeKey(t *testing.T) {
	s := Predefined("pharmgkb")
	require.NotNil(t, s)
	v, err := NewValidator(s)
	require.NoError(t, err)

	batch := v.ValidateAll([]map[string]any{
		{"rsid": "rs9923231", "gene": "VKORC1", "drug": "warfarin", "evidence_level": "1A"},
		{"rsid": "rs9923231", "gene": "VKORC1", "drug": "acenocoumarol", "evidence_level": "1B"},
		{"rsid": "rs9923231", "gene": "VKORC1", "drug": "warfarin", "evidence_level": "1A"},
	})

	assert.Equal(t, 3, batch.ValidCount)
	require.Len(t, batch.DuplicateKeys, 1)
	for key := range batch.DuplicateKeys {
		assert.True(t, strings.HasPrefix(key, "rs9923231|"), "composite key joins pk fields in order, got %q", key)
	}
}

func TestNewValidator_BadPattern(t *testing.T) {
	s := &Schema{
		Name:       "bad",
		Fields:     []Field{{Name: "x", Type: TypeString, Pattern: `([`}},
		PrimaryKey: []string{"x"},
	}
	_, err := NewValidator(s)
	assert.Error(t, err)
}
