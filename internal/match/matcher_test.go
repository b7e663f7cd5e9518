package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genomeforge/engine/internal/genome"
)

// fakeLookup serves fixed record maps and records how it was called.
type fakeLookup struct {
	clinical map[string]*ClinicalRecord
	drugs    map[string][]*DrugRecord
	freqs    map[string]*FrequencyRecord
	traits   map[string][]*TraitRecord

	calls []int // ids per call, to assert batching
}

func (f *fakeLookup) ClinicalByRSID(_ context.Context, ids []string) (map[string]*ClinicalRecord, error) {
	f.calls = append(f.calls, len(ids))
	return f.clinical, nil
}

func (f *fakeLookup) DrugsByRSID(_ context.Context, ids []string) (map[string][]*DrugRecord, error) {
	return f.drugs, nil
}

func (f *fakeLookup) FrequenciesByRSID(_ context.Context, ids []string) (map[string]*FrequencyRecord, error) {
	return f.freqs, nil
}

func (f *fakeLookup) TraitsByRSID(_ context.Context, ids []string) (map[string][]*TraitRecord, error) {
	return f.traits, nil
}

func (f *fakeLookup) Source() SourceInfo {
	return SourceInfo{Name: "fake", Version: "1"}
}

func testGenome(variants ...*genome.Variant) *genome.Genome {
	g := &genome.Genome{ID: "g1", Variants: make(map[string]*genome.Variant)}
	for _, v := range variants {
		g.Variants[v.ID] = v
	}
	return g
}

func v(id, genotype string) *genome.Variant {
	return &genome.Variant{
		ID: id, Chromosome: "1", Position: 100, Genotype: genotype,
		Allele1: string(genotype[0]), Allele2: string(genotype[1]),
	}
}

func TestMatcher_Match(t *testing.T) {
	lookup := &fakeLookup{
		clinical: map[string]*ClinicalRecord{
			"rs1": {RSID: "rs1", Gene: "HFE", Condition: "Hemochromatosis", Significance: "pathogenic", ReviewStars: 4},
			"rs2": {RSID: "rs2", Gene: "APOE", Condition: "none", Significance: "benign"},
		},
		drugs: map[string][]*DrugRecord{
			"rs3": {{RSID: "rs3", Gene: "CYP2C9", Drug: "warfarin", EvidenceLevel: "1A", HasLabel: true}},
		},
		traits: map[string][]*TraitRecord{
			"rs4": {
				{RSID: "rs4", Trait: "Height", RiskAllele: "T", PValue: 1e-12},
				{RSID: "rs4", Trait: "Weak signal", RiskAllele: "T", PValue: 1e-3},
			},
		},
	}

	m := NewMatcher(lookup)
	res, err := m.Match(context.Background(), testGenome(
		v("rs1", "AA"), v("rs2", "AG"), v("rs3", "CT"), v("rs4", "TT"), v("rs5", "CC"),
	))
	require.NoError(t, err)

	// rs5 hit nothing and is dropped silently.
	assert.Len(t, res.Variants, 4)
	assert.Equal(t, 4, res.Summary.AnalyzedVariants)
	assert.Equal(t, 5, res.Summary.TotalVariants)

	// Ranked by impact score descending: rs1 (5.0) first.
	first := res.Variants[0]
	assert.Equal(t, "rs1", first.Variant.ID)
	assert.InDelta(t, 5.0, first.ImpactScore, 1e-9)
	assert.Equal(t, CategoryPathogenic, first.Category)

	byID := make(map[string]*AnnotatedVariant)
	for _, av := range res.Variants {
		byID[av.Variant.ID] = av
	}

	assert.Equal(t, CategoryDrug, byID["rs3"].Category)
	assert.InDelta(t, 2.5, byID["rs3"].ImpactScore, 1e-9)

	// The sub-threshold association was filtered; the surviving one carries
	// genotype context.
	require.Len(t, byID["rs4"].Traits, 1)
	trait := byID["rs4"].Traits[0]
	assert.Equal(t, "Height", trait.Trait)
	assert.Equal(t, "TT", trait.Genotype)
	assert.True(t, trait.HasRiskAllele)
	assert.Equal(t, 2, trait.RiskCopies)

	// Lookups are batched: one clinical call over the full id set.
	require.Len(t, lookup.calls, 1)
	assert.Equal(t, 5, lookup.calls[0])

	// Summary digest.
	assert.Equal(t, []string{"HFE: Hemochromatosis"}, res.Summary.HighImpact)
	assert.Equal(t, []string{"CYP2C9"}, res.Summary.Pharmacogenes)
	assert.Equal(t, []string{"Height"}, res.Summary.TopTraits)
	assert.Equal(t, 1, res.Summary.ActionableFindings)
	assert.Equal(t, 2, res.Summary.ClinicalCount)
	assert.Equal(t, 1, res.Summary.DrugCount)
}

func TestMatcher_MaxResults(t *testing.T) {
	clin := make(map[string]*ClinicalRecord)
	var vars []*genome.Variant
	for _, id := range []string{"rs1", "rs2", "rs3", "rs4"} {
		clin[id] = &ClinicalRecord{RSID: id, Significance: "uncertain_significance"}
		vars = append(vars, v(id, "AA"))
	}

	m := NewMatcher(&fakeLookup{clinical: clin})
	m.SetMaxResults(2)

	res, err := m.Match(context.Background(), testGenome(vars...))
	require.NoError(t, err)
	assert.Len(t, res.Variants, 2)
}

func TestMatcher_RiskCopies(t *testing.T) {
	lookup := &fakeLookup{traits: map[string][]*TraitRecord{
		"rs1": {{RSID: "rs1", Trait: "T2D", RiskAllele: "C", PValue: 1e-10}},
	}}

	tests := []struct {
		genotype string
		copies   int
	}{
		{"CC", 2}, {"CT", 1}, {"TT", 0},
	}

	for _, tt := range tests {
		m := NewMatcher(lookup)
		res, err := m.Match(context.Background(), testGenome(v("rs1", tt.genotype)))
		require.NoError(t, err)
		require.Len(t, res.Variants, 1)
		require.Len(t, res.Variants[0].Traits, 1)
		assert.Equal(t, tt.copies, res.Variants[0].Traits[0].RiskCopies, "genotype %s", tt.genotype)
		assert.Equal(t, tt.copies > 0, res.Variants[0].Traits[0].HasRiskAllele)
	}
}

func TestMultiLookup_Priority(t *testing.T) {
	custom := &fakeLookup{clinical: map[string]*ClinicalRecord{
		"rs1": {RSID: "rs1", Significance: "pathogenic"},
	}}
	bundled := &fakeLookup{clinical: map[string]*ClinicalRecord{
		"rs1": {RSID: "rs1", Significance: "benign"},
		"rs2": {RSID: "rs2", Significance: "benign"},
	}}

	multi := NewMultiLookup(custom, bundled)
	recs, err := multi.ClinicalByRSID(context.Background(), []string{"rs1", "rs2"})
	require.NoError(t, err)

	// The earlier source wins for rs1; rs2 falls through to bundled data.
	assert.Equal(t, "pathogenic", recs["rs1"].Significance)
	assert.Equal(t, "benign", recs["rs2"].Significance)
}
