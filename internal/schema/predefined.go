package schema

import (
	"sort"
	"strings"
)

// Predefined schemas for the reference annotation sources the matcher
// consumes. Imports naming one of these get the exact field layout the
// lookup adapters expect.
var predefined = map[string]*Schema{
	"clinvar": {
		ID:          "clinvar",
		Name:        "clinvar",
		Description: "Clinical significance annotations keyed by rsID",
		Fields: []Field{
			{Name: "rsid", Type: TypeRSID, Required: true},
			{Name: "gene", Type: TypeGene},
			{Name: "condition", Type: TypeString, Required: true},
			{Name: "significance", Type: TypeSignificance, Required: true},
			{Name: "review_stars", Type: TypeNumber},
			{Name: "chromosome", Type: TypeChromosome},
			{Name: "position", Type: TypePosition},
		},
		PrimaryKey: []string{"rsid"},
		Indexes:    []string{"gene"},
	},
	"pharmgkb": {
		ID:          "pharmgkb",
		Name:        "pharmgkb",
		Description: "Drug-gene interaction annotations keyed by rsID and drug",
		Fields: []Field{
			{Name: "rsid", Type: TypeRSID, Required: true},
			{Name: "gene", Type: TypeGene, Required: true},
			{Name: "drug", Type: TypeString, Required: true},
			{Name: "evidence_level", Type: TypeString, Values: []string{"1A", "1B", "2A", "2B", "3", "4"}},
			{Name: "response", Type: TypeString},
			{Name: "recommendation", Type: TypeString},
			{Name: "has_label", Type: TypeBoolean},
		},
		PrimaryKey: []string{"rsid", "drug"},
		Indexes:    []string{"gene"},
	},
	"gwas": {
		ID:          "gwas",
		Name:        "gwas",
		Description: "GWAS trait associations keyed by rsID and trait",
		Fields: []Field{
			{Name: "rsid", Type: TypeRSID, Required: true},
			{Name: "trait", Type: TypeString, Required: true},
			{Name: "category", Type: TypeString},
			{Name: "risk_allele", Type: TypeAllele},
			{Name: "effect", Type: TypeString},
			{Name: "p_value", Type: TypeNumber},
			{Name: "odds_ratio", Type: TypeNumber},
		},
		PrimaryKey: []string{"rsid", "trait"},
	},
	"frequency": {
		ID:          "frequency",
		Name:        "frequency",
		Description: "Population allele frequencies keyed by rsID",
		Fields: []Field{
			{Name: "rsid", Type: TypeRSID, Required: true},
			{Name: "allele", Type: TypeAllele},
			{Name: "global_frequency", Type: TypeFrequency, Required: true},
			{Name: "population", Type: TypeString},
			{Name: "population_frequency", Type: TypeFrequency},
		},
		PrimaryKey: []string{"rsid"},
	},
}

// Predefined returns a copy of the named built-in schema, or nil when no
// such schema exists. Names match case-insensitively.
func Predefined(name string) *Schema {
	s, ok := predefined[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return s.Clone()
}

// PredefinedNames lists the built-in schema names.
func PredefinedNames() []string {
	names := make([]string, 0, len(predefined))
	for name := range predefined {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
