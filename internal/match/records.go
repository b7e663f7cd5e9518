// Package match computes annotated variants for a parsed genome: it fans
// out batched lookups against reference annotation sources, scores each hit
// and assigns a single impact category.
package match

import "context"

// ClinicalRecord is a clinical-significance annotation for one rsID.
type ClinicalRecord struct {
	RSID         string  `json:"rsid"`
	Gene         string  `json:"gene,omitempty"`
	Condition    string  `json:"condition"`
	Significance string  `json:"significance"`
	ReviewStars  int     `json:"reviewStars"`
	Chromosome   string  `json:"chromosome,omitempty"`
	Position     int64   `json:"position,omitempty"`
}

// DrugRecord is a drug-gene interaction annotation for one rsID.
type DrugRecord struct {
	RSID           string `json:"rsid"`
	Gene           string `json:"gene"`
	Drug           string `json:"drug"`
	EvidenceLevel  string `json:"evidenceLevel"`
	Response       string `json:"response,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	HasLabel       bool   `json:"hasLabel"`
}

// FrequencyRecord carries population allele frequencies for one rsID.
type FrequencyRecord struct {
	RSID                  string             `json:"rsid"`
	GlobalFrequency       float64            `json:"globalFrequency"`
	PopulationFrequencies map[string]float64 `json:"populationFrequencies,omitempty"`
}

// TraitRecord is a GWAS trait association for one rsID.
type TraitRecord struct {
	RSID       string  `json:"rsid"`
	Trait      string  `json:"trait"`
	Category   string  `json:"category,omitempty"`
	RiskAllele string  `json:"riskAllele,omitempty"`
	Effect     string  `json:"effect,omitempty"`
	PValue     float64 `json:"pValue"`
	OddsRatio  float64 `json:"oddsRatio,omitempty"`
}

// SourceInfo describes the annotation source backing a Lookup.
type SourceInfo struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	RecordCounts map[string]int `json:"recordCounts,omitempty"`
}

// Lookup is the contract the matcher consumes: batched-by-rsID retrieval of
// the four record kinds plus a source descriptor. The bundled reference
// dataset and the custom database manager both implement it.
type Lookup interface {
	ClinicalByRSID(ctx context.Context, ids []string) (map[string]*ClinicalRecord, error)
	DrugsByRSID(ctx context.Context, ids []string) (map[string][]*DrugRecord, error)
	FrequenciesByRSID(ctx context.Context, ids []string) (map[string]*FrequencyRecord, error)
	TraitsByRSID(ctx context.Context, ids []string) (map[string][]*TraitRecord, error)
	Source() SourceInfo
}
