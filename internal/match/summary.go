package match

import (
	"fmt"

	linq "github.com/ahmetb/go-linq"

	"github.com/genomeforge/engine/internal/genome"
)

// actionableThreshold is the impact score at which a finding counts as
// high impact / actionable.
const actionableThreshold = 4.0

// Summary is the ranked, truncated digest of one match run plus the
// aggregate counters the product surface reports.
type Summary struct {
	HighImpact    []string `json:"highImpact,omitempty"`
	ModerateGenes []string `json:"moderateGenes,omitempty"`
	Pharmacogenes []string `json:"pharmacogenes,omitempty"`
	CarrierStatus []string `json:"carrierStatus,omitempty"`
	TopTraits     []string `json:"topTraits,omitempty"`

	TotalVariants      int `json:"totalVariants"`
	AnalyzedVariants   int `json:"analyzedVariants"`
	ClinicalCount      int `json:"clinicalCount"`
	DrugCount          int `json:"drugCount"`
	TraitCount         int `json:"traitCount"`
	ActionableFindings int `json:"actionableFindings"`
}

// buildSummary extracts the ranked digest from annotated variants already
// sorted by impact score descending.
func buildSummary(g *genome.Genome, variants []*AnnotatedVariant) Summary {
	s := Summary{
		TotalVariants:    len(g.Variants),
		AnalyzedVariants: len(variants),
	}

	for _, av := range variants {
		if av.Clinical != nil {
			s.ClinicalCount++
		}
		if len(av.Drugs) > 0 {
			s.DrugCount++
		}
		s.TraitCount += len(av.Traits)
		if av.ImpactScore >= actionableThreshold {
			s.ActionableFindings++
		}
	}

	// Top 10 high-impact findings as "GENE: condition" strings. The input
	// is already ranked, so Take preserves the strongest hits.
	linq.From(variants).
		WhereT(func(av *AnnotatedVariant) bool {
			return av.ImpactScore >= actionableThreshold && av.Clinical != nil
		}).
		SelectT(func(av *AnnotatedVariant) string {
			gene := av.Clinical.Gene
			if gene == "" {
				gene = av.Variant.ID
			}
			return fmt.Sprintf("%s: %s", gene, av.Clinical.Condition)
		}).
		Take(10).
		ToSlice(&s.HighImpact)

	// Up to 20 deduplicated moderate-impact gene symbols, score in [2,4).
	linq.From(variants).
		WhereT(func(av *AnnotatedVariant) bool {
			return av.ImpactScore >= 2 && av.ImpactScore < actionableThreshold &&
				av.Clinical != nil && av.Clinical.Gene != ""
		}).
		SelectT(func(av *AnnotatedVariant) string { return av.Clinical.Gene }).
		Distinct().
		Take(20).
		ToSlice(&s.ModerateGenes)

	// Up to 20 unique pharmacogenes.
	linq.From(variants).
		SelectManyT(func(av *AnnotatedVariant) linq.Query { return linq.From(av.Drugs) }).
		SelectT(func(d *DrugRecord) string { return d.Gene }).
		WhereT(func(gene string) bool { return gene != "" }).
		Distinct().
		Take(20).
		ToSlice(&s.Pharmacogenes)

	// Up to 10 carrier-status strings.
	linq.From(variants).
		WhereT(func(av *AnnotatedVariant) bool {
			return av.Category == CategoryCarrier && av.Clinical != nil
		}).
		SelectT(func(av *AnnotatedVariant) string {
			return fmt.Sprintf("%s carrier (%s)", av.Clinical.Condition, av.Variant.ID)
		}).
		Take(10).
		ToSlice(&s.CarrierStatus)

	// Up to 20 trait names ranked by how many matched variants reference
	// each trait.
	linq.From(variants).
		SelectManyT(func(av *AnnotatedVariant) linq.Query { return linq.From(av.Traits) }).
		GroupByT(
			func(t *TraitMatch) string { return t.Trait },
			func(t *TraitMatch) *TraitMatch { return t },
		).
		OrderByDescendingT(func(grp linq.Group) int { return len(grp.Group) }).
		SelectT(func(grp linq.Group) string { return grp.Key.(string) }).
		Take(20).
		ToSlice(&s.TopTraits)

	return s
}
