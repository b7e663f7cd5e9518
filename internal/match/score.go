package match

import "strings"

// Category is the single impact class assigned to an annotated variant.
type Category string

// Impact categories, in assignment priority order.
const (
	CategoryPathogenic Category = "pathogenic"
	CategoryProtective Category = "protective"
	CategoryDrug       Category = "drug"
	CategoryCarrier    Category = "carrier"
	CategoryNeutral    Category = "neutral"
)

// MaxImpactScore bounds the impact score.
const MaxImpactScore = 6.0

// significanceWeights are the fixed clinical contributions per significance
// class. Classes not listed contribute nothing.
var significanceWeights = map[string]float64{
	"pathogenic":                             4,
	"likely_pathogenic":                      3,
	"uncertain_significance":                 1,
	"conflicting_interpretations":            0.5,
	"conflicting_interpretations_of_pathogenicity": 0.5,
	"benign":        0,
	"likely_benign": 0,
}

// evidenceWeights grade pharmacogenomic evidence levels, 1A strongest.
var evidenceWeights = map[string]float64{
	"1A": 2,
	"1B": 1.5,
	"2A": 1,
	"2B": 0.75,
	"3":  0.5,
	"4":  0.25,
}

// labelBonus is added once when any drug on the variant carries an official
// regulatory label.
const labelBonus = 0.5

// reviewStarWeight scales ClinVar review stars into the clinical
// contribution.
const reviewStarWeight = 0.25

// ImpactScore computes the deterministic impact score for one variant from
// its optional clinical record and attached drug records. The result is
// always within [0, MaxImpactScore].
func ImpactScore(clin *ClinicalRecord, drugs []*DrugRecord) float64 {
	score := 0.0

	if clin != nil {
		score += significanceWeights[normalizeSignificance(clin.Significance)]
		score += float64(clin.ReviewStars) * reviewStarWeight
	}

	if len(drugs) > 0 {
		best := 0.0
		hasLabel := false
		for _, d := range drugs {
			if w := evidenceWeights[strings.ToUpper(d.EvidenceLevel)]; w > best {
				best = w
			}
			if d.HasLabel {
				hasLabel = true
			}
		}
		score += best
		if hasLabel {
			score += labelBonus
		}
	}

	if score > MaxImpactScore {
		return MaxImpactScore
	}
	if score < 0 {
		return 0
	}
	return score
}

// Categorize assigns the single category for a variant, evaluating the
// rules in priority order and stopping at the first match. It never
// consults the genotype: true carrier status would need zygosity, which
// this step does not compute, so the carrier rule is the documented
// approximation the original shipped with.
func Categorize(clin *ClinicalRecord, drugs []*DrugRecord) Category {
	sig := ""
	if clin != nil {
		sig = normalizeSignificance(clin.Significance)
	}

	if sig == "pathogenic" || sig == "likely_pathogenic" {
		return CategoryPathogenic
	}
	if strings.HasPrefix(sig, "benign") || strings.HasPrefix(sig, "likely_benign") {
		if clin != nil && strings.Contains(strings.ToLower(clin.Condition), "protective") {
			return CategoryProtective
		}
	}
	if len(drugs) > 0 {
		return CategoryDrug
	}
	if sig == "pathogenic" || sig == "likely_pathogenic" {
		return CategoryCarrier
	}
	return CategoryNeutral
}

func normalizeSignificance(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
