package match

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/genomeforge/engine/internal/genome"
)

// DefaultPValueThreshold is the genome-wide significance cutoff applied to
// trait associations.
const DefaultPValueThreshold = 5e-8

// DefaultMaxResults truncates the ranked result set.
const DefaultMaxResults = 1000

// TraitMatch is a trait association annotated with the user's observed
// genotype.
type TraitMatch struct {
	*TraitRecord
	Genotype      string `json:"genotype"`
	HasRiskAllele bool   `json:"hasRiskAllele"`
	RiskCopies    int    `json:"riskCopies"`
}

// AnnotatedVariant is one variant present both in the genome and in at
// least one annotation source. It is recomputed on every match run and
// never persisted.
type AnnotatedVariant struct {
	Variant     *genome.Variant  `json:"variant"`
	Clinical    *ClinicalRecord  `json:"clinical,omitempty"`
	Drugs       []*DrugRecord    `json:"drugs,omitempty"`
	Frequency   *FrequencyRecord `json:"frequency,omitempty"`
	Traits      []*TraitMatch    `json:"traits,omitempty"`
	ImpactScore float64          `json:"impactScore"`
	Category    Category         `json:"category"`
}

// MatchResult aggregates the annotated variants for one genome against one
// set of sources. Immutable once produced.
type MatchResult struct {
	GenomeID string              `json:"genomeId"`
	Source   SourceInfo          `json:"source"`
	Variants []*AnnotatedVariant `json:"variants"`
	Summary  Summary             `json:"summary"`
	Duration time.Duration       `json:"duration"`
}

// Matcher scores a parsed genome against a Lookup source.
type Matcher struct {
	lookup          Lookup
	pValueThreshold float64
	maxResults      int
	logger          *zap.Logger
}

// NewMatcher creates a matcher over the given lookup source.
func NewMatcher(lookup Lookup) *Matcher {
	return &Matcher{
		lookup:          lookup,
		pValueThreshold: DefaultPValueThreshold,
		maxResults:      DefaultMaxResults,
		logger:          zap.NewNop(),
	}
}

// SetLogger sets the logger for progress and warning messages.
func (m *Matcher) SetLogger(l *zap.Logger) {
	m.logger = l
}

// SetPValueThreshold overrides the trait association significance cutoff.
func (m *Matcher) SetPValueThreshold(p float64) {
	m.pValueThreshold = p
}

// SetMaxResults overrides the result truncation limit.
func (m *Matcher) SetMaxResults(n int) {
	if n > 0 {
		m.maxResults = n
	}
}

// Match annotates every variant of g that hits at least one source. The
// four lookups are issued concurrently over the full rsID set; variants
// with no hit anywhere are dropped silently.
func (m *Matcher) Match(ctx context.Context, g *genome.Genome) (*MatchResult, error) {
	start := time.Now()
	ids := g.VariantIDs()

	var (
		clinical    map[string]*ClinicalRecord
		drugs       map[string][]*DrugRecord
		frequencies map[string]*FrequencyRecord
		traits      map[string][]*TraitRecord
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		clinical, err = m.lookup.ClinicalByRSID(ctx, ids)
		return err
	})
	eg.Go(func() (err error) {
		drugs, err = m.lookup.DrugsByRSID(ctx, ids)
		return err
	})
	eg.Go(func() (err error) {
		frequencies, err = m.lookup.FrequenciesByRSID(ctx, ids)
		return err
	})
	eg.Go(func() (err error) {
		traits, err = m.lookup.TraitsByRSID(ctx, ids)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("annotation lookup: %w", err)
	}

	m.logger.Debug("lookups complete",
		zap.Int("variants", len(ids)),
		zap.Int("clinical", len(clinical)),
		zap.Int("drug", len(drugs)),
		zap.Int("frequency", len(frequencies)),
		zap.Int("trait", len(traits)))

	var annotated []*AnnotatedVariant
	for id, v := range g.Variants {
		av := &AnnotatedVariant{
			Variant:   v,
			Clinical:  clinical[id],
			Drugs:     drugs[id],
			Frequency: frequencies[id],
			Traits:    m.matchTraits(v, traits[id]),
		}
		if av.Clinical == nil && len(av.Drugs) == 0 && av.Frequency == nil && len(av.Traits) == 0 {
			continue
		}
		av.ImpactScore = ImpactScore(av.Clinical, av.Drugs)
		av.Category = Categorize(av.Clinical, av.Drugs)
		annotated = append(annotated, av)
	}

	sort.SliceStable(annotated, func(i, j int) bool {
		return annotated[i].ImpactScore > annotated[j].ImpactScore
	})
	if len(annotated) > m.maxResults {
		annotated = annotated[:m.maxResults]
	}

	return &MatchResult{
		GenomeID: g.ID,
		Source:   m.lookup.Source(),
		Variants: annotated,
		Summary:  buildSummary(g, annotated),
		Duration: time.Since(start),
	}, nil
}

// matchTraits filters trait associations by significance and annotates each
// with the observed genotype and risk-allele copy count (diploid, clamped).
func (m *Matcher) matchTraits(v *genome.Variant, recs []*TraitRecord) []*TraitMatch {
	var out []*TraitMatch
	for _, rec := range recs {
		if rec.PValue > m.pValueThreshold {
			continue
		}
		copies := 0
		if rec.RiskAllele != "" {
			copies = strings.Count(v.Genotype, strings.ToUpper(rec.RiskAllele))
			if copies > 2 {
				copies = 2
			}
		}
		out = append(out, &TraitMatch{
			TraitRecord:   rec,
			Genotype:      v.Genotype,
			HasRiskAllele: copies > 0,
			RiskCopies:    copies,
		})
	}
	return out
}
