// Package genome parses raw consumer genetic test files (23andMe,
// AncestryDNA, MyHeritage, FamilyTreeDNA, LivingDNA, VCF) into a canonical
// in-memory genome and infers the reference build the coordinates use.
package genome

import (
	"regexp"
	"strings"
)

// NoCall is the sentinel genotype every no-call convention normalizes to.
const NoCall = "--"

// NoCallAllele is the per-allele no-call sentinel.
const NoCallAllele = "-"

var rsidPattern = regexp.MustCompile(`^(rs|i)\d+$`)

// validChromosomes covers 1-22, X, Y and MT after normalization.
var validChromosomes = func() map[string]bool {
	m := map[string]bool{"X": true, "Y": true, "MT": true}
	for _, c := range []string{
		"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11",
		"12", "13", "14", "15", "16", "17", "18", "19", "20", "21", "22",
	} {
		m[c] = true
	}
	return m
}()

// Variant is one observed genetic position with a two-allele genotype.
// Variants are created once by the parser and never mutated.
type Variant struct {
	ID         string `json:"id"`
	Chromosome string `json:"chromosome"`
	Position   int64  `json:"position"`
	Genotype   string `json:"genotype"`
	Allele1    string `json:"allele1"`
	Allele2    string `json:"allele2"`
}

// IsNoCall reports whether the variant carries the no-call sentinel.
func (v *Variant) IsNoCall() bool {
	return v.Genotype == NoCall
}

// Stats counts the outcomes of one parse run.
type Stats struct {
	TotalLines     int `json:"totalLines"`
	ParsedVariants int `json:"parsedVariants"`
	SkippedLines   int `json:"skippedLines"`
	DuplicateIDs   int `json:"duplicateIds"`
}

// Genome is the canonical result of parsing one raw file. It is owned
// exclusively by the caller and never mutated after Parse returns.
type Genome struct {
	ID              string              `json:"id"`
	Format          Format              `json:"format"`
	Build           Build               `json:"build"`
	BuildConfidence float64             `json:"buildConfidence"`
	Variants        map[string]*Variant `json:"-"`
	Stats           Stats               `json:"stats"`
	Warnings        []string            `json:"warnings,omitempty"`
	Errors          []*ParseError       `json:"errors,omitempty"`
}

// VariantIDs returns the rsIDs present in the genome, in no particular
// order.
func (g *Genome) VariantIDs() []string {
	ids := make([]string, 0, len(g.Variants))
	for id := range g.Variants {
		ids = append(ids, id)
	}
	return ids
}

// NormalizeChromosome strips a leading "chr" prefix, maps M to MT and
// uppercases the name. The result is not necessarily a valid chromosome.
func NormalizeChromosome(raw string) string {
	c := strings.ToUpper(strings.TrimSpace(raw))
	c = strings.TrimPrefix(c, "CHR")
	if c == "M" {
		return "MT"
	}
	return c
}

// ValidChromosome reports whether c is a normalized chromosome name.
func ValidChromosome(c string) bool {
	return validChromosomes[c]
}

// ValidRSID reports whether id matches the rs/i identifier pattern.
func ValidRSID(id string) bool {
	return rsidPattern.MatchString(id)
}

// validGenotype reports whether g consists solely of allowed allele
// characters. Length is checked by the caller.
func validGenotype(g string) bool {
	for i := 0; i < len(g); i++ {
		switch g[i] {
		case 'A', 'T', 'C', 'G', '-', 'I', 'D', '0':
		default:
			return false
		}
	}
	return true
}

// isNoCallGenotype recognizes the per-format no-call encodings that all
// normalize to the NoCall sentinel.
func isNoCallGenotype(g string) bool {
	switch g {
	case "", "--", "00", "0", "-":
		return true
	}
	return false
}
