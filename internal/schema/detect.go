package schema

import (
	"sort"
	"strconv"
	"strings"
)

// detectOrder lists candidate types from most to least specific. A field is
// assigned the first candidate every sampled value satisfies; the order
// matters because the patterns overlap (a column of "1".."22" is a
// chromosome before it is a number, a lone "A" is a genotype before it is
// an allele).
var detectOrder = []FieldType{
	TypeRSID,
	TypeChromosome,
	TypeGenotype,
	TypeAllele,
	TypeGene,
	TypeBoolean,
}

// Detect infers a schema from a sample of records. Field order follows
// first appearance across the sample; a field is required only when every
// sampled record carries a non-empty value for it. The primary key prefers
// a detected rsid field, then any required string field, then the first
// field.
func Detect(name string, sample []map[string]any) *Schema {
	fields := fieldOrder(sample)

	s := &Schema{
		Name:   name,
		Fields: make([]Field, 0, len(fields)),
	}

	for _, fname := range fields {
		vals := collectValues(sample, fname)

		f := Field{
			Name:     fname,
			Type:     detectType(vals),
			Required: len(sample) > 0 && len(vals) == len(sample),
		}
		s.Fields = append(s.Fields, f)
	}

	s.PrimaryKey = choosePrimaryKey(s)
	return s
}

// fieldOrder returns field names in first-seen order. Map iteration order
// is randomized, so within one record names are sorted for stability and
// across records first appearance wins.
func fieldOrder(sample []map[string]any) []string {
	var order []string
	seen := make(map[string]bool)

	for _, rec := range sample {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lower := strings.ToLower(k)
			if !seen[lower] {
				seen[lower] = true
				order = append(order, k)
			}
		}
	}
	return order
}

// collectValues gathers the non-empty stringified values for one field
// across the sample.
func collectValues(sample []map[string]any, field string) []string {
	var vals []string
	for _, rec := range sample {
		for k, v := range rec {
			if strings.EqualFold(k, field) {
				if s := stringify(v); s != "" {
					vals = append(vals, s)
				}
				break
			}
		}
	}
	return vals
}

// detectType tests candidate types in specificity order against all sampled
// non-empty values.
func detectType(vals []string) FieldType {
	if len(vals) == 0 {
		return TypeString
	}

	for _, t := range detectOrder {
		if t == TypeGene {
			// Gene symbols are matched case-sensitively here: Convert
			// uppercases its input, which would make any short word look
			// like a gene.
			if allMatch(vals, looksLikeGene) {
				return TypeGene
			}
			continue
		}
		if t.Matches(vals) {
			return t
		}
	}

	if numeric, frac, maxInt := numericProfile(vals); numeric {
		switch {
		case frac && allInUnitRange(vals):
			return TypeFrequency
		case !frac && maxInt > 10000:
			return TypePosition
		default:
			return TypeNumber
		}
	}

	return TypeString
}

func allMatch(vals []string, pred func(string) bool) bool {
	for _, v := range vals {
		if !pred(v) {
			return false
		}
	}
	return true
}

// looksLikeGene accepts HGNC-style symbols as written: uppercase start,
// 2-15 chars of uppercase letters, digits, dash or dot.
func looksLikeGene(v string) bool {
	return genePattern.MatchString(v)
}

// numericProfile reports whether every value parses as a number, whether
// any carries a fractional part, and the largest integer magnitude seen.
func numericProfile(vals []string) (numeric bool, frac bool, maxInt int64) {
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false, false, 0
		}
		if f != float64(int64(f)) {
			frac = true
		} else if n := int64(f); n > maxInt {
			maxInt = n
		}
	}
	return true, frac, maxInt
}

func allInUnitRange(vals []string) bool {
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return false
		}
	}
	return true
}

// choosePrimaryKey picks the primary key for a detected schema: the first
// rsid-typed field, else the first required string field, else the first
// declared field.
func choosePrimaryKey(s *Schema) []string {
	for _, f := range s.Fields {
		if f.Type == TypeRSID {
			return []string{f.Name}
		}
	}
	for _, f := range s.Fields {
		if f.Required && f.Type == TypeString {
			return []string{f.Name}
		}
	}
	if len(s.Fields) > 0 {
		return []string{s.Fields[0].Name}
	}
	return nil
}
