// Package schema defines typed field schemas for annotation databases and
// validates arbitrary tabular or JSON records against them.
package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FieldType identifies the domain type of a schema field.
type FieldType string

// Supported field types, from generic to genomics-specific.
const (
	TypeString       FieldType = "string"
	TypeNumber       FieldType = "number"
	TypeBoolean      FieldType = "boolean"
	TypeRSID         FieldType = "rsid"
	TypeChromosome   FieldType = "chromosome"
	TypePosition     FieldType = "position"
	TypeGenotype     FieldType = "genotype"
	TypeAllele       FieldType = "allele"
	TypeGene         FieldType = "gene"
	TypeSignificance FieldType = "significance"
	TypeFrequency    FieldType = "frequency"
)

// Canonical validation patterns per field type. Values are matched after
// normalization, so the patterns assume canonical case.
var (
	rsidPattern         = regexp.MustCompile(`^(rs|i)\d+$`)
	chromosomePattern   = regexp.MustCompile(`^(1[0-9]|2[0-2]|[1-9]|X|Y|MT)$`)
	genotypePattern     = regexp.MustCompile(`^[ATCG\-ID0]{1,2}$`)
	allelePattern       = regexp.MustCompile(`^[ATCG\-ID0]+$`)
	genePattern         = regexp.MustCompile(`^[A-Z][A-Z0-9\-\.]{1,14}$`)
	significancePattern = regexp.MustCompile(`^[a-z][a-z0-9_\-/]*$`)
)

// IsValid reports whether t is a recognized field type.
func (t FieldType) IsValid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeRSID, TypeChromosome,
		TypePosition, TypeGenotype, TypeAllele, TypeGene, TypeSignificance,
		TypeFrequency:
		return true
	}
	return false
}

// NormalizeChromosome strips a leading "chr" prefix, maps M to MT and
// uppercases the name. It does not check validity.
func NormalizeChromosome(raw string) string {
	c := strings.ToUpper(strings.TrimSpace(raw))
	c = strings.TrimPrefix(c, "CHR")
	if c == "M" {
		return "MT"
	}
	return c
}

// Convert normalizes and converts a raw value to the canonical typed
// representation for t. The returned value is a string, float64, int64 or
// bool depending on the type. A non-nil error describes why the value is not
// acceptable; its code distinguishes parse failures from format and range
// violations.
func (t FieldType) Convert(raw string) (any, *FieldError) {
	s := strings.TrimSpace(raw)

	switch t {
	case TypeString:
		return s, nil

	case TypeNumber:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &FieldError{Code: ErrInvalidType, Message: fmt.Sprintf("%q is not a number", raw)}
		}
		return f, nil

	case TypeBoolean:
		switch strings.ToLower(s) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
		return nil, &FieldError{Code: ErrInvalidType, Message: fmt.Sprintf("%q is not a boolean", raw)}

	case TypeRSID:
		id := strings.ToLower(s)
		if !rsidPattern.MatchString(id) {
			return nil, &FieldError{Code: ErrInvalidFormat, Message: fmt.Sprintf("%q is not a valid rsID", raw)}
		}
		return id, nil

	case TypeChromosome:
		c := NormalizeChromosome(s)
		if !chromosomePattern.MatchString(c) {
			return nil, &FieldError{Code: ErrInvalidFormat, Message: fmt.Sprintf("%q is not a valid chromosome", raw)}
		}
		return c, nil

	case TypePosition:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, &FieldError{Code: ErrInvalidType, Message: fmt.Sprintf("%q is not a position", raw)}
		}
		if n < 0 {
			return nil, &FieldError{Code: ErrOutOfRange, Message: fmt.Sprintf("position %d is negative", n)}
		}
		return n, nil

	case TypeGenotype:
		g := strings.ToUpper(s)
		if !genotypePattern.MatchString(g) {
			return nil, &FieldError{Code: ErrInvalidFormat, Message: fmt.Sprintf("%q is not a valid genotype", raw)}
		}
		return g, nil

	case TypeAllele:
		a := strings.ToUpper(s)
		if !allelePattern.MatchString(a) {
			return nil, &FieldError{Code: ErrInvalidFormat, Message: fmt.Sprintf("%q is not a valid allele", raw)}
		}
		return a, nil

	case TypeGene:
		g := strings.ToUpper(s)
		if !genePattern.MatchString(g) {
			return nil, &FieldError{Code: ErrInvalidFormat, Message: fmt.Sprintf("%q is not a valid gene symbol", raw)}
		}
		return g, nil

	case TypeSignificance:
		sig := strings.ToLower(s)
		sig = strings.ReplaceAll(sig, " ", "_")
		if !significancePattern.MatchString(sig) {
			return nil, &FieldError{Code: ErrInvalidFormat, Message: fmt.Sprintf("%q is not a valid significance", raw)}
		}
		return sig, nil

	case TypeFrequency:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &FieldError{Code: ErrInvalidType, Message: fmt.Sprintf("%q is not a frequency", raw)}
		}
		if f < 0 || f > 1 {
			return nil, &FieldError{Code: ErrOutOfRange, Message: fmt.Sprintf("frequency %g outside [0,1]", f)}
		}
		return f, nil
	}

	return nil, &FieldError{Code: ErrInvalidType, Message: fmt.Sprintf("unknown field type %q", t)}
}

// Matches reports whether every value in vals converts cleanly to t. Used by
// schema auto-detection; empty inputs never match.
func (t FieldType) Matches(vals []string) bool {
	if len(vals) == 0 {
		return false
	}
	for _, v := range vals {
		if _, err := t.Convert(v); err != nil {
			return false
		}
	}
	return true
}
