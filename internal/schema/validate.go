package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrorCode classifies a field validation failure.
type ErrorCode string

// Field error codes surfaced to callers and import reports.
const (
	ErrRequiredMissing ErrorCode = "REQUIRED_FIELD_MISSING"
	ErrInvalidType     ErrorCode = "INVALID_TYPE"
	ErrInvalidFormat   ErrorCode = "INVALID_FORMAT"
	ErrInvalidValue    ErrorCode = "INVALID_VALUE"
	ErrOutOfRange      ErrorCode = "VALUE_OUT_OF_RANGE"
	ErrPatternMismatch ErrorCode = "PATTERN_MISMATCH"
)

// FieldError describes one failed field within a record.
type FieldError struct {
	Field   string    `json:"field"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Value   string    `json:"value,omitempty"`
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("field %q: %s: %s", e.Field, e.Code, e.Message)
}

// RecordResult is the outcome of validating a single record.
type RecordResult struct {
	Row       int            `json:"row"`
	Valid     bool           `json:"valid"`
	Converted map[string]any `json:"converted,omitempty"`
	Errors    []*FieldError  `json:"errors,omitempty"`
}

// BatchResult aggregates validation over a batch of records.
type BatchResult struct {
	Results       []RecordResult
	ValidCount    int
	InvalidCount  int
	DuplicateKeys map[string][]int // composite primary key -> row indices
}

// Validator validates raw records against one schema. A validator is safe
// for concurrent use once constructed.
type Validator struct {
	schema   *Schema
	mapping  map[string]string // lowercased source field -> schema field
	patterns map[string]*regexp.Regexp
}

// NewValidator compiles a validator for the given schema. Custom field
// patterns are compiled once here; an invalid pattern is reported as an
// error rather than at first use.
func NewValidator(s *Schema) (*Validator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	v := &Validator{
		schema:   s,
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, f := range s.Fields {
		if f.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return nil, fmt.Errorf("field %q pattern: %w", f.Name, err)
		}
		v.patterns[strings.ToLower(f.Name)] = re
	}
	return v, nil
}

// SetFieldMapping installs an explicit source-field to schema-field mapping
// consulted before case-insensitive name matching.
func (v *Validator) SetFieldMapping(mapping map[string]string) {
	if len(mapping) == 0 {
		v.mapping = nil
		return
	}
	m := make(map[string]string, len(mapping))
	for src, dst := range mapping {
		m[strings.ToLower(src)] = dst
	}
	v.mapping = m
}

// Schema returns the schema this validator was built for.
func (v *Validator) Schema() *Schema {
	return v.schema
}

// lookupValue finds the raw value for a schema field, first through the
// explicit mapping, then by case-insensitive name match.
func (v *Validator) lookupValue(raw map[string]any, field string) (any, bool) {
	want := strings.ToLower(field)

	for src, dst := range v.mapping {
		if strings.EqualFold(dst, field) {
			for k, val := range raw {
				if strings.ToLower(k) == src {
					return val, true
				}
			}
		}
	}

	for k, val := range raw {
		if strings.ToLower(k) == want {
			return val, true
		}
	}
	return nil, false
}

// ValidateRecord validates one raw record. The returned result carries
// either the converted record (canonical field names, typed values) or the
// full list of field errors.
func (v *Validator) ValidateRecord(raw map[string]any) RecordResult {
	res := RecordResult{Converted: make(map[string]any, len(v.schema.Fields))}

	for _, f := range v.schema.Fields {
		val, found := v.lookupValue(raw, f.Name)
		str := stringify(val)

		if !found || str == "" {
			if f.Required {
				res.Errors = append(res.Errors, &FieldError{
					Field:   f.Name,
					Code:    ErrRequiredMissing,
					Message: "required field is missing or empty",
				})
			}
			continue
		}

		conv, ferr := f.Type.Convert(str)
		if ferr != nil {
			ferr.Field = f.Name
			ferr.Value = str
			res.Errors = append(res.Errors, ferr)
			continue
		}

		canonical := fmt.Sprintf("%v", conv)

		if re, ok := v.patterns[strings.ToLower(f.Name)]; ok && !re.MatchString(canonical) {
			res.Errors = append(res.Errors, &FieldError{
				Field:   f.Name,
				Code:    ErrPatternMismatch,
				Message: fmt.Sprintf("%q does not match pattern %q", canonical, re.String()),
				Value:   str,
			})
			continue
		}

		if len(f.Values) > 0 && !containsFold(f.Values, canonical) {
			res.Errors = append(res.Errors, &FieldError{
				Field:   f.Name,
				Code:    ErrInvalidValue,
				Message: fmt.Sprintf("%q is not one of the allowed values", canonical),
				Value:   str,
			})
			continue
		}

		res.Converted[f.Name] = conv
	}

	res.Valid = len(res.Errors) == 0
	if !res.Valid {
		res.Converted = nil
	}
	return res
}

// ValidateAll validates a batch of records and detects duplicate primary
// keys among the valid ones. Row numbers in the results are zero-based
// input indices.
func (v *Validator) ValidateAll(raws []map[string]any) *BatchResult {
	batch := &BatchResult{
		Results: make([]RecordResult, 0, len(raws)),
	}

	keyRows := make(map[string][]int)
	for i, raw := range raws {
		res := v.ValidateRecord(raw)
		res.Row = i
		if res.Valid {
			batch.ValidCount++
			key := v.primaryKeyOf(res.Converted)
			keyRows[key] = append(keyRows[key], i)
		} else {
			batch.InvalidCount++
		}
		batch.Results = append(batch.Results, res)
	}

	for key, rows := range keyRows {
		if len(rows) > 1 {
			if batch.DuplicateKeys == nil {
				batch.DuplicateKeys = make(map[string][]int)
			}
			batch.DuplicateKeys[key] = rows
		}
	}

	return batch
}

// primaryKeyOf joins the record's primary-key values in schema-declared
// order into a composite key.
func (v *Validator) primaryKeyOf(converted map[string]any) string {
	parts := make([]string, 0, len(v.schema.PrimaryKey))
	for _, pk := range v.schema.PrimaryKey {
		f := v.schema.FieldByName(pk)
		if f == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%v", converted[f.Name]))
	}
	return strings.Join(parts, "|")
}

// stringify renders a raw input value for conversion. Floats that carry no
// fractional part print without an exponent so position-like values survive
// JSON decoding (which produces float64).
func stringify(val any) string {
	switch x := val.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", x))
	}
}

func containsFold(list []string, val string) bool {
	for _, item := range list {
		if strings.EqualFold(item, val) {
			return true
		}
	}
	return false
}
