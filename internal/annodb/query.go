package annodb

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Operator compares a record's field value against a query condition value.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpRegex      Operator = "regex"
	OpGT         Operator = "gt"
	OpLT         Operator = "lt"
	OpGTE        Operator = "gte"
	OpLTE        Operator = "lte"
)

// Condition is one field predicate; all of a query's conditions must hold.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
	// CaseSensitive applies to the string operators. Comparisons are
	// case-insensitive by default.
	CaseSensitive bool `json:"caseSensitive,omitempty"`
}

// SortDirection orders query results.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Query filters, sorts and pages a database's records.
type Query struct {
	Conditions []Condition   `json:"conditions,omitempty"`
	SortField  string        `json:"sortField,omitempty"`
	SortDir    SortDirection `json:"sortDir,omitempty"`
	Offset     int           `json:"offset,omitempty"`
	Limit      int           `json:"limit,omitempty"`
}

// QueryResult carries one page of matches plus the total match count before
// paging.
type QueryResult struct {
	Records []*Record `json:"records"`
	Total   int       `json:"total"`
	Offset  int       `json:"offset"`
	Limit   int       `json:"limit"`
}

// Query evaluates q against one database. The comparison operators coerce
// both sides to numbers when possible and fall back to string ordering.
func (m *Manager) Query(id string, q Query) (*QueryResult, error) {
	db, err := m.store.LoadDatabase(id)
	if err != nil {
		return nil, err
	}

	matchers, err := compileConditions(db, q.Conditions)
	if err != nil {
		return nil, err
	}

	records, err := m.store.Records(id)
	if err != nil {
		return nil, err
	}

	matched := records[:0:0]
	for _, rec := range records {
		if matchAll(rec, matchers) {
			matched = append(matched, rec)
		}
	}

	if q.SortField != "" {
		if !db.Schema.HasField(q.SortField) {
			return nil, fmt.Errorf("unknown sort field %q", q.SortField)
		}
		sortRecords(matched, q.SortField, q.SortDir == SortDesc)
	}

	total := len(matched)
	page := paginate(matched, q.Offset, q.Limit)
	return &QueryResult{Records: page, Total: total, Offset: q.Offset, Limit: q.Limit}, nil
}

type conditionMatcher struct {
	cond Condition
	re   *regexp.Regexp
}

func compileConditions(db *Database, conds []Condition) ([]conditionMatcher, error) {
	matchers := make([]conditionMatcher, 0, len(conds))
	for _, c := range conds {
		if !db.Schema.HasField(c.Field) {
			return nil, fmt.Errorf("unknown field %q", c.Field)
		}
		cm := conditionMatcher{cond: c}
		if c.Operator == OpRegex {
			pattern := c.Value
			if !c.CaseSensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("field %q regex: %w", c.Field, err)
			}
			cm.re = re
		}
		matchers = append(matchers, cm)
	}
	return matchers, nil
}

func matchAll(rec *Record, matchers []conditionMatcher) bool {
	for _, cm := range matchers {
		val, ok := rec.Field(cm.cond.Field)
		if !ok {
			return false
		}
		if !cm.matches(val) {
			return false
		}
	}
	return true
}

func (cm conditionMatcher) matches(val any) bool {
	have := exportValue(val)
	want := cm.cond.Value

	switch cm.cond.Operator {
	case OpRegex:
		return cm.re.MatchString(have)
	case OpGT, OpLT, OpGTE, OpLTE:
		return compareOrdered(cm.cond.Operator, val, want)
	}

	if !cm.cond.CaseSensitive {
		have = strings.ToLower(have)
		want = strings.ToLower(want)
	}
	switch cm.cond.Operator {
	case OpEquals:
		return have == want
	case OpContains:
		return strings.Contains(have, want)
	case OpStartsWith:
		return strings.HasPrefix(have, want)
	case OpEndsWith:
		return strings.HasSuffix(have, want)
	default:
		return false
	}
}

// compareOrdered tries numeric comparison first; two non-numeric operands
// compare lexicographically.
func compareOrdered(op Operator, val any, want string) bool {
	var cmp int
	if hf, ok1 := asFloat(val); ok1 {
		if wf, ok2 := asFloat(want); ok2 {
			switch {
			case hf < wf:
				cmp = -1
			case hf > wf:
				cmp = 1
			}
			return orderedResult(op, cmp)
		}
	}
	cmp = strings.Compare(exportValue(val), want)
	return orderedResult(op, cmp)
}

func orderedResult(op Operator, cmp int) bool {
	switch op {
	case OpGT:
		return cmp > 0
	case OpLT:
		return cmp < 0
	case OpGTE:
		return cmp >= 0
	case OpLTE:
		return cmp <= 0
	default:
		return false
	}
}

// sortRecords orders by field, numbers before strings; records missing the
// field sort last.
func sortRecords(records []*Record, field string, desc bool) {
	sort.SliceStable(records, func(i, j int) bool {
		less := recordLess(records[i], records[j], field)
		if desc {
			return recordLess(records[j], records[i], field)
		}
		return less
	})
}

func recordLess(a, b *Record, field string) bool {
	av, aok := a.Field(field)
	bv, bok := b.Field(field)
	if !aok || av == nil {
		return false
	}
	if !bok || bv == nil {
		return true
	}
	af, afok := asFloat(av)
	bf, bfok := asFloat(bv)
	if afok && bfok {
		return af < bf
	}
	if afok != bfok {
		return afok
	}
	return strings.ToLower(exportValue(av)) < strings.ToLower(exportValue(bv))
}

func paginate(records []*Record, offset, limit int) []*Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
