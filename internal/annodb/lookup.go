package annodb

import (
	"context"
	"strings"

	"github.com/genomeforge/engine/internal/match"
	"github.com/genomeforge/engine/internal/schema"
	"github.com/genomeforge/engine/internal/store"
)

// recordKind classifies what annotation a database contributes, inferred
// from its schema's field names.
type recordKind int

const (
	kindNone recordKind = iota
	kindClinical
	kindDrug
	kindTrait
	kindFrequency
)

// classifySchema maps a schema onto the annotation kind its fields imply.
func classifySchema(s *schema.Schema) recordKind {
	switch {
	case s == nil:
		return kindNone
	case s.HasField("significance"):
		return kindClinical
	case s.HasField("drug"):
		return kindDrug
	case s.HasField("trait"):
		return kindTrait
	case s.HasField("global_frequency"):
		return kindFrequency
	default:
		return kindNone
	}
}

// Lookup adapts the manager's enabled databases to the matcher's lookup
// contract. Databases are consulted in priority order; for single-valued
// kinds (clinical, frequency) the highest-priority hit per rsID wins.
type Lookup struct {
	m *Manager
}

var _ match.Lookup = (*Lookup)(nil)

// NewLookup returns a matcher-facing view of the manager's databases.
func NewLookup(m *Manager) *Lookup {
	return &Lookup{m: m}
}

// Source describes the custom databases backing this lookup.
func (l *Lookup) Source() match.SourceInfo {
	info := match.SourceInfo{Name: "custom-databases", RecordCounts: map[string]int{}}
	dbs, err := l.m.enabled()
	if err != nil {
		return info
	}
	for _, db := range dbs {
		info.RecordCounts[db.Name] = db.Meta.RecordCount
	}
	return info
}

func (l *Lookup) ClinicalByRSID(ctx context.Context, ids []string) (map[string]*match.ClinicalRecord, error) {
	out := make(map[string]*match.ClinicalRecord)
	err := l.scan(ctx, kindClinical, ids, func(rec *store.Record, rsid string) {
		if _, seen := out[rsid]; seen {
			return
		}
		out[rsid] = &match.ClinicalRecord{
			RSID:         rsid,
			Gene:         fieldString(rec, "gene"),
			Condition:    fieldString(rec, "condition"),
			Significance: fieldString(rec, "significance"),
			ReviewStars:  int(fieldFloat(rec, "review_stars")),
			Chromosome:   fieldString(rec, "chromosome"),
			Position:     int64(fieldFloat(rec, "position")),
		}
	})
	return out, err
}

func (l *Lookup) DrugsByRSID(ctx context.Context, ids []string) (map[string][]*match.DrugRecord, error) {
	out := make(map[string][]*match.DrugRecord)
	err := l.scan(ctx, kindDrug, ids, func(rec *store.Record, rsid string) {
		out[rsid] = append(out[rsid], &match.DrugRecord{
			RSID:           rsid,
			Gene:           fieldString(rec, "gene"),
			Drug:           fieldString(rec, "drug"),
			EvidenceLevel:  fieldString(rec, "evidence_level"),
			Response:       fieldString(rec, "response"),
			Recommendation: fieldString(rec, "recommendation"),
			HasLabel:       fieldBool(rec, "has_label"),
		})
	})
	return out, err
}

func (l *Lookup) FrequenciesByRSID(ctx context.Context, ids []string) (map[string]*match.FrequencyRecord, error) {
	out := make(map[string]*match.FrequencyRecord)
	err := l.scan(ctx, kindFrequency, ids, func(rec *store.Record, rsid string) {
		if _, seen := out[rsid]; seen {
			return
		}
		out[rsid] = &match.FrequencyRecord{
			RSID:            rsid,
			GlobalFrequency: fieldFloat(rec, "global_frequency"),
		}
	})
	return out, err
}

func (l *Lookup) TraitsByRSID(ctx context.Context, ids []string) (map[string][]*match.TraitRecord, error) {
	out := make(map[string][]*match.TraitRecord)
	err := l.scan(ctx, kindTrait, ids, func(rec *store.Record, rsid string) {
		out[rsid] = append(out[rsid], &match.TraitRecord{
			RSID:       rsid,
			Trait:      fieldString(rec, "trait"),
			Category:   fieldString(rec, "category"),
			RiskAllele: fieldString(rec, "risk_allele"),
			Effect:     fieldString(rec, "effect"),
			PValue:     fieldFloat(rec, "p_value"),
			OddsRatio:  fieldFloat(rec, "odds_ratio"),
		})
	})
	return out, err
}

// scan visits matching records of every enabled database of the given kind,
// highest priority first.
func (l *Lookup) scan(ctx context.Context, kind recordKind, ids []string, visit func(*store.Record, string)) error {
	dbs, err := l.m.enabled()
	if err != nil {
		return err
	}
	for _, db := range dbs {
		if classifySchema(db.Schema) != kind {
			continue
		}
		field := rsidField(db.Schema)
		if field == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := l.m.store.FindByField(db.ID, field, ids)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			rsid := strings.ToLower(fieldString(rec, field))
			if rsid == "" {
				continue
			}
			visit(rec, rsid)
		}
	}
	return nil
}

func fieldString(rec *store.Record, name string) string {
	v, ok := rec.Field(name)
	if !ok || v == nil {
		return ""
	}
	if s, isStr := v.(string); isStr {
		return s
	}
	return exportValue(v)
}

func fieldFloat(rec *store.Record, name string) float64 {
	v, ok := rec.Field(name)
	if !ok {
		return 0
	}
	f, _ := asFloat(v)
	return f
}

func fieldBool(rec *store.Record, name string) bool {
	v, ok := rec.Field(name)
	if !ok {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(x, "true") || x == "1" || strings.EqualFold(x, "yes")
	default:
		return false
	}
}
