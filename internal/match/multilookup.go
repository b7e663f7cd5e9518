package match

import (
	"context"
	"strings"
)

// MultiLookup merges several lookup sources. Sources are consulted in the
// order given; for single-record kinds the first source to carry an rsID
// wins, for multi-record kinds the results concatenate. Pass custom
// databases first (highest priority first) and the bundled reference data
// last.
type MultiLookup struct {
	sources []Lookup
}

// NewMultiLookup combines sources in priority order.
func NewMultiLookup(sources ...Lookup) *MultiLookup {
	return &MultiLookup{sources: sources}
}

func (m *MultiLookup) ClinicalByRSID(ctx context.Context, ids []string) (map[string]*ClinicalRecord, error) {
	out := make(map[string]*ClinicalRecord)
	for _, src := range m.sources {
		recs, err := src.ClinicalByRSID(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, rec := range recs {
			if _, ok := out[id]; !ok {
				out[id] = rec
			}
		}
	}
	return out, nil
}

func (m *MultiLookup) DrugsByRSID(ctx context.Context, ids []string) (map[string][]*DrugRecord, error) {
	out := make(map[string][]*DrugRecord)
	for _, src := range m.sources {
		recs, err := src.DrugsByRSID(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, rec := range recs {
			out[id] = append(out[id], rec...)
		}
	}
	return out, nil
}

func (m *MultiLookup) FrequenciesByRSID(ctx context.Context, ids []string) (map[string]*FrequencyRecord, error) {
	out := make(map[string]*FrequencyRecord)
	for _, src := range m.sources {
		recs, err := src.FrequenciesByRSID(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, rec := range recs {
			if _, ok := out[id]; !ok {
				out[id] = rec
			}
		}
	}
	return out, nil
}

func (m *MultiLookup) TraitsByRSID(ctx context.Context, ids []string) (map[string][]*TraitRecord, error) {
	out := make(map[string][]*TraitRecord)
	for _, src := range m.sources {
		recs, err := src.TraitsByRSID(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, rec := range recs {
			out[id] = append(out[id], rec...)
		}
	}
	return out, nil
}

// Source concatenates the underlying source names.
func (m *MultiLookup) Source() SourceInfo {
	names := make([]string, 0, len(m.sources))
	counts := make(map[string]int)
	for _, src := range m.sources {
		info := src.Source()
		names = append(names, info.Name)
		for kind, n := range info.RecordCounts {
			counts[kind] += n
		}
	}
	return SourceInfo{
		Name:         strings.Join(names, "+"),
		Version:      "composite",
		RecordCounts: counts,
	}
}
