package store

import (
	"strings"
	"sync"
)

// arena holds a database's records contiguously with an id index and
// per-field inverted indices for the schema's declared index fields.
type arena struct {
	records  []*Record
	byID     map[string]int
	fieldIdx map[string]map[string][]int // field -> canonical value -> slots
}

func newArena() *arena {
	return &arena{
		byID:     make(map[string]int),
		fieldIdx: make(map[string]map[string][]int),
	}
}

// Memory is the in-memory reference Store. Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	databases map[string]*Database
	arenas    map[string]*arena
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		databases: make(map[string]*Database),
		arenas:    make(map[string]*arena),
	}
}

func (m *Memory) SaveDatabase(db *Database) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.databases[db.ID] = db
	if _, ok := m.arenas[db.ID]; !ok {
		m.arenas[db.ID] = newArena()
	}
	return nil
}

func (m *Memory) LoadDatabase(id string) (*Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	db, ok := m.databases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return db, nil
}

func (m *Memory) DeleteDatabase(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.databases[id]; !ok {
		return ErrNotFound
	}
	delete(m.databases, id)
	delete(m.arenas, id)
	return nil
}

func (m *Memory) ListDatabases() ([]*Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Database, 0, len(m.databases))
	for _, db := range m.databases {
		out = append(out, db)
	}
	return out, nil
}

// indexedFields returns the field names the arena maintains inverted
// indices for: the schema's primary key plus its declared index fields.
func (m *Memory) indexedFields(dbID string) []string {
	db, ok := m.databases[dbID]
	if !ok || db.Schema == nil {
		return nil
	}
	fields := append([]string(nil), db.Schema.PrimaryKey...)
	return append(fields, db.Schema.Indexes...)
}

func (m *Memory) PutRecords(dbID string, records []*Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.arenas[dbID]
	if !ok {
		return ErrNotFound
	}
	indexed := m.indexedFields(dbID)

	for _, rec := range records {
		slot, exists := a.byID[rec.ID]
		if exists {
			a.records[slot] = rec
		} else {
			slot = len(a.records)
			a.records = append(a.records, rec)
			a.byID[rec.ID] = slot
		}

		// Index entries are append-only; lookups re-verify the value, so a
		// stale entry left by an overwrite is harmless.
		for _, field := range indexed {
			val, found := rec.Field(field)
			if !found {
				continue
			}
			key := strings.ToLower(field)
			idx, ok := a.fieldIdx[key]
			if !ok {
				idx = make(map[string][]int)
				a.fieldIdx[key] = idx
			}
			idx[canonical(val)] = append(idx[canonical(val)], slot)
		}
	}
	return nil
}

func (m *Memory) Records(dbID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.arenas[dbID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]*Record(nil), a.records...), nil
}

func (m *Memory) FindByField(dbID, field string, values []string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.arenas[dbID]
	if !ok {
		return nil, ErrNotFound
	}

	var out []*Record
	if idx, indexed := a.fieldIdx[strings.ToLower(field)]; indexed {
		seen := make(map[int]bool)
		for _, v := range values {
			for _, slot := range idx[strings.ToLower(v)] {
				if seen[slot] {
					continue
				}
				seen[slot] = true
				rec := a.records[slot]
				if val, found := rec.Field(field); found && canonical(val) == strings.ToLower(v) {
					out = append(out, rec)
				}
			}
		}
		return out, nil
	}

	// Unindexed field: linear scan.
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[strings.ToLower(v)] = true
	}
	for _, rec := range a.records {
		if val, found := rec.Field(field); found && want[canonical(val)] {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}

// Snapshot deep-copies a database's records, for tests and
// restore-after-failure flows.
func (m *Memory) Snapshot(dbID string) []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.arenas[dbID]
	if !ok {
		return nil
	}
	out := make([]*Record, len(a.records))
	for i, rec := range a.records {
		clone := *rec
		clone.Fields = make(map[string]any, len(rec.Fields))
		for k, v := range rec.Fields {
			clone.Fields[k] = v
		}
		out[i] = &clone
	}
	return out
}
