// Package annodb manages custom annotation databases: schema-validated
// import of third-party files, lifecycle operations, a field-level query
// engine, export writers and a lookup adapter feeding the matcher.
package annodb

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genomeforge/engine/internal/schema"
	"github.com/genomeforge/engine/internal/store"
)

// Database, Record and Metadata are the persisted model types, shared with
// the storage adapters.
type (
	Database = store.Database
	Record   = store.Record
	Metadata = store.Metadata
)

// Manager owns a set of named annotation databases on top of one storage
// adapter. Construct it explicitly and inject it; there is no package-level
// default instance.
type Manager struct {
	store  store.Store
	logger *zap.Logger

	events *eventHub
	maint  *maintenance
}

// NewManager creates a manager on the given storage adapter.
func NewManager(s store.Store) *Manager {
	return &Manager{
		store:  s,
		logger: zap.NewNop(),
		events: newEventHub(),
	}
}

// SetLogger sets the logger for import and maintenance diagnostics.
func (m *Manager) SetLogger(l *zap.Logger) {
	m.logger = l
	m.events.logger = l
}

// CreateDatabase registers an empty database with the given schema.
func (m *Manager) CreateDatabase(name string, s *schema.Schema) (*Database, error) {
	if name == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	db := &Database{
		ID:     uuid.NewString(),
		Name:   name,
		Schema: s,
		Meta: Metadata{
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := m.store.SaveDatabase(db); err != nil {
		return nil, fmt.Errorf("save database: %w", err)
	}

	m.events.emit(Event{Type: EventCreated, DatabaseID: db.ID, Name: db.Name})
	return db, nil
}

// Get returns the database by id.
func (m *Manager) Get(id string) (*Database, error) {
	return m.store.LoadDatabase(id)
}

// GetByName returns the database whose name matches exactly.
func (m *Manager) GetByName(name string) (*Database, error) {
	dbs, err := m.store.ListDatabases()
	if err != nil {
		return nil, err
	}
	for _, db := range dbs {
		if db.Name == name {
			return db, nil
		}
	}
	return nil, store.ErrNotFound
}

// List returns every database sorted by descending priority, then name.
func (m *Manager) List() ([]*Database, error) {
	dbs, err := m.store.ListDatabases()
	if err != nil {
		return nil, err
	}
	sort.Slice(dbs, func(i, j int) bool {
		if dbs[i].Meta.Priority != dbs[j].Meta.Priority {
			return dbs[i].Meta.Priority > dbs[j].Meta.Priority
		}
		return dbs[i].Name < dbs[j].Name
	})
	return dbs, nil
}

// enabled returns the enabled databases in priority order.
func (m *Manager) enabled() ([]*Database, error) {
	dbs, err := m.List()
	if err != nil {
		return nil, err
	}
	out := dbs[:0]
	for _, db := range dbs {
		if db.Meta.Enabled {
			out = append(out, db)
		}
	}
	return out, nil
}

// Delete removes a database and its records.
func (m *Manager) Delete(id string) error {
	db, err := m.store.LoadDatabase(id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteDatabase(id); err != nil {
		return err
	}
	m.events.emit(Event{Type: EventDeleted, DatabaseID: id, Name: db.Name})
	return nil
}

// Rename changes a database's display name.
func (m *Manager) Rename(id, name string) error {
	if name == "" {
		return fmt.Errorf("database name is required")
	}
	return m.update(id, EventUpdated, func(db *Database) { db.Name = name })
}

// SetEnabled toggles whether the database participates in lookups.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	kind := EventEnabled
	if !enabled {
		kind = EventDisabled
	}
	return m.update(id, kind, func(db *Database) { db.Meta.Enabled = enabled })
}

// SetPriority orders the database among its peers; higher wins lookups.
func (m *Manager) SetPriority(id string, priority int) error {
	return m.update(id, EventUpdated, func(db *Database) { db.Meta.Priority = priority })
}

// SetTags replaces the database's tag list.
func (m *Manager) SetTags(id string, tags []string) error {
	return m.update(id, EventUpdated, func(db *Database) { db.Meta.Tags = tags })
}

func (m *Manager) update(id string, kind EventType, mutate func(*Database)) error {
	db, err := m.store.LoadDatabase(id)
	if err != nil {
		return err
	}
	mutate(db)
	db.Meta.UpdatedAt = time.Now()
	if err := m.store.SaveDatabase(db); err != nil {
		return fmt.Errorf("save database: %w", err)
	}
	m.events.emit(Event{Type: kind, DatabaseID: db.ID, Name: db.Name})
	return nil
}

// FindByRSID queries every enabled database for the given ids, in priority
// order. Records from higher-priority databases come first.
func (m *Manager) FindByRSID(ids []string) ([]*Record, error) {
	dbs, err := m.enabled()
	if err != nil {
		return nil, err
	}

	var out []*Record
	for _, db := range dbs {
		field := rsidField(db.Schema)
		if field == "" {
			continue
		}
		recs, err := m.store.FindByField(db.ID, field, ids)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", db.Name, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// rsidField returns the name of the schema's first rsID-typed field, or "".
func rsidField(s *schema.Schema) string {
	if s == nil {
		return ""
	}
	for _, f := range s.Fields {
		if f.Type == schema.TypeRSID {
			return f.Name
		}
	}
	return ""
}

// DatabaseStatus describes one database for the product's status surface.
type DatabaseStatus struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Loaded      bool       `json:"loaded"`
	Enabled     bool       `json:"enabled"`
	RecordCount int        `json:"recordCount"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

// Status reports per-database load state and record counts.
func (m *Manager) Status() ([]DatabaseStatus, error) {
	dbs, err := m.List()
	if err != nil {
		return nil, err
	}
	out := make([]DatabaseStatus, 0, len(dbs))
	for _, db := range dbs {
		st := DatabaseStatus{
			ID:          db.ID,
			Name:        db.Name,
			Loaded:      db.Meta.RecordCount > 0,
			Enabled:     db.Meta.Enabled,
			RecordCount: db.Meta.RecordCount,
		}
		if !db.Meta.UpdatedAt.IsZero() {
			updated := db.Meta.UpdatedAt
			st.LastUpdated = &updated
		}
		out = append(out, st)
	}
	return out, nil
}

// Stats aggregates record counts across all databases.
type Stats struct {
	Databases    int `json:"databases"`
	Enabled      int `json:"enabled"`
	TotalRecords int `json:"totalRecords"`
}

// Stats returns aggregate counts across all databases.
func (m *Manager) Stats() (Stats, error) {
	dbs, err := m.store.ListDatabases()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	st.Databases = len(dbs)
	for _, db := range dbs {
		if db.Meta.Enabled {
			st.Enabled++
		}
		st.TotalRecords += db.Meta.RecordCount
	}
	return st, nil
}

// RefreshStats recounts every database's records and persists the counts.
func (m *Manager) RefreshStats() error {
	dbs, err := m.store.ListDatabases()
	if err != nil {
		return err
	}
	for _, db := range dbs {
		recs, err := m.store.Records(db.ID)
		if err != nil {
			return fmt.Errorf("count %s: %w", db.Name, err)
		}
		if len(recs) != db.Meta.RecordCount {
			db.Meta.RecordCount = len(recs)
			db.Meta.UpdatedAt = time.Now()
			if err := m.store.SaveDatabase(db); err != nil {
				return fmt.Errorf("save %s: %w", db.Name, err)
			}
		}
	}
	return nil
}

// Close stops maintenance and closes the storage adapter.
func (m *Manager) Close() error {
	m.StopMaintenance()
	return m.store.Close()
}
