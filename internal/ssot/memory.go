package ssot

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryClient is an in-memory record store used for dry runs and tests.
// It implements the same no-delete contract as the real store.
type MemoryClient struct {
	mu        sync.RWMutex
	records   map[string]*Record
	citations map[string][]Citation
	events    map[string][]Event
	nextID    int

	// FailNext simulates transient unavailability for the next n calls.
	FailNext int
}

// NewMemoryClient creates an empty in-memory record store.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		records:   make(map[string]*Record),
		citations: make(map[string][]Citation),
		events:    make(map[string][]Event),
	}
}

// Seed inserts a record directly, bypassing the write path. Test setup only.
func (m *MemoryClient) Seed(rec Record) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		m.nextID++
		rec.ID = fmt.Sprintf("I%04d", m.nextID)
	}
	m.records[rec.ID] = &rec
	return rec.ID
}

func (m *MemoryClient) failing(op string) error {
	if m.FailNext > 0 {
		m.FailNext--
		return &UnavailableError{Op: op, Err: fmt.Errorf("simulated outage")}
	}
	return nil
}

// Search matches records whose full or alternate name contains every token
// of the query, case-insensitively.
func (m *MemoryClient) Search(ctx context.Context, name string, dates *DateRange, location string) ([]Record, error) {
	m.mu.Lock()
	if err := m.failing("search"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	tokens := strings.Fields(strings.ToLower(name))
	var out []Record
	for _, rec := range m.records {
		hay := strings.ToLower(rec.Attributes.FullName() + " " + strings.Join(rec.Attributes.AlternateNames, " "))
		all := true
		for _, tok := range tokens {
			if !strings.Contains(hay, tok) {
				all = false
				break
			}
		}
		if all {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// GetRecord returns a copy of the record, or nil when absent.
func (m *MemoryClient) GetRecord(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

// CreatePerson creates a record and returns its generated id.
func (m *MemoryClient) CreatePerson(ctx context.Context, attrs PersonAttributes) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("create person"); err != nil {
		return "", err
	}
	m.nextID++
	id := fmt.Sprintf("I%04d", m.nextID)
	m.records[id] = &Record{ID: id, Attributes: attrs}
	return id, nil
}

// AddAttribute sets a named attribute on an existing record.
func (m *MemoryClient) AddAttribute(ctx context.Context, id string, attr string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("add attribute"); err != nil {
		return err
	}
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	switch attr {
	case "gender":
		rec.Attributes.Gender = value
	case "birth_date":
		rec.Attributes.BirthDate = value
	case "death_date":
		rec.Attributes.DeathDate = value
	case "birth_place":
		rec.Attributes.BirthPlace = value
	case "death_place":
		rec.Attributes.DeathPlace = value
	case "residence_place":
		rec.Attributes.ResidencePlace = value
	case "alternate_name":
		rec.Attributes.AlternateNames = append(rec.Attributes.AlternateNames, value)
	default:
		return fmt.Errorf("unknown attribute %q", attr)
	}
	return nil
}

// AddCitation records a citation against a record.
func (m *MemoryClient) AddCitation(ctx context.Context, id string, c Citation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("add citation"); err != nil {
		return "", err
	}
	if _, ok := m.records[id]; !ok {
		return "", fmt.Errorf("record %s not found", id)
	}
	m.citations[id] = append(m.citations[id], c)
	return fmt.Sprintf("C%04d", len(m.citations[id])), nil
}

// AddEvent records an event against a record.
func (m *MemoryClient) AddEvent(ctx context.Context, id string, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("add event"); err != nil {
		return err
	}
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	m.events[id] = append(m.events[id], e)
	switch e.Type {
	case "birth":
		if e.Date != "" {
			rec.Attributes.BirthDate = e.Date
		}
		if e.Place != "" {
			rec.Attributes.BirthPlace = e.Place
		}
	case "death":
		if e.Date != "" {
			rec.Attributes.DeathDate = e.Date
		}
		if e.Place != "" {
			rec.Attributes.DeathPlace = e.Place
		}
	}
	return nil
}

// CreateRelationship records an edge between two persons.
func (m *MemoryClient) CreateRelationship(ctx context.Context, id1, id2, relType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("create relationship"); err != nil {
		return err
	}
	rec1, ok := m.records[id1]
	if !ok {
		return fmt.Errorf("record %s not found", id1)
	}
	if _, ok := m.records[id2]; !ok {
		return fmt.Errorf("record %s not found", id2)
	}
	rec1.Relationships = append(rec1.Relationships, RelationshipEdge{Person1: id1, Person2: id2, Type: relType})
	return nil
}

// Citations returns the citations recorded for a person. Test inspection.
func (m *MemoryClient) Citations(id string) []Citation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Citation(nil), m.citations[id]...)
}

// Events returns the events recorded for a person. Test inspection.
func (m *MemoryClient) Events(id string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events[id]...)
}
