package record

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a thread-safe, in-memory Repository and Lookup. Values are
// copied on the way in and out so callers see the same isolation a database
// gives them.
type MemoryStore struct {
	mu             sync.RWMutex
	encounters     map[uuid.UUID]*Encounter
	visits         map[uuid.UUID]*Visit
	providers      map[uuid.UUID]*Provider
	concepts       map[string]*Concept
	encounterTypes map[string]*EncounterType
	saves          int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		encounters:     make(map[uuid.UUID]*Encounter),
		visits:         make(map[uuid.UUID]*Visit),
		providers:      make(map[uuid.UUID]*Provider),
		concepts:       make(map[string]*Concept),
		encounterTypes: make(map[string]*EncounterType),
	}
}

// AddProvider registers reference data.
func (m *MemoryStore) AddProvider(p *Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.providers[p.ID] = &cp
}

// AddConcept registers reference data.
func (m *MemoryStore) AddConcept(c *Concept) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.concepts[c.UUID] = &cp
}

// AddEncounterType registers reference data.
func (m *MemoryStore) AddEncounterType(et *EncounterType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *et
	m.encounterTypes[et.Name] = &cp
}

// SaveCount returns how many times SaveEncounter succeeded.
func (m *MemoryStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MemoryStore) GetEncounterByID(_ context.Context, id uuid.UUID) (*Encounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enc, ok := m.encounters[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEncounter(enc), nil
}

func (m *MemoryStore) SaveEncounter(_ context.Context, enc *Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.encounters[enc.ID]; ok {
		enc.CreatedAt = existing.CreatedAt
	} else if enc.CreatedAt.IsZero() {
		enc.CreatedAt = now
	}
	enc.UpdatedAt = now
	m.encounters[enc.ID] = cloneEncounter(enc)
	m.saves++
	return nil
}

// WithinTx runs fn directly; the store applies each write atomically.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *MemoryStore) ListVisitEncounters(_ context.Context, visitID uuid.UUID) ([]*Encounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Encounter
	for _, e := range m.encounters {
		if e.VisitID == visitID {
			out = append(out, cloneEncounter(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EncounterDatetime.Equal(out[j].EncounterDatetime) {
			return out[i].EncounterDatetime.Before(out[j].EncounterDatetime)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) GetVisit(_ context.Context, id uuid.UUID) (*Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) FindOpenVisit(_ context.Context, patientID uuid.UUID, visitType string) (*Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *Visit
	for _, v := range m.visits {
		if v.PatientID != patientID || v.VisitType != visitType || !v.IsOpen() {
			continue
		}
		if found == nil || v.StartedAt.After(found.StartedAt) {
			found = v
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *MemoryStore) SaveVisit(_ context.Context, v *Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m *MemoryStore) ProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ProviderByIdentifier(_ context.Context, identifier string) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if p.Identifier == identifier {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ConceptByUUID(_ context.Context, conceptUUID string) (*Concept, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.concepts[conceptUUID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) EncounterTypeByName(_ context.Context, name string) (*EncounterType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	et, ok := m.encounterTypes[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *et
	return &cp, nil
}

func cloneEncounter(e *Encounter) *Encounter {
	cp := *e
	if e.ProviderID != nil {
		id := *e.ProviderID
		cp.ProviderID = &id
	}
	cp.Orders = make([]*Order, len(e.Orders))
	for i, o := range e.Orders {
		oc := *o
		cp.Orders[i] = &oc
	}
	cp.Observations = make([]*Observation, len(e.Observations))
	for i, o := range e.Observations {
		oc := *o
		cp.Observations[i] = &oc
	}
	return &cp
}
