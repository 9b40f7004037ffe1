package record

import (
	"github.com/google/uuid"
)

// VisitGraph is the in-memory view of one visit and its encounters. Entities
// are addressed by id through an index rather than by back-references, so an
// encounter never points at its visit and the visit never owns pointers into
// observations.
type VisitGraph struct {
	Visit      *Visit
	encounters []*Encounter
	index      map[uuid.UUID]*Encounter
}

// NewVisitGraph builds a graph for the visit from its encounters, keeping the
// given order.
func NewVisitGraph(v *Visit, encounters []*Encounter) *VisitGraph {
	g := &VisitGraph{
		Visit: v,
		index: make(map[uuid.UUID]*Encounter, len(encounters)),
	}
	for _, e := range encounters {
		g.AddEncounter(e)
	}
	return g
}

// Encounters returns every encounter of the visit in insertion order.
func (g *VisitGraph) Encounters() []*Encounter {
	return g.encounters
}

// Encounter returns the encounter with the given id, or nil.
func (g *VisitGraph) Encounter(id uuid.UUID) *Encounter {
	return g.index[id]
}

// EncountersOfType returns the visit's encounters of the given type.
func (g *VisitGraph) EncountersOfType(typeID uuid.UUID) []*Encounter {
	var out []*Encounter
	for _, e := range g.encounters {
		if e.EncounterTypeID == typeID {
			out = append(out, e)
		}
	}
	return out
}

// AddEncounter attaches the encounter to the visit. The encounter inherits the
// visit id and patient. Adding an encounter that is already present is a no-op.
func (g *VisitGraph) AddEncounter(e *Encounter) {
	if _, ok := g.index[e.ID]; ok {
		return
	}
	if g.Visit != nil {
		e.VisitID = g.Visit.ID
		e.PatientID = g.Visit.PatientID
	}
	g.index[e.ID] = e
	g.encounters = append(g.encounters, e)
}
