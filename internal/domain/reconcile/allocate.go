package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/elisfeed/internal/domain/accession"
	"github.com/ehr/elisfeed/internal/domain/record"
)

// findOrCreateEncounter returns the visit's encounter of the given type
// attributed to the provider, creating and attaching one at the given time
// when none exists.
func findOrCreateEncounter(graph *record.VisitGraph, providerID, typeID uuid.UUID, at time.Time) (*record.Encounter, bool) {
	for _, enc := range graph.EncountersOfType(typeID) {
		if enc.HasProvider(providerID) {
			return enc, false
		}
	}
	pid := providerID
	enc := &record.Encounter{
		ID:                uuid.New(),
		EncounterTypeID:   typeID,
		ProviderID:        &pid,
		EncounterDatetime: at,
	}
	graph.AddEncounter(enc)
	return enc, true
}

// addResultObservation records the result in the encounter and returns the
// observations created. A panel member goes under the encounter's group
// observation for the panel and order, which is created when missing.
func addResultObservation(enc *record.Encounter, r accession.TestResult, order *record.Order, at time.Time) []*record.Observation {
	obs := newObservation(r.TestUUID, order, at)
	obs.Abnormal = r.Abnormal
	obs.ReferredOut = r.ReferredOut
	obs.Value = optional(r.Result)
	obs.ResultType = optional(r.ResultType)
	obs.Units = optional(r.Units)
	obs.Notes = optional(r.NotesText())
	obs.MinNormal = r.MinNormal
	obs.MaxNormal = r.MaxNormal

	g, ok := r.Grouping().(accession.PanelMember)
	if !ok {
		enc.AddObservation(obs)
		return []*record.Observation{obs}
	}

	var created []*record.Observation
	group := findPanelGroup(enc, g.PanelUUID, order)
	if group == nil {
		group = newObservation(g.PanelUUID, order, at)
		enc.AddObservation(group)
		created = append(created, group)
	}
	obs.ParentID = &group.ID
	enc.AddObservation(obs)
	return append(created, obs)
}

func findPanelGroup(enc *record.Encounter, panelUUID string, order *record.Order) *record.Observation {
	for _, top := range enc.TopLevelObservations() {
		if top.ConceptUUID == panelUUID && top.AnswersOrder(order.ID) {
			return top
		}
	}
	return nil
}

func newObservation(conceptUUID string, order *record.Order, at time.Time) *record.Observation {
	orderID := order.ID
	return &record.Observation{
		ID:          uuid.New(),
		ConceptUUID: conceptUUID,
		OrderID:     &orderID,
		ObsDatetime: at,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
