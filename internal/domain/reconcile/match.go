package reconcile

import (
	"github.com/ehr/elisfeed/internal/domain/accession"
	"github.com/ehr/elisfeed/internal/domain/record"
)

// findOrder returns the active order of the order-encounter placed for the
// result's panel, or for the test itself when it is not a panel member.
func findOrder(orderEnc *record.Encounter, r accession.TestResult) *record.Order {
	return orderEnc.ActiveOrderForConcept(r.OrderConceptUUID())
}

// findExistingObservation returns the current observation for the result and
// order among the candidate encounters, with the encounter holding it. A panel
// member only matches a member of a top-level group for its panel; a plain
// test only matches a top-level observation.
func findExistingObservation(candidates []*record.Encounter, r accession.TestResult, order *record.Order) (*record.Observation, *record.Encounter) {
	for _, enc := range candidates {
		for _, top := range enc.TopLevelObservations() {
			switch g := r.Grouping().(type) {
			case accession.PanelMember:
				if top.ConceptUUID != g.PanelUUID {
					continue
				}
				for _, member := range enc.GroupMembers(top.ID) {
					if member.ConceptUUID == r.TestUUID && member.AnswersOrder(order.ID) {
						return member, enc
					}
				}
			case accession.PlainTest:
				if top.ConceptUUID == r.TestUUID && top.AnswersOrder(order.ID) {
					return top, enc
				}
			}
		}
	}
	return nil, nil
}
