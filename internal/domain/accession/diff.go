package accession

import (
	"github.com/ehr/elisfeed/internal/domain/record"
)

// Diff is the difference between an accession and its order-encounter.
type Diff struct {
	AddedTests   []TestResult
	RemovedTests []TestResult
}

// HasDifference reports whether the order-encounter needs updating.
func (d Diff) HasDifference() bool {
	return len(d.AddedTests) > 0 || len(d.RemovedTests) > 0
}

// Diff compares the accession's tests with the active orders of the
// order-encounter. A non-cancelled test whose order concept has no active
// order is added; a cancelled test whose order concept still has one is
// removed. Each concept appears at most once per list.
func (a *Accession) Diff(enc *record.Encounter) Diff {
	var d Diff
	added := make(map[string]bool)
	removed := make(map[string]bool)
	for _, t := range a.TestDetails {
		concept := t.OrderConceptUUID()
		if concept == "" {
			continue
		}
		active := enc.ActiveOrderForConcept(concept) != nil
		switch {
		case t.IsCancelled() && active && !removed[concept]:
			removed[concept] = true
			d.RemovedTests = append(d.RemovedTests, t)
		case !t.IsCancelled() && !active && !added[concept]:
			added[concept] = true
			d.AddedTests = append(d.AddedTests, t)
		}
	}
	return d
}
