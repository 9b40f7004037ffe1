package labfeed

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/elisfeed/internal/domain/accession"
	"github.com/ehr/elisfeed/internal/domain/record"
)

// OrderMapper builds and updates the order-encounter of an accession.
type OrderMapper struct {
	records            *record.Service
	orderEncounterType *record.EncounterType
	visitType          string
}

func NewOrderMapper(records *record.Service, orderEncounterType *record.EncounterType, visitType string) *OrderMapper {
	return &OrderMapper{records: records, orderEncounterType: orderEncounterType, visitType: visitType}
}

// MapToNewEncounter creates the order-encounter for an accession seen for
// the first time. It is attached to the patient's open lab visit, which is
// started when none is open, and holds one order per panel or standalone
// test that was not cancelled.
func (m *OrderMapper) MapToNewEncounter(ctx context.Context, acc *accession.Accession) (*record.Encounter, error) {
	encID, err := accessionID(acc)
	if err != nil {
		return nil, err
	}
	patientID, err := patientID(acc)
	if err != nil {
		return nil, err
	}
	at, err := acc.ReportTime()
	if err != nil {
		return nil, err
	}

	visit, err := m.records.FindOrCreateOpenVisit(ctx, patientID, m.visitType, at)
	if err != nil {
		return nil, err
	}

	enc := &record.Encounter{
		ID:                encID,
		VisitID:           visit.ID,
		PatientID:         patientID,
		EncounterTypeID:   m.orderEncounterType.ID,
		EncounterDatetime: at,
	}
	for _, concept := range acc.OrderConcepts() {
		enc.AddOrder(concept, at)
	}
	return enc, nil
}

// AddOrVoidOrderDifferences applies a diff to the order-encounter: orders
// are added for new tests and voided for cancelled ones.
func (m *OrderMapper) AddOrVoidOrderDifferences(acc *accession.Accession, diff accession.Diff, enc *record.Encounter) error {
	at, err := acc.ReportTime()
	if err != nil {
		return err
	}
	for _, t := range diff.AddedTests {
		if enc.ActiveOrderForConcept(t.OrderConceptUUID()) == nil {
			enc.AddOrder(t.OrderConceptUUID(), at)
		}
	}
	for _, t := range diff.RemovedTests {
		if o := enc.ActiveOrderForConcept(t.OrderConceptUUID()); o != nil {
			o.Void(record.VoidReasonCancelled, at)
		}
	}
	return nil
}

func accessionID(acc *accession.Accession) (uuid.UUID, error) {
	id, err := uuid.Parse(acc.AccessionUUID)
	if err != nil {
		return uuid.Nil, &accession.DataFormatError{Field: "accessionUuid", Value: acc.AccessionUUID, Err: err}
	}
	return id, nil
}

func patientID(acc *accession.Accession) (uuid.UUID, error) {
	id, err := uuid.Parse(acc.PatientUUID)
	if err != nil {
		return uuid.Nil, &accession.DataFormatError{Field: "patientUuid", Value: acc.PatientUUID, Err: fmt.Errorf("not a uuid: %w", err)}
	}
	return id, nil
}
