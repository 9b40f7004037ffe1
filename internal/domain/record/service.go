package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// GetEncounter returns the encounter, or (nil, nil) when it does not exist.
func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := s.repo.GetEncounterByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get encounter %s: %w", id, err)
	}
	return enc, nil
}

func (s *Service) SaveEncounter(ctx context.Context, enc *Encounter) error {
	if enc.VisitID == uuid.Nil {
		return fmt.Errorf("visit_id is required")
	}
	if enc.EncounterTypeID == uuid.Nil {
		return fmt.Errorf("encounter_type_id is required")
	}
	if enc.EncounterDatetime.IsZero() {
		enc.EncounterDatetime = s.now()
	}
	return s.repo.SaveEncounter(ctx, enc)
}

// SaveEncounters saves the encounters in one transaction.
func (s *Service) SaveEncounters(ctx context.Context, encs []*Encounter) error {
	return s.repo.WithinTx(ctx, func(ctx context.Context) error {
		for _, enc := range encs {
			if err := s.SaveEncounter(ctx, enc); err != nil {
				return fmt.Errorf("save encounter %s: %w", enc.ID, err)
			}
		}
		return nil
	})
}

// LoadVisitGraph loads the visit and all of its encounters.
func (s *Service) LoadVisitGraph(ctx context.Context, visitID uuid.UUID) (*VisitGraph, error) {
	v, err := s.repo.GetVisit(ctx, visitID)
	if err != nil {
		return nil, fmt.Errorf("get visit %s: %w", visitID, err)
	}
	encs, err := s.repo.ListVisitEncounters(ctx, visitID)
	if err != nil {
		return nil, fmt.Errorf("list encounters of visit %s: %w", visitID, err)
	}
	return NewVisitGraph(v, encs), nil
}

// FindOrCreateOpenVisit returns the patient's open visit of the given type,
// starting a new one at startedAt when none is open.
func (s *Service) FindOrCreateOpenVisit(ctx context.Context, patientID uuid.UUID, visitType string, startedAt time.Time) (*Visit, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	v, err := s.repo.FindOpenVisit(ctx, patientID, visitType)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find open visit: %w", err)
	}
	v = &Visit{
		ID:        uuid.New(),
		PatientID: patientID,
		VisitType: visitType,
		StartedAt: startedAt,
		CreatedAt: s.now(),
	}
	if err := s.repo.SaveVisit(ctx, v); err != nil {
		return nil, fmt.Errorf("save visit: %w", err)
	}
	return v, nil
}
