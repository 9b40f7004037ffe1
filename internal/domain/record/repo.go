package record

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when the requested row does not exist.
var ErrNotFound = errors.New("record: not found")

// Repository is the encounter store: visits, encounters with their orders and
// observations.
type Repository interface {
	GetEncounterByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	SaveEncounter(ctx context.Context, enc *Encounter) error
	ListVisitEncounters(ctx context.Context, visitID uuid.UUID) ([]*Encounter, error)

	// WithinTx runs fn so that every write made through the repository
	// inside it commits or fails together.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error)
	FindOpenVisit(ctx context.Context, patientID uuid.UUID, visitType string) (*Visit, error)
	SaveVisit(ctx context.Context, v *Visit) error
}

// Lookup resolves reference data: providers, concepts and encounter types.
type Lookup interface {
	ProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	ProviderByIdentifier(ctx context.Context, identifier string) (*Provider, error)
	ConceptByUUID(ctx context.Context, conceptUUID string) (*Concept, error)
	EncounterTypeByName(ctx context.Context, name string) (*EncounterType, error)
}
