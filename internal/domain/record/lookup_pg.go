package record

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type lookupPG struct {
	pool *pgxpool.Pool
}

// NewLookup returns a Lookup backed by the provider, concept and
// encounter_type tables.
func NewLookup(pool *pgxpool.Pool) Lookup {
	return &lookupPG{pool: pool}
}

func (l *lookupPG) ProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := l.pool.QueryRow(ctx, `SELECT id, identifier, name FROM provider WHERE id = $1 AND retired = FALSE`, id).
		Scan(&p.ID, &p.Identifier, &p.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (l *lookupPG) ProviderByIdentifier(ctx context.Context, identifier string) (*Provider, error) {
	var p Provider
	err := l.pool.QueryRow(ctx, `SELECT id, identifier, name FROM provider WHERE identifier = $1 AND retired = FALSE`, identifier).
		Scan(&p.ID, &p.Identifier, &p.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (l *lookupPG) ConceptByUUID(ctx context.Context, conceptUUID string) (*Concept, error) {
	var c Concept
	err := l.pool.QueryRow(ctx, `SELECT uuid, name, datatype, is_set FROM concept WHERE uuid = $1`, conceptUUID).
		Scan(&c.UUID, &c.Name, &c.Datatype, &c.IsSet)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (l *lookupPG) EncounterTypeByName(ctx context.Context, name string) (*EncounterType, error) {
	var et EncounterType
	err := l.pool.QueryRow(ctx, `SELECT id, name FROM encounter_type WHERE name = $1`, name).
		Scan(&et.ID, &et.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &et, nil
}
