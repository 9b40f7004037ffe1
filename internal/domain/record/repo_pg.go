package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/elisfeed/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const encCols = `id, visit_id, patient_id, encounter_type_id, provider_id, encounter_datetime, created_at, updated_at`

const orderCols = `id, encounter_id, concept_uuid, voided, void_reason, date_voided, created_at`

const obsCols = `id, encounter_id, concept_uuid, order_id, parent_id, obs_datetime,
	value, result_type, units, min_normal, max_normal, abnormal, referred_out, notes,
	voided, void_reason, date_voided, created_at`

func (r *repoPG) GetEncounterByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if err := r.loadChildren(ctx, []*Encounter{enc}); err != nil {
		return nil, err
	}
	return enc, nil
}

func (r *repoPG) ListVisitEncounters(ctx context.Context, visitID uuid.UUID) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter WHERE visit_id = $1 ORDER BY encounter_datetime, created_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var encs []*Encounter
	for rows.Next() {
		enc, err := scanEnc(rows)
		if err != nil {
			return nil, err
		}
		encs = append(encs, enc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, encs); err != nil {
		return nil, err
	}
	return encs, nil
}

func (r *repoPG) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// SaveEncounter upserts the encounter with its orders and observations in a
// single transaction. Rows are never deleted; voiding is persisted as an
// update of the void columns.
func (r *repoPG) SaveEncounter(ctx context.Context, enc *Encounter) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO encounter (id, visit_id, patient_id, encounter_type_id, provider_id, encounter_datetime)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO UPDATE SET
				provider_id=EXCLUDED.provider_id, encounter_datetime=EXCLUDED.encounter_datetime, updated_at=NOW()`,
			enc.ID, enc.VisitID, enc.PatientID, enc.EncounterTypeID, enc.ProviderID, enc.EncounterDatetime,
		)
		if err != nil {
			return fmt.Errorf("upsert encounter: %w", err)
		}

		for _, o := range enc.Orders {
			_, err := q.Exec(ctx, `
				INSERT INTO lab_order (id, encounter_id, concept_uuid, voided, void_reason, date_voided)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (id) DO UPDATE SET
					voided=EXCLUDED.voided, void_reason=EXCLUDED.void_reason, date_voided=EXCLUDED.date_voided`,
				o.ID, enc.ID, o.ConceptUUID, o.Voided, o.VoidReason, o.DateVoided,
			)
			if err != nil {
				return fmt.Errorf("upsert order %s: %w", o.ID, err)
			}
		}

		// Parents first so group members can reference them.
		for _, pass := range []bool{true, false} {
			for _, o := range enc.Observations {
				if o.IsTopLevel() != pass {
					continue
				}
				if err := upsertObs(ctx, q, enc.ID, o); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func upsertObs(ctx context.Context, q querier, encounterID uuid.UUID, o *Observation) error {
	_, err := q.Exec(ctx, `
		INSERT INTO observation (
			id, encounter_id, concept_uuid, order_id, parent_id, obs_datetime,
			value, result_type, units, min_normal, max_normal, abnormal, referred_out, notes,
			voided, void_reason, date_voided
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			voided=EXCLUDED.voided, void_reason=EXCLUDED.void_reason, date_voided=EXCLUDED.date_voided`,
		o.ID, encounterID, o.ConceptUUID, o.OrderID, o.ParentID, o.ObsDatetime,
		o.Value, o.ResultType, o.Units, o.MinNormal, o.MaxNormal, o.Abnormal, o.ReferredOut, o.Notes,
		o.Voided, o.VoidReason, o.DateVoided,
	)
	if err != nil {
		return fmt.Errorf("upsert observation %s: %w", o.ID, err)
	}
	return nil
}

func (r *repoPG) loadChildren(ctx context.Context, encs []*Encounter) error {
	if len(encs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(encs))
	byID := make(map[uuid.UUID]*Encounter, len(encs))
	for i, e := range encs {
		ids[i] = e.ID
		byID[e.ID] = e
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+orderCols+` FROM lab_order WHERE encounter_id = ANY($1) ORDER BY created_at`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.EncounterID, &o.ConceptUUID, &o.Voided, &o.VoidReason, &o.DateVoided, &o.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		byID[o.EncounterID].Orders = append(byID[o.EncounterID].Orders, &o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.conn(ctx).Query(ctx,
		`SELECT `+obsCols+` FROM observation WHERE encounter_id = ANY($1) ORDER BY created_at`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var o Observation
		err := rows.Scan(
			&o.ID, &o.EncounterID, &o.ConceptUUID, &o.OrderID, &o.ParentID, &o.ObsDatetime,
			&o.Value, &o.ResultType, &o.Units, &o.MinNormal, &o.MaxNormal, &o.Abnormal, &o.ReferredOut, &o.Notes,
			&o.Voided, &o.VoidReason, &o.DateVoided, &o.CreatedAt,
		)
		if err != nil {
			return err
		}
		byID[o.EncounterID].Observations = append(byID[o.EncounterID].Observations, &o)
	}
	return rows.Err()
}

const visitCols = `id, patient_id, visit_type, started_at, stopped_at, created_at`

func (r *repoPG) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

func (r *repoPG) FindOpenVisit(ctx context.Context, patientID uuid.UUID, visitType string) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `
		SELECT `+visitCols+` FROM visit
		WHERE patient_id = $1 AND visit_type = $2 AND stopped_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, patientID, visitType))
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

func (r *repoPG) SaveVisit(ctx context.Context, v *Visit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visit (id, patient_id, visit_type, started_at, stopped_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET stopped_at=EXCLUDED.stopped_at`,
		v.ID, v.PatientID, v.VisitType, v.StartedAt, v.StoppedAt,
	)
	return err
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID, &e.VisitID, &e.PatientID, &e.EncounterTypeID, &e.ProviderID, &e.EncounterDatetime,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	if err := row.Scan(&v.ID, &v.PatientID, &v.VisitType, &v.StartedAt, &v.StoppedAt, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
