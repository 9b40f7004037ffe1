package record

import (
	"time"

	"github.com/google/uuid"
)

// VoidReasonUpdated is recorded on observations superseded by a newer lab result.
const VoidReasonUpdated = "updated since by lab technician"

// VoidReasonCancelled is recorded on orders whose test was cancelled in the LIS.
const VoidReasonCancelled = "cancelled in the laboratory system"

// Provider maps to the provider table.
type Provider struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Identifier string    `db:"identifier" json:"identifier"`
	Name       string    `db:"name" json:"name"`
}

// Concept maps to the concept table. Concepts are addressed by the UUIDs the
// LIS uses for tests and panels.
type Concept struct {
	UUID     string `db:"uuid" json:"uuid"`
	Name     string `db:"name" json:"name"`
	Datatype string `db:"datatype" json:"datatype"`
	IsSet    bool   `db:"is_set" json:"is_set"`
}

// EncounterType maps to the encounter_type table.
type EncounterType struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
}

// Visit maps to the visit table.
type Visit struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	VisitType string     `db:"visit_type" json:"visit_type"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	StoppedAt *time.Time `db:"stopped_at" json:"stopped_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// IsOpen reports whether the visit has not been stopped.
func (v *Visit) IsOpen() bool { return v.StoppedAt == nil }

// Order maps to the lab_order table. An order is scoped to its order-encounter
// and identified there by the concept it was placed for.
type Order struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	EncounterID uuid.UUID  `db:"encounter_id" json:"encounter_id"`
	ConceptUUID string     `db:"concept_uuid" json:"concept_uuid"`
	Voided      bool       `db:"voided" json:"voided"`
	VoidReason  *string    `db:"void_reason" json:"void_reason,omitempty"`
	DateVoided  *time.Time `db:"date_voided" json:"date_voided,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Void marks the order inactive. Voiding an already voided order keeps its
// original reason and date.
func (o *Order) Void(reason string, at time.Time) {
	if o.Voided {
		return
	}
	o.Voided = true
	o.VoidReason = &reason
	o.DateVoided = &at
}

// Observation maps to the observation table. Relationships are kept as keys:
// the owning encounter, the order it answers and the parent group observation.
type Observation struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	EncounterID uuid.UUID  `db:"encounter_id" json:"encounter_id"`
	ConceptUUID string     `db:"concept_uuid" json:"concept_uuid"`
	OrderID     *uuid.UUID `db:"order_id" json:"order_id,omitempty"`
	ParentID    *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`
	ObsDatetime time.Time  `db:"obs_datetime" json:"obs_datetime"`
	Value       *string    `db:"value" json:"value,omitempty"`
	ResultType  *string    `db:"result_type" json:"result_type,omitempty"`
	Units       *string    `db:"units" json:"units,omitempty"`
	MinNormal   *float64   `db:"min_normal" json:"min_normal,omitempty"`
	MaxNormal   *float64   `db:"max_normal" json:"max_normal,omitempty"`
	Abnormal    bool       `db:"abnormal" json:"abnormal"`
	ReferredOut bool       `db:"referred_out" json:"referred_out"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`
	Voided      bool       `db:"voided" json:"voided"`
	VoidReason  *string    `db:"void_reason" json:"void_reason,omitempty"`
	DateVoided  *time.Time `db:"date_voided" json:"date_voided,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// IsTopLevel reports whether the observation has no parent group.
func (o *Observation) IsTopLevel() bool { return o.ParentID == nil }

// AnswersOrder reports whether the observation is linked to the given order.
func (o *Observation) AnswersOrder(orderID uuid.UUID) bool {
	return o.OrderID != nil && *o.OrderID == orderID
}

// Encounter maps to the encounter table. It carries its orders and a flat
// list of observations; grouping is expressed through Observation.ParentID.
type Encounter struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	VisitID           uuid.UUID      `db:"visit_id" json:"visit_id"`
	PatientID         uuid.UUID      `db:"patient_id" json:"patient_id"`
	EncounterTypeID   uuid.UUID      `db:"encounter_type_id" json:"encounter_type_id"`
	ProviderID        *uuid.UUID     `db:"provider_id" json:"provider_id,omitempty"`
	EncounterDatetime time.Time      `db:"encounter_datetime" json:"encounter_datetime"`
	Orders            []*Order       `json:"orders,omitempty"`
	Observations      []*Observation `json:"observations,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// HasProvider reports whether the encounter is attributed to the provider.
// An encounter with no attributed provider never matches.
func (e *Encounter) HasProvider(providerID uuid.UUID) bool {
	return e.ProviderID != nil && *e.ProviderID == providerID
}

// ActiveOrders returns the encounter's non-voided orders.
func (e *Encounter) ActiveOrders() []*Order {
	var out []*Order
	for _, o := range e.Orders {
		if !o.Voided {
			out = append(out, o)
		}
	}
	return out
}

// ActiveOrderForConcept returns the first non-voided order placed for the
// concept, or nil.
func (e *Encounter) ActiveOrderForConcept(conceptUUID string) *Order {
	for _, o := range e.Orders {
		if !o.Voided && o.ConceptUUID == conceptUUID {
			return o
		}
	}
	return nil
}

// AddOrder attaches a new order for the concept to the encounter.
func (e *Encounter) AddOrder(conceptUUID string, at time.Time) *Order {
	o := &Order{
		ID:          uuid.New(),
		EncounterID: e.ID,
		ConceptUUID: conceptUUID,
		CreatedAt:   at,
	}
	e.Orders = append(e.Orders, o)
	return o
}

// TopLevelObservations returns the non-voided observations without a parent.
func (e *Encounter) TopLevelObservations() []*Observation {
	var out []*Observation
	for _, o := range e.Observations {
		if !o.Voided && o.IsTopLevel() {
			out = append(out, o)
		}
	}
	return out
}

// GroupMembers returns the non-voided observations grouped under parentID.
func (e *Encounter) GroupMembers(parentID uuid.UUID) []*Observation {
	var out []*Observation
	for _, o := range e.Observations {
		if !o.Voided && o.ParentID != nil && *o.ParentID == parentID {
			out = append(out, o)
		}
	}
	return out
}

// Observation returns the observation with the given id, voided or not.
func (e *Encounter) Observation(id uuid.UUID) *Observation {
	for _, o := range e.Observations {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// AddObservation attaches obs to the encounter.
func (e *Encounter) AddObservation(obs *Observation) {
	obs.EncounterID = e.ID
	e.Observations = append(e.Observations, obs)
}

// VoidObservation marks the observation and all of its group members voided.
// Identity, concept and order linkage are left untouched. It returns the
// number of observations newly voided.
func (e *Encounter) VoidObservation(id uuid.UUID, reason string, at time.Time) int {
	obs := e.Observation(id)
	if obs == nil || obs.Voided {
		return 0
	}
	obs.Voided = true
	obs.VoidReason = &reason
	obs.DateVoided = &at
	n := 1
	for _, member := range e.GroupMembers(id) {
		n += e.VoidObservation(member.ID, reason, at)
	}
	return n
}
