package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/elisfeed/internal/domain/accession"
	"github.com/ehr/elisfeed/internal/domain/record"
)

// EngineConfig holds the reference values every accession is reconciled
// against.
type EngineConfig struct {
	ResultEncounterType *record.EncounterType
	LabSystemProvider   *record.Provider
}

// ResolveEngineConfig looks up the lab-system provider and the result
// encounter type. A missing value is a ConfigurationError.
func ResolveEngineConfig(ctx context.Context, lookup record.Lookup, labSystemIdentifier, resultEncounterType string) (EngineConfig, error) {
	provider, err := lookup.ProviderByIdentifier(ctx, labSystemIdentifier)
	if err != nil {
		return EngineConfig{}, &ConfigurationError{
			Setting: "lab system provider " + labSystemIdentifier,
			Err:     err,
		}
	}
	encType, err := lookup.EncounterTypeByName(ctx, resultEncounterType)
	if err != nil {
		return EngineConfig{}, &ConfigurationError{
			Setting: "result encounter type " + resultEncounterType,
			Err:     err,
		}
	}
	return EngineConfig{ResultEncounterType: encType, LabSystemProvider: provider}, nil
}

// Lookup is the reference data the engine reads while reconciling.
type Lookup interface {
	ProviderLookup
	ConceptByUUID(ctx context.Context, conceptUUID string) (*record.Concept, error)
}

// Engine reconciles accession results into a visit's result encounters.
// An Engine holds no per-accession state and may be shared; the visit graph
// passed to ReconcileAccession must not be used concurrently.
type Engine struct {
	cfg    EngineConfig
	lookup Lookup
	logger zerolog.Logger
}

func NewEngine(cfg EngineConfig, lookup Lookup, logger zerolog.Logger) (*Engine, error) {
	if cfg.ResultEncounterType == nil {
		return nil, &ConfigurationError{Setting: "result encounter type", Err: errors.New("not set")}
	}
	if cfg.LabSystemProvider == nil {
		return nil, &ConfigurationError{Setting: "lab system provider", Err: errors.New("not set")}
	}
	return &Engine{
		cfg:    cfg,
		lookup: lookup,
		logger: logger.With().Str("component", "reconcile").Logger(),
	}, nil
}

// Result is the outcome of reconciling one accession.
type Result struct {
	// Mutated lists each created or changed encounter once, in the order
	// they were first touched.
	Mutated             []*record.Encounter
	EncountersCreated   int
	ObservationsCreated int
	ObservationsVoided  int
	Warnings            []Warning
}

type result struct {
	Result
	seen map[uuid.UUID]bool
}

func (r *result) touch(enc *record.Encounter) {
	if r.seen[enc.ID] {
		return
	}
	r.seen[enc.ID] = true
	r.Mutated = append(r.Mutated, enc)
}

func (r *result) warn(kind WarningKind, t accession.TestResult, detail string) {
	r.Warnings = append(r.Warnings, Warning{
		Kind:      kind,
		TestUUID:  t.TestUUID,
		PanelUUID: t.PanelUUID,
		Detail:    detail,
	})
}

// ReconcileAccession brings the visit's result encounters in line with the
// accession. orderEnc must already hold the accession's orders. New result
// encounters are attached to graph. The caller persists Result.Mutated.
//
// A malformed result date/time aborts the accession before the graph is
// touched.
func (e *Engine) ReconcileAccession(ctx context.Context, acc *accession.Accession, graph *record.VisitGraph, orderEnc *record.Encounter) (*Result, error) {
	times := make([]time.Time, len(acc.TestDetails))
	reported := make([]bool, len(acc.TestDetails))
	for i, t := range acc.TestDetails {
		at, ok, err := t.ReportTime(acc)
		if err != nil {
			return nil, err
		}
		times[i], reported[i] = at, ok
	}

	res := &result{seen: make(map[uuid.UUID]bool)}
	providers := newProviderResolver(e.lookup, e.cfg.LabSystemProvider)
	for i, t := range acc.TestDetails {
		if !reported[i] {
			e.logger.Debug().Str("test_uuid", t.TestUUID).Msg("result not reported yet")
			continue
		}
		if err := e.reconcileResult(ctx, res, providers, graph, orderEnc, t, times[i]); err != nil {
			return nil, err
		}
	}
	return &res.Result, nil
}

func (e *Engine) reconcileResult(ctx context.Context, res *result, providers *providerResolver,
	graph *record.VisitGraph, orderEnc *record.Encounter, t accession.TestResult, at time.Time) error {
	order := findOrder(orderEnc, t)
	if order == nil {
		res.warn(WarningOrderNotFound, t, fmt.Sprintf("no active order for concept %s in encounter %s", t.OrderConceptUUID(), orderEnc.ID))
		return nil
	}
	ok, err := e.conceptsExist(ctx, res, t)
	if err != nil || !ok {
		return err
	}
	provider, err := providers.resolve(ctx, t.ProviderUUID)
	if err != nil {
		return err
	}

	candidates := graph.EncountersOfType(e.cfg.ResultEncounterType.ID)
	prior, priorEnc := findExistingObservation(candidates, t, order)
	if prior != nil && prior.ObsDatetime.Equal(at) {
		return nil
	}

	if prior != nil {
		res.ObservationsVoided += voidPrior(priorEnc, prior, at)
		res.touch(priorEnc)
	}

	enc, created := findOrCreateEncounter(graph, provider.ID, e.cfg.ResultEncounterType.ID, orderEnc.EncounterDatetime)
	if created {
		res.EncountersCreated++
	}
	res.ObservationsCreated += len(addResultObservation(enc, t, order, at))
	res.touch(enc)
	return nil
}

// conceptsExist checks the test concept and, for a panel member, the panel
// concept. A missing concept is recorded as a warning.
func (e *Engine) conceptsExist(ctx context.Context, res *result, t accession.TestResult) (bool, error) {
	concepts := []string{t.TestUUID}
	if g, ok := t.Grouping().(accession.PanelMember); ok {
		concepts = append(concepts, g.PanelUUID)
	}
	for _, c := range concepts {
		_, err := e.lookup.ConceptByUUID(ctx, c)
		if errors.Is(err, record.ErrNotFound) {
			res.warn(WarningConceptNotFound, t, "unknown concept "+c)
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("lookup concept %s: %w", c, err)
		}
	}
	return true, nil
}

// voidPrior voids the superseded observation. A panel group left without
// active members is voided with it.
func voidPrior(enc *record.Encounter, prior *record.Observation, at time.Time) int {
	n := enc.VoidObservation(prior.ID, record.VoidReasonUpdated, at)
	if prior.ParentID != nil && len(enc.GroupMembers(*prior.ParentID)) == 0 {
		n += enc.VoidObservation(*prior.ParentID, record.VoidReasonUpdated, at)
	}
	return n
}
