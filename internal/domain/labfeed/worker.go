package labfeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/elisfeed/internal/domain/accession"
	"github.com/ehr/elisfeed/internal/domain/reconcile"
	"github.com/ehr/elisfeed/internal/domain/record"
	"github.com/ehr/elisfeed/internal/platform/feed"
	"github.com/ehr/elisfeed/internal/platform/lock"
	"github.com/ehr/elisfeed/internal/platform/metrics"
)

// Fetcher fetches accessions from the LIS.
type Fetcher interface {
	URL(path string) string
	FetchAccession(ctx context.Context, url string) (*accession.Accession, error)
}

// Filter decides whether accessions of a health center are processed.
type Filter interface {
	Passes(healthCenter string) bool
}

// IsRetryable reports whether an event that failed with err may be replayed.
// Configuration errors are not: every event would fail the same way.
func IsRetryable(err error) bool {
	var cfgErr *reconcile.ConfigurationError
	return !errors.As(err, &cfgErr)
}

// Worker processes accession events from the LIS feed.
type Worker struct {
	fetcher Fetcher
	filter  Filter
	locker  lock.Locker
	records *record.Service
	mapper  *OrderMapper
	engine  *reconcile.Engine
	logger  zerolog.Logger
}

func NewWorker(fetcher Fetcher, filter Filter, locker lock.Locker, records *record.Service, mapper *OrderMapper, engine *reconcile.Engine, logger zerolog.Logger) *Worker {
	return &Worker{
		fetcher: fetcher,
		filter:  filter,
		locker:  locker,
		records: records,
		mapper:  mapper,
		engine:  engine,
		logger:  logger.With().Str("component", "labfeed").Logger(),
	}
}

// Process fetches the accession the event points at and reconciles it.
func (w *Worker) Process(ctx context.Context, ev feed.Event) error {
	url := w.fetcher.URL(ev.Content)
	log := w.logger.With().Str("event_id", ev.ID).Str("url", url).Logger()
	log.Info().Msg("Processing event")

	start := time.Now()
	acc, err := w.fetcher.FetchAccession(ctx, url)
	metrics.RecordFetch(err, time.Since(start))
	if err != nil {
		metrics.RecordEvent(metrics.OutcomeFailed)
		return err
	}

	if !w.filter.Passes(acc.HealthCenter) {
		log.Info().Str("accession_uuid", acc.AccessionUUID).Str("health_center", acc.HealthCenter).
			Msg("skipping accession from another health center")
		metrics.RecordEvent(metrics.OutcomeSkipped)
		return nil
	}

	if err := w.ProcessAccession(ctx, acc); err != nil {
		log.Error().Err(err).Str("accession_uuid", acc.AccessionUUID).Msg("failed to process accession")
		metrics.RecordEvent(metrics.OutcomeFailed)
		return err
	}
	metrics.RecordEvent(metrics.OutcomeProcessed)
	return nil
}

// ProcessAccession upserts the accession's order-encounter and reconciles
// its results, holding the patient's lock throughout.
func (w *Worker) ProcessAccession(ctx context.Context, acc *accession.Accession) error {
	log := w.logger.With().Str("accession_uuid", acc.AccessionUUID).Logger()

	encID, err := accessionID(acc)
	if err != nil {
		return err
	}
	pid, err := patientID(acc)
	if err != nil {
		return err
	}

	release, err := w.locker.Acquire(ctx, "patient:"+pid.String())
	if err != nil {
		return err
	}
	defer release()

	orderEnc, err := w.records.GetEncounter(ctx, encID)
	if err != nil {
		return err
	}
	if orderEnc == nil {
		if orderEnc, err = w.mapper.MapToNewEncounter(ctx, acc); err != nil {
			return err
		}
		if err := w.records.SaveEncounter(ctx, orderEnc); err != nil {
			return fmt.Errorf("save order encounter: %w", err)
		}
		log.Info().Int("orders", len(orderEnc.Orders)).Msg("created order encounter")
	} else if diff := acc.Diff(orderEnc); diff.HasDifference() {
		if err := w.mapper.AddOrVoidOrderDifferences(acc, diff, orderEnc); err != nil {
			return err
		}
		if err := w.records.SaveEncounter(ctx, orderEnc); err != nil {
			return fmt.Errorf("save order encounter: %w", err)
		}
		log.Info().Int("added", len(diff.AddedTests)).Int("removed", len(diff.RemovedTests)).
			Msg("updated order encounter")
	}

	graph, err := w.records.LoadVisitGraph(ctx, orderEnc.VisitID)
	if err != nil {
		return err
	}
	current := graph.Encounter(orderEnc.ID)
	if current == nil {
		return fmt.Errorf("order encounter %s missing from visit %s", orderEnc.ID, orderEnc.VisitID)
	}
	res, err := w.engine.ReconcileAccession(ctx, acc, graph, current)
	if err != nil {
		return err
	}

	for _, warning := range res.Warnings {
		log.Warn().Str("kind", string(warning.Kind)).Str("test_uuid", warning.TestUUID).
			Str("panel_uuid", warning.PanelUUID).Msg(warning.Detail)
		metrics.RecordWarning(string(warning.Kind))
	}
	if len(res.Mutated) == 0 {
		return nil
	}
	if err := w.records.SaveEncounters(ctx, res.Mutated); err != nil {
		return err
	}
	metrics.RecordReconciliation(res.ObservationsCreated, res.ObservationsVoided, res.EncountersCreated)
	log.Info().Int("encounters", len(res.Mutated)).Int("observations_created", res.ObservationsCreated).
		Int("observations_voided", res.ObservationsVoided).Msg("reconciled results")
	return nil
}
