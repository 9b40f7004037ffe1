package labfeed

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/elisfeed/internal/domain/accession"
	"github.com/ehr/elisfeed/internal/domain/reconcile"
	"github.com/ehr/elisfeed/internal/domain/record"
	"github.com/ehr/elisfeed/internal/platform/feed"
	"github.com/ehr/elisfeed/internal/platform/lock"
)

type fakeFetcher struct {
	accessions map[string]*accession.Accession
	err        error
}

func (f *fakeFetcher) URL(path string) string { return "http://lis" + path }

func (f *fakeFetcher) FetchAccession(_ context.Context, url string) (*accession.Accession, error) {
	if f.err != nil {
		return nil, f.err
	}
	acc, ok := f.accessions[url]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *acc
	return &cp, nil
}

type testEnv struct {
	store      *record.MemoryStore
	records    *record.Service
	fetcher    *fakeFetcher
	worker     *Worker
	orderType  *record.EncounterType
	resultType *record.EncounterType
	labSystem  *record.Provider
}

func newTestEnv(t *testing.T, centers ...string) *testEnv {
	t.Helper()
	env := &testEnv{
		store:      record.NewMemoryStore(),
		fetcher:    &fakeFetcher{accessions: map[string]*accession.Accession{}},
		orderType:  &record.EncounterType{ID: uuid.New(), Name: "LAB_ORDER"},
		resultType: &record.EncounterType{ID: uuid.New(), Name: "LAB_RESULT"},
		labSystem:  &record.Provider{ID: uuid.New(), Identifier: "LABSYSTEM"},
	}
	env.store.AddEncounterType(env.orderType)
	env.store.AddEncounterType(env.resultType)
	env.store.AddProvider(env.labSystem)
	for _, c := range []string{"hb", "esr", "cbc", "wbc", "rbc"} {
		env.store.AddConcept(&record.Concept{UUID: c})
	}
	env.records = record.NewService(env.store)

	cfg, err := reconcile.ResolveEngineConfig(context.Background(), env.store, "LABSYSTEM", "LAB_RESULT")
	if err != nil {
		t.Fatal(err)
	}
	engine, err := reconcile.NewEngine(cfg, env.store, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	env.worker = NewWorker(
		env.fetcher,
		accession.NewHealthCenterFilter(centers),
		lock.NewLocalLocker(),
		env.records,
		NewOrderMapper(env.records, env.orderType, "LAB_VISIT"),
		engine,
		zerolog.Nop(),
	)
	return env
}

func (env *testEnv) publish(acc *accession.Accession) feed.Event {
	path := "/openelis/ws/rest/accession/" + acc.AccessionUUID
	env.fetcher.accessions[env.fetcher.URL(path)] = acc
	return feed.Event{ID: "tag:" + acc.AccessionUUID, Content: path}
}

func (env *testEnv) visitEncounters(t *testing.T, accUUID string) []*record.Encounter {
	t.Helper()
	orderEnc, err := env.records.GetEncounter(context.Background(), uuid.MustParse(accUUID))
	if err != nil || orderEnc == nil {
		t.Fatalf("expected order encounter, got %v err=%v", orderEnc, err)
	}
	g, err := env.records.LoadVisitGraph(context.Background(), orderEnc.VisitID)
	if err != nil {
		t.Fatal(err)
	}
	return g.Encounters()
}

func sampleAccession(patient string, tests ...accession.TestResult) *accession.Accession {
	return &accession.Accession{
		AccessionUUID: uuid.NewString(),
		PatientUUID:   patient,
		DateTime:      "2024-05-01T09:00:00Z",
		HealthCenter:  "GAN",
		TestDetails:   tests,
	}
}

func TestWorker_NewAccession(t *testing.T) {
	env := newTestEnv(t)
	acc := sampleAccession(uuid.NewString(),
		accession.TestResult{TestUUID: "hb", Result: "12", DateTime: "2024-05-01T10:00:00Z"},
		accession.TestResult{TestUUID: "wbc", PanelUUID: "cbc", Result: "7000", DateTime: "2024-05-01T10:00:00Z"},
		accession.TestResult{TestUUID: "esr"},
	)

	if err := env.worker.Process(context.Background(), env.publish(acc)); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	encs := env.visitEncounters(t, acc.AccessionUUID)
	if len(encs) != 2 {
		t.Fatalf("expected order and result encounters, got %d", len(encs))
	}
	var orderEnc, resultEnc *record.Encounter
	for _, e := range encs {
		switch e.EncounterTypeID {
		case env.orderType.ID:
			orderEnc = e
		case env.resultType.ID:
			resultEnc = e
		}
	}
	if orderEnc == nil || resultEnc == nil {
		t.Fatal("expected one encounter of each type")
	}
	if len(orderEnc.ActiveOrders()) != 3 {
		t.Errorf("expected orders for hb, cbc and esr, got %d", len(orderEnc.ActiveOrders()))
	}
	if !resultEnc.HasProvider(env.labSystem.ID) {
		t.Error("expected result encounter attributed to the lab system")
	}
	if got := len(resultEnc.Observations); got != 3 {
		t.Errorf("expected hb, cbc group and wbc observations, got %d", got)
	}
}

func TestWorker_RedeliveryWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	acc := sampleAccession(uuid.NewString(),
		accession.TestResult{TestUUID: "hb", Result: "12", DateTime: "2024-05-01T10:00:00Z"},
	)
	ev := env.publish(acc)
	if err := env.worker.Process(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	saves := env.store.SaveCount()

	if err := env.worker.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if env.store.SaveCount() != saves {
		t.Errorf("expected no writes on redelivery, got %d more", env.store.SaveCount()-saves)
	}
}

func TestWorker_UpdateAndCancel(t *testing.T) {
	env := newTestEnv(t)
	patient := uuid.NewString()
	acc := sampleAccession(patient,
		accession.TestResult{TestUUID: "hb", Result: "12", DateTime: "2024-05-01T10:00:00Z"},
		accession.TestResult{TestUUID: "esr"},
	)
	if err := env.worker.Process(context.Background(), env.publish(acc)); err != nil {
		t.Fatal(err)
	}

	updated := *acc
	updated.DateTime = "2024-05-02T09:00:00Z"
	updated.TestDetails = []accession.TestResult{
		{TestUUID: "hb", Result: "13", DateTime: "2024-05-02T10:00:00Z"},
		{TestUUID: "esr", Status: accession.StatusCanceled},
		{TestUUID: "rbc", PanelUUID: "cbc", Result: "4.4", DateTime: "2024-05-02T10:00:00Z"},
	}
	if err := env.worker.Process(context.Background(), env.publish(&updated)); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	orderEnc, _ := env.records.GetEncounter(context.Background(), uuid.MustParse(acc.AccessionUUID))
	if orderEnc.ActiveOrderForConcept("esr") != nil {
		t.Error("expected cancelled esr order to be voided")
	}
	if orderEnc.ActiveOrderForConcept("cbc") == nil {
		t.Error("expected new cbc order")
	}

	var active, voided int
	for _, e := range env.visitEncounters(t, acc.AccessionUUID) {
		for _, o := range e.Observations {
			if o.ConceptUUID != "hb" {
				continue
			}
			if o.Voided {
				voided++
			} else {
				active++
			}
		}
	}
	if active != 1 || voided != 1 {
		t.Errorf("expected one active and one voided hb observation, got %d/%d", active, voided)
	}
}

func TestWorker_SkipsOtherHealthCenters(t *testing.T) {
	env := newTestEnv(t, "SEM")
	acc := sampleAccession(uuid.NewString(), accession.TestResult{TestUUID: "hb", DateTime: "2024-05-01T10:00:00Z"})

	if err := env.worker.Process(context.Background(), env.publish(acc)); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if env.store.SaveCount() != 0 {
		t.Error("expected nothing to be written for a filtered accession")
	}
}

func TestWorker_FetchErrorIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = errors.New("connection refused")

	err := env.worker.Process(context.Background(), feed.Event{ID: "1", Content: "/x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Error("expected fetch errors to be retryable")
	}
}

func TestWorker_InvalidPatient(t *testing.T) {
	env := newTestEnv(t)
	acc := sampleAccession("not-a-uuid", accession.TestResult{TestUUID: "hb", DateTime: "2024-05-01T10:00:00Z"})

	err := env.worker.Process(context.Background(), env.publish(acc))
	var dfe *accession.DataFormatError
	if !errors.As(err, &dfe) || dfe.Field != "patientUuid" {
		t.Fatalf("expected DataFormatError for patientUuid, got %v", err)
	}
}

func TestWorker_MalformedResultDateKeepsOrderEncounter(t *testing.T) {
	env := newTestEnv(t)
	acc := sampleAccession(uuid.NewString(), accession.TestResult{TestUUID: "hb", DateTime: "garbage"})

	err := env.worker.Process(context.Background(), env.publish(acc))
	if err == nil || !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	encs := env.visitEncounters(t, acc.AccessionUUID)
	if len(encs) != 1 || encs[0].EncounterTypeID != env.orderType.ID {
		t.Errorf("expected only the order encounter to be saved, got %d encounters", len(encs))
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(&reconcile.ConfigurationError{Setting: "x", Err: errors.New("missing")}) {
		t.Error("configuration errors must not be retried")
	}
	if !IsRetryable(&accession.DataFormatError{Field: "f", Err: errors.New("bad")}) {
		t.Error("data format errors are retryable")
	}
}

func TestOrderMapper_MapToNewEncounter_ReusesOpenVisit(t *testing.T) {
	env := newTestEnv(t)
	mapper := NewOrderMapper(env.records, env.orderType, "LAB_VISIT")
	patient := uuid.NewString()

	first, err := mapper.MapToNewEncounter(context.Background(), sampleAccession(patient, accession.TestResult{TestUUID: "hb"}))
	if err != nil {
		t.Fatal(err)
	}
	second, err := mapper.MapToNewEncounter(context.Background(), sampleAccession(patient, accession.TestResult{TestUUID: "esr"}))
	if err != nil {
		t.Fatal(err)
	}
	if first.VisitID != second.VisitID {
		t.Error("expected accessions of one patient to share the open visit")
	}
	if first.ID == second.ID {
		t.Error("expected one order encounter per accession")
	}
}
