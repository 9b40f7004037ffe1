package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEvent(t *testing.T) {
	before := testutil.ToFloat64(eventsTotal.WithLabelValues(OutcomeSkipped))
	RecordEvent(OutcomeSkipped)
	if got := testutil.ToFloat64(eventsTotal.WithLabelValues(OutcomeSkipped)); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}

func TestRecordFailedEventRetry(t *testing.T) {
	ok := testutil.ToFloat64(failedEventRetries.WithLabelValues(OutcomeProcessed))
	failed := testutil.ToFloat64(failedEventRetries.WithLabelValues(OutcomeFailed))

	RecordFailedEventRetry(true)
	RecordFailedEventRetry(false)
	RecordFailedEventRetry(false)

	if got := testutil.ToFloat64(failedEventRetries.WithLabelValues(OutcomeProcessed)); got != ok+1 {
		t.Errorf("expected %v processed, got %v", ok+1, got)
	}
	if got := testutil.ToFloat64(failedEventRetries.WithLabelValues(OutcomeFailed)); got != failed+2 {
		t.Errorf("expected %v failed, got %v", failed+2, got)
	}
}

func TestRecordReconciliation(t *testing.T) {
	created := testutil.ToFloat64(observationsTotal.WithLabelValues("created"))
	voided := testutil.ToFloat64(observationsTotal.WithLabelValues("voided"))
	encs := testutil.ToFloat64(encountersCreated)

	RecordReconciliation(3, 1, 1)

	if got := testutil.ToFloat64(observationsTotal.WithLabelValues("created")); got != created+3 {
		t.Errorf("expected %v created, got %v", created+3, got)
	}
	if got := testutil.ToFloat64(observationsTotal.WithLabelValues("voided")); got != voided+1 {
		t.Errorf("expected %v voided, got %v", voided+1, got)
	}
	if got := testutil.ToFloat64(encountersCreated); got != encs+1 {
		t.Errorf("expected %v encounters, got %v", encs+1, got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	RecordWarning("order_not_found")
	RecordFetch(errors.New("down"), 20*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`elisfeed_reconcile_warnings_total{kind="order_not_found"}`,
		`elisfeed_fetch_duration_seconds_count{status="error"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in metrics output", want)
		}
	}
}
