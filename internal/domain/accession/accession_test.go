package accession

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/elisfeed/internal/domain/record"
)

func TestTestResult_Grouping(t *testing.T) {
	plain := TestResult{TestUUID: "hb"}
	if _, ok := plain.Grouping().(PlainTest); !ok {
		t.Errorf("expected PlainTest, got %T", plain.Grouping())
	}
	if plain.OrderConceptUUID() != "hb" {
		t.Errorf("expected order concept hb, got %s", plain.OrderConceptUUID())
	}

	member := TestResult{TestUUID: "hb", PanelUUID: "cbc"}
	g, ok := member.Grouping().(PanelMember)
	if !ok {
		t.Fatalf("expected PanelMember, got %T", member.Grouping())
	}
	if g.PanelUUID != "cbc" {
		t.Errorf("expected panel cbc, got %s", g.PanelUUID)
	}
	if member.OrderConceptUUID() != "cbc" {
		t.Errorf("expected order concept cbc, got %s", member.OrderConceptUUID())
	}

	blankPanel := TestResult{TestUUID: "hb", PanelUUID: "  "}
	if _, ok := blankPanel.Grouping().(PlainTest); !ok {
		t.Error("blank panel uuid must be treated as a plain test")
	}
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"rfc3339", "2024-05-01T10:30:00Z", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{"millis with offset", "2024-05-01T16:00:00.000+0530", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{"offset without colon", "2024-05-01T11:30:00+0100", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{"no zone", "2024-05-01T10:30:00", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{"date only", "2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"sub-microsecond truncated", "2024-05-01T10:30:00.1234567Z", time.Date(2024, 5, 1, 10, 30, 0, 123456000, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDateTime("dateTime", tt.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseDateTime_Invalid(t *testing.T) {
	_, err := ParseDateTime("test dateTime", "yesterday")
	if err == nil {
		t.Fatal("expected error")
	}
	var dfe *DataFormatError
	if !errors.As(err, &dfe) {
		t.Fatalf("expected DataFormatError, got %T", err)
	}
	if dfe.Field != "test dateTime" || dfe.Value != "yesterday" {
		t.Errorf("unexpected error fields: %+v", dfe)
	}
}

func TestTestResult_ReportTime(t *testing.T) {
	acc := &Accession{DateTime: "2024-05-01T09:00:00Z"}

	t.Run("own date", func(t *testing.T) {
		at, ok, err := TestResult{DateTime: "2024-05-01T10:00:00Z"}.ReportTime(acc)
		if err != nil || !ok {
			t.Fatalf("expected reported result, got ok=%v err=%v", ok, err)
		}
		if at.Hour() != 10 {
			t.Errorf("expected 10h, got %v", at)
		}
	})

	t.Run("blank not reported", func(t *testing.T) {
		_, ok, err := TestResult{}.ReportTime(acc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("blank date/time must not be reported")
		}
	})

	t.Run("referred out takes accession date", func(t *testing.T) {
		at, ok, err := TestResult{ReferredOut: true}.ReportTime(acc)
		if err != nil || !ok {
			t.Fatalf("expected reported result, got ok=%v err=%v", ok, err)
		}
		if at.Hour() != 9 {
			t.Errorf("expected accession time, got %v", at)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, _, err := (TestResult{DateTime: "01/05/2024"}).ReportTime(acc); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestAccession_Diff(t *testing.T) {
	enc := &record.Encounter{ID: uuid.New()}
	enc.AddOrder("hb", time.Now())
	enc.AddOrder("cbc", time.Now())
	gone := enc.AddOrder("esr", time.Now())
	gone.Void(record.VoidReasonCancelled, time.Now())

	acc := &Accession{TestDetails: []TestResult{
		{TestUUID: "hb"},
		{TestUUID: "wbc", PanelUUID: "cbc", Status: StatusCanceled},
		{TestUUID: "rbc", PanelUUID: "cbc", Status: StatusCanceled},
		{TestUUID: "esr"},
		{TestUUID: "sugar"},
		{TestUUID: "sugar"},
		{TestUUID: "urea", Status: StatusCanceled},
	}}

	d := acc.Diff(enc)
	if !d.HasDifference() {
		t.Fatal("expected a difference")
	}
	if len(d.AddedTests) != 2 || d.AddedTests[0].TestUUID != "esr" || d.AddedTests[1].TestUUID != "sugar" {
		t.Errorf("unexpected added tests: %+v", d.AddedTests)
	}
	if len(d.RemovedTests) != 1 || d.RemovedTests[0].OrderConceptUUID() != "cbc" {
		t.Errorf("unexpected removed tests: %+v", d.RemovedTests)
	}
}

func TestAccession_Diff_NoDifference(t *testing.T) {
	enc := &record.Encounter{ID: uuid.New()}
	enc.AddOrder("hb", time.Now())
	acc := &Accession{TestDetails: []TestResult{{TestUUID: "hb"}, {TestUUID: "x", Status: StatusCanceled}}}

	if acc.Diff(enc).HasDifference() {
		t.Error("expected no difference")
	}
}

func TestAccession_OrderConcepts(t *testing.T) {
	acc := &Accession{TestDetails: []TestResult{
		{TestUUID: "wbc", PanelUUID: "cbc"},
		{TestUUID: "rbc", PanelUUID: "cbc"},
		{TestUUID: "hb"},
		{TestUUID: "esr", Status: StatusCanceled},
	}}
	got := acc.OrderConcepts()
	if len(got) != 2 || got[0] != "cbc" || got[1] != "hb" {
		t.Errorf("unexpected order concepts: %v", got)
	}
}

func TestHealthCenterFilter(t *testing.T) {
	f := NewHealthCenterFilter([]string{"GAN", " sem ", ""})
	tests := []struct {
		center string
		want   bool
	}{
		{"GAN", true},
		{"gan", true},
		{"SEM", true},
		{"BAM", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := f.Passes(tt.center); got != tt.want {
			t.Errorf("Passes(%q) = %v, want %v", tt.center, got, tt.want)
		}
	}

	if !NewHealthCenterFilter(nil).Passes("anything") {
		t.Error("empty filter must accept every health center")
	}
}

func TestTestResult_NotesText(t *testing.T) {
	r := TestResult{Notes: []string{" first ", "", "second"}}
	if got := r.NotesText(); got != "first\nsecond" {
		t.Errorf("unexpected notes: %q", got)
	}
}
