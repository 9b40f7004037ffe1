package accession

import (
	"strings"
)

// StatusCanceled is the LIS status of a test withdrawn from the accession.
const StatusCanceled = "Canceled"

// Accession is one lab order as reported by the LIS at fetch time.
type Accession struct {
	AccessionUUID     string       `json:"accessionUuid"`
	PatientUUID       string       `json:"patientUuid"`
	PatientFirstName  string       `json:"patientFirstName,omitempty"`
	PatientLastName   string       `json:"patientLastName,omitempty"`
	PatientIdentifier string       `json:"patientIdentifier,omitempty"`
	DateTime          string       `json:"dateTime"`
	HealthCenter      string       `json:"healthCenter"`
	AccessionNotes    []Note       `json:"accessionNotes,omitempty"`
	TestDetails       []TestResult `json:"testDetails"`
}

// Note is a free-text remark attached by the lab.
type Note struct {
	Note         string `json:"note"`
	ProviderUUID string `json:"providerUuid,omitempty"`
	DateTime     string `json:"dateTime,omitempty"`
}

// TestResult is one test line of an accession. PanelUUID is set when the
// test was ordered as a member of a panel.
type TestResult struct {
	TestName         string   `json:"testName,omitempty"`
	TestUUID         string   `json:"testUuid"`
	PanelUUID        string   `json:"panelUuid,omitempty"`
	PanelName        string   `json:"panelName,omitempty"`
	Units            string   `json:"testUnitOfMeasurement,omitempty"`
	MinNormal        *float64 `json:"minNormal,omitempty"`
	MaxNormal        *float64 `json:"maxNormal,omitempty"`
	Result           string   `json:"result,omitempty"`
	Notes            []string `json:"notes,omitempty"`
	ResultType       string   `json:"resultType,omitempty"`
	ProviderUUID     string   `json:"providerUuid,omitempty"`
	DateTime         string   `json:"dateTime,omitempty"`
	Status           string   `json:"status,omitempty"`
	Abnormal         bool     `json:"abnormal"`
	ReferredOut      bool     `json:"referredOut"`
	UploadedFileName string   `json:"uploadedFileName,omitempty"`
}

// Grouping says whether a result stands alone or belongs to a panel. It is
// either PlainTest or PanelMember.
type Grouping interface {
	isGrouping()
}

// PlainTest is a result ordered on its own.
type PlainTest struct{}

// PanelMember is a result ordered as part of the panel PanelUUID.
type PanelMember struct {
	PanelUUID string
}

func (PlainTest) isGrouping()   {}
func (PanelMember) isGrouping() {}

// Grouping returns the result's grouping.
func (t TestResult) Grouping() Grouping {
	if strings.TrimSpace(t.PanelUUID) == "" {
		return PlainTest{}
	}
	return PanelMember{PanelUUID: t.PanelUUID}
}

// OrderConceptUUID returns the concept the result was ordered under: the
// panel for a panel member, the test otherwise.
func (t TestResult) OrderConceptUUID() string {
	if g, ok := t.Grouping().(PanelMember); ok {
		return g.PanelUUID
	}
	return t.TestUUID
}

// IsCancelled reports whether the LIS withdrew the test.
func (t TestResult) IsCancelled() bool {
	return t.Status == StatusCanceled
}

// HasReportTime reports whether the LIS has reported a date/time for the result.
func (t TestResult) HasReportTime() bool {
	return strings.TrimSpace(t.DateTime) != ""
}

// NotesText joins the result notes into one block, or returns "" when there
// are none.
func (t TestResult) NotesText() string {
	var parts []string
	for _, n := range t.Notes {
		if s := strings.TrimSpace(n); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// OrderConcepts returns the distinct panel-or-test concepts of the
// non-cancelled tests, in first-seen order.
func (a *Accession) OrderConcepts() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range a.TestDetails {
		if t.IsCancelled() {
			continue
		}
		c := t.OrderConceptUUID()
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
