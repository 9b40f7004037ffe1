package accession

import (
	"fmt"
	"strings"
	"time"
)

// DataFormatError reports an accession field that could not be parsed. The
// whole accession is abandoned and may be replayed once the LIS data is fixed.
type DataFormatError struct {
	Field string
	Value string
	Err   error
}

func (e *DataFormatError) Error() string {
	return fmt.Sprintf("accession: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *DataFormatError) Unwrap() error { return e.Err }

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// storedPrecision is the resolution of a Postgres timestamptz.
const storedPrecision = time.Microsecond

// ParseDateTime parses an LIS date/time. Values without a zone are read as UTC.
// The result is truncated to storedPrecision so it compares equal to the same
// value read back from the database.
func ParseDateTime(field, value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	var lastErr error
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.Truncate(storedPrecision), nil
		}
		lastErr = err
	}
	return time.Time{}, &DataFormatError{Field: field, Value: value, Err: lastErr}
}

// ReportTime returns the time the accession was reported.
func (a *Accession) ReportTime() (time.Time, error) {
	return ParseDateTime("accession dateTime", a.DateTime)
}

// ReportTime returns the time the result was reported. Referred-out results
// without their own date/time take the accession's. ok is false when the
// result has not been reported yet.
func (t TestResult) ReportTime(acc *Accession) (at time.Time, ok bool, err error) {
	raw := t.DateTime
	if strings.TrimSpace(raw) == "" {
		if !t.ReferredOut {
			return time.Time{}, false, nil
		}
		raw = acc.DateTime
	}
	at, err = ParseDateTime("test dateTime", raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}
