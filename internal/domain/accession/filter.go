package accession

import "strings"

// HealthCenterFilter accepts accessions from a configured set of health
// centers. An empty filter accepts everything.
type HealthCenterFilter struct {
	centers map[string]struct{}
}

// NewHealthCenterFilter builds a filter from health-center codes. Codes are
// compared case-insensitively; blank codes are ignored.
func NewHealthCenterFilter(codes []string) *HealthCenterFilter {
	f := &HealthCenterFilter{centers: make(map[string]struct{})}
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			f.centers[strings.ToUpper(c)] = struct{}{}
		}
	}
	return f
}

// Passes reports whether accessions from the health center are processed.
func (f *HealthCenterFilter) Passes(healthCenter string) bool {
	if len(f.centers) == 0 {
		return true
	}
	_, ok := f.centers[strings.ToUpper(strings.TrimSpace(healthCenter))]
	return ok
}
