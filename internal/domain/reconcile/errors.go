package reconcile

import "fmt"

// ConfigurationError means a configured reference value does not exist. Every
// event depends on the same configuration, so the worker stops on it.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("reconcile: configuration %s: %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// WarningKind classifies a skipped result.
type WarningKind string

const (
	WarningOrderNotFound   WarningKind = "order_not_found"
	WarningConceptNotFound WarningKind = "concept_not_found"
)

// Warning describes a test result that was skipped because the record does
// not hold what it refers to. Warnings never abort an accession.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	TestUUID  string      `json:"test_uuid"`
	PanelUUID string      `json:"panel_uuid,omitempty"`
	Detail    string      `json:"detail"`
}

func (w Warning) String() string {
	if w.PanelUUID != "" {
		return fmt.Sprintf("%s: test %s in panel %s: %s", w.Kind, w.TestUUID, w.PanelUUID, w.Detail)
	}
	return fmt.Sprintf("%s: test %s: %s", w.Kind, w.TestUUID, w.Detail)
}
