package constants

// RunStatus is the canonical lifecycle status for rows in the run table.
type RunStatus string

// Stable values (store these exact strings in the DB).
const (
	RunStatusQueued     RunStatus = "queued"     // created, not yet picked up
	RunStatusProcessing RunStatus = "processing" // pipeline in flight
	RunStatusCompleted  RunStatus = "completed"  // terminal success
	RunStatusFailed     RunStatus = "failed"     // terminal failure
)

// CanTransition reports whether a status change is legal. The lifecycle is
// strictly queued -> processing -> completed|failed; terminal states are
// never re-entered and processing is never skipped.
func (s RunStatus) CanTransition(to RunStatus) bool {
	switch s {
	case RunStatusQueued:
		return to == RunStatusProcessing
	case RunStatusProcessing:
		return to == RunStatusCompleted || to == RunStatusFailed
	default:
		return false
	}
}

// Terminal reports whether the status is a terminal one.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunMode selects the extraction behavior for a run.
type RunMode string

const (
	RunModeTemplate   RunMode = "template"   // extraction constrained to a template's JSON schema
	RunModeEverything RunMode = "everything" // surface all detected blocks, no schema
)

// Provider identifies the OCR backend used for a run.
type Provider string

const (
	ProviderMistral Provider = "mistral" // combined OCR + structured annotation
	ProviderPaddle  Provider = "paddle"  // layout-parsing OCR, no annotation capability
)
