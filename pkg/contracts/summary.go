package contracts

import "time"

// Phase identifies where in the per-item pipeline a failure occurred.
type Phase string

// Phase constants.
const (
	PhaseRecovery    Phase = "RECOVERY"
	PhaseDecision    Phase = "DECISION"
	PhaseSubmission  Phase = "SUBMISSION"
	PhaseAttestation Phase = "ATTESTATION"
)

// ItemError records a single item's failure with enough detail to
// distinguish "skipped by policy" from "failed after retries" from
// "pending recovery".
type ItemError struct {
	ItemID string `json:"item_id"`
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason"`
}

// RunSummary aggregates per-item outcomes for one run. Individual item
// failures never abort a run; they land in Errors instead.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type RunSummary struct {
	RunID     string    `json:"run_id"`
	SourceKey string    `json:"source_key"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	Decided   int `json:"decided"`
	Submitted int `json:"submitted"`
	Skipped   int `json:"skipped"`
	Simulated int `json:"simulated"`
	Recovered int `json:"recovered"`

	Errors []ItemError `json:"errors,omitempty"`
}

// RecordError appends an item failure to the summary.
func (s *RunSummary) RecordError(itemID string, phase Phase, reason string) {
	s.Errors = append(s.Errors, ItemError{ItemID: itemID, Phase: phase, Reason: reason})
}
