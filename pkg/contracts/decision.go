package contracts

import "time"

// Verdict is the enumerated outcome of the decision engine.
type Verdict string

// Verdict constants.
const (
	VerdictApprove  Verdict = "APPROVE"
	VerdictReject   Verdict = "REJECT"
	VerdictAbstain  Verdict = "ABSTAIN"
	VerdictNoAction Verdict = "NO_ACTION"
)

// Actionable reports whether the verdict requires a submission.
// NO_ACTION is a deliberate policy outcome, not a failure.
func (v Verdict) Actionable() bool {
	switch v {
	case VerdictApprove, VerdictReject, VerdictAbstain:
		return true
	default:
		return false
	}
}

// Decision captures the engine's judgment for one proposal.
// A Decision is immutable once produced; a later run supersedes it
// with a new Decision rather than mutating this one.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Decision struct {
	ItemID          string    `json:"item_id"`
	Verdict         Verdict   `json:"verdict"`
	Confidence      float64   `json:"confidence"` // 0.0 - 1.0
	Rationale       string    `json:"rationale"`
	StrategyApplied string    `json:"strategy_applied"`
	Timestamp       time.Time `json:"timestamp"`
}
