package contracts

import (
	"fmt"
	"time"
)

// CheckpointSchemaVersion is the current run-checkpoint schema.
// Evolution is additive-only; stores reject checkpoints written by a
// newer major version.
const CheckpointSchemaVersion = "1.1.0"

// Outcome is the terminal state of one item within a run.
type Outcome string

// Outcome constants.
const (
	OutcomeSubmitted Outcome = "SUBMITTED"
	OutcomeSkipped   Outcome = "SKIPPED"
	OutcomeSimulated Outcome = "SIMULATED"
	OutcomeFailed    Outcome = "FAILED"
)

// InFlightEntry tracks an item that has been handed to the decision
// pipeline but has not reached a terminal state. The entry is written
// before any side effect and cleared only after the ledger write is
// acknowledged, so a crash leaves enough state to reconcile.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type InFlightEntry struct {
	EnteredAt time.Time `json:"entered_at"`

	// Set once the execution surface accepted the vote. A non-empty
	// reference with the item still in flight means the attestation
	// (not the vote) must be retried on recovery.
	SubmissionReference string  `json:"submission_reference,omitempty"`
	DecisionDigest      string  `json:"decision_digest,omitempty"`
	Verdict             Verdict `json:"verdict,omitempty"`
}

// RunCheckpoint is the durable progress record for one source key.
//
//nolint:govet // fieldalignment: struct layout matches persisted schema
type RunCheckpoint struct {
	SourceKey     string `json:"source_key"`
	SchemaVersion string `json:"schema_version"`

	InFlight  map[string]InFlightEntry `json:"in_flight"`
	Completed map[string]Outcome       `json:"completed"`

	LastRunStartedAt  time.Time `json:"last_run_started_at"`
	LastRunFinishedAt time.Time `json:"last_run_finished_at"`
}

// NewRunCheckpoint returns an empty checkpoint for the source key.
func NewRunCheckpoint(sourceKey string) *RunCheckpoint {
	return &RunCheckpoint{
		SourceKey:     sourceKey,
		SchemaVersion: CheckpointSchemaVersion,
		InFlight:      make(map[string]InFlightEntry),
		Completed:     make(map[string]Outcome),
	}
}

// Unclean reports whether the previous run ended without the shutdown
// protocol completing (started but never finished).
func (c *RunCheckpoint) Unclean() bool {
	return !c.LastRunStartedAt.IsZero() && c.LastRunStartedAt.After(c.LastRunFinishedAt)
}

// MarkInFlight records an item entering the pipeline. It is an error
// to mark an already-completed item in flight; that indicates a logic
// bug upstream, not a recoverable condition.
func (c *RunCheckpoint) MarkInFlight(itemID string, now time.Time) error {
	if _, done := c.Completed[itemID]; done {
		return fmt.Errorf("item %s already completed", itemID)
	}
	if c.InFlight == nil {
		c.InFlight = make(map[string]InFlightEntry)
	}
	if _, ok := c.InFlight[itemID]; !ok {
		c.InFlight[itemID] = InFlightEntry{EnteredAt: now}
	}
	return nil
}

// RecordDecision attaches the decision content to an in-flight item.
// It must be persisted before the vote is submitted: a recovery that
// finds the submission landed attests from these fields, and an
// attestation without them would be a content-less proof.
func (c *RunCheckpoint) RecordDecision(itemID, digest string, verdict Verdict) error {
	entry, ok := c.InFlight[itemID]
	if !ok {
		return fmt.Errorf("item %s not in flight", itemID)
	}
	entry.DecisionDigest = digest
	entry.Verdict = verdict
	c.InFlight[itemID] = entry
	return nil
}

// RecordSubmission attaches the execution surface's reference to an
// in-flight item so a later recovery can re-attest without re-voting.
func (c *RunCheckpoint) RecordSubmission(itemID, ref string) error {
	entry, ok := c.InFlight[itemID]
	if !ok {
		return fmt.Errorf("item %s not in flight", itemID)
	}
	entry.SubmissionReference = ref
	c.InFlight[itemID] = entry
	return nil
}

// Complete moves an item to its terminal state, clearing the in-flight
// entry. Maintains the invariant that the in-flight and completed sets
// never intersect.
func (c *RunCheckpoint) Complete(itemID string, outcome Outcome) {
	delete(c.InFlight, itemID)
	if c.Completed == nil {
		c.Completed = make(map[string]Outcome)
	}
	c.Completed[itemID] = outcome
}

// IsCompleted reports whether the item already reached a terminal state.
func (c *RunCheckpoint) IsCompleted(itemID string) bool {
	_, ok := c.Completed[itemID]
	return ok
}

// Invariant validates the in-flight/completed disjointness property.
func (c *RunCheckpoint) Invariant() error {
	for id := range c.InFlight {
		if _, ok := c.Completed[id]; ok {
			return fmt.Errorf("item %s is both in-flight and completed", id)
		}
	}
	return nil
}

// Clone returns a deep copy, so stores can hand out snapshots without
// aliasing the caller's maps.
func (c *RunCheckpoint) Clone() *RunCheckpoint {
	out := &RunCheckpoint{
		SourceKey:         c.SourceKey,
		SchemaVersion:     c.SchemaVersion,
		InFlight:          make(map[string]InFlightEntry, len(c.InFlight)),
		Completed:         make(map[string]Outcome, len(c.Completed)),
		LastRunStartedAt:  c.LastRunStartedAt,
		LastRunFinishedAt: c.LastRunFinishedAt,
	}
	for k, v := range c.InFlight {
		out.InFlight[k] = v
	}
	for k, v := range c.Completed {
		out.Completed[k] = v
	}
	return out
}
