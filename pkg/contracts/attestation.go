package contracts

import "time"

// AttestationRecord is the signed, submitted proof that a decision was
// made and acted upon. Constructed after a successful execution-surface
// submission, signed once, written once to the ledger. Never updated or
// revoked by this system.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type AttestationRecord struct {
	UID                 string    `json:"uid"`
	SignerAddress       string    `json:"signer_address"`
	ItemID              string    `json:"item_id"`
	SourceKey           string    `json:"source_key"`
	Verdict             Verdict   `json:"verdict"`
	DecisionDigest      string    `json:"decision_digest"`
	SubmissionReference string    `json:"submission_reference"`
	CreatedAt           time.Time `json:"created_at"`
}
