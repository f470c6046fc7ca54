package attest

import (
	"fmt"
	"time"

	"github.com/quorumworks/steward/pkg/contracts"
	"github.com/quorumworks/steward/pkg/crypto"
)

// Request carries the item-specific inputs of one attestation message.
type Request struct {
	SchemaUID           Hash32
	Recipient           Address
	RefUID              Hash32 // zero unless chaining to a prior attestation
	ItemID              string
	SourceKey           string
	Verdict             contracts.Verdict
	DecisionDigest      string
	SubmissionReference string
	Expiration          time.Time // zero = never expires
	Deadline            time.Time // signature validity cutoff
}

// payload is the canonical JSON body embedded as the message's data
// field. Additive-only evolution, same as the checkpoint schema.
type payload struct {
	ItemID              string            `json:"item_id"`
	SourceKey           string            `json:"source_key"`
	Verdict             contracts.Verdict `json:"verdict"`
	DecisionDigest      string            `json:"decision_digest"`
	SubmissionReference string            `json:"submission_reference"`
}

// BuildMessage assembles the typed-data message for req, with the
// attester address in the first field position. Each message is unique
// per item because the data field embeds the item's decision digest.
func BuildMessage(attester Address, req Request) (Message, error) {
	if req.ItemID == "" || req.SourceKey == "" {
		return Message{}, fmt.Errorf("item id and source key are required")
	}
	if req.Deadline.IsZero() {
		return Message{}, fmt.Errorf("deadline is required")
	}

	data, err := crypto.CanonicalMarshal(payload{
		ItemID:              req.ItemID,
		SourceKey:           req.SourceKey,
		Verdict:             req.Verdict,
		DecisionDigest:      req.DecisionDigest,
		SubmissionReference: req.SubmissionReference,
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode attestation payload: %w", err)
	}

	var expiration uint64
	if !req.Expiration.IsZero() {
		expiration = uint64(req.Expiration.Unix())
	}

	return Message{
		Attester:       attester,
		Schema:         req.SchemaUID,
		Recipient:      req.Recipient,
		ExpirationTime: expiration,
		Revocable:      false, // decision proofs are never revoked
		RefUID:         req.RefUID,
		Data:           data,
		Deadline:       uint64(req.Deadline.Unix()),
	}, nil
}
