// Package ledger — append-only attestation ledger.
//
// Each accepted attestation becomes a hash-chained entry; the chain has
// no deletions or mutations. The ledger is also the verifier: it
// recomputes the typed-data digest from the canonical field order and
// rejects anything that does not recover to the message's attester.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quorumworks/steward/pkg/attest"
	"github.com/quorumworks/steward/pkg/contracts"
)

// Rejection reasons. Callers distinguish these with errors.Is; the
// counter propagates them unmodified.
var (
	ErrBadSignature     = errors.New("attestation signature does not recover to attester")
	ErrExpiredDeadline  = errors.New("attestation deadline expired")
	ErrUnknownSchema    = errors.New("attestation schema not registered")
	ErrInactiveAttester = errors.New("attester is not active")
)

// Request is one signed attestation write.
type Request struct {
	Message   attest.Message
	Signature attest.Signature
}

// Entry is an immutable, hash-chained ledger entry.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Entry struct {
	Sequence    uint64         `json:"sequence"`
	UID         string         `json:"uid"`
	Attester    string         `json:"attester"`
	Schema      string         `json:"schema"`
	Data        []byte         `json:"data"`
	Signature   string         `json:"signature"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Timestamp   time.Time      `json:"timestamp"`
}

// contentHash binds every persisted field of the entry, so the chain
// walk can recompute it and detect tampering with stored data, not
// just broken prev-hash links. The data field is length-prefixed to
// keep the preimage unambiguous.
func contentHash(e Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s:%s:%s:%d:%d:", e.Sequence, e.PrevHash, e.Attester, e.Schema, e.Timestamp.UnixNano(), len(e.Data))
	h.Write(e.Data)
	fmt.Fprintf(h, ":%s", e.Signature)
	return hex.EncodeToString(h.Sum(nil))
}

// AttestationLedger is an append-only, hash-chained attestation log
// with verification at the append boundary.
type AttestationLedger struct {
	mu       sync.RWMutex
	domain   attest.Domain
	schemas  map[attest.Hash32]bool
	entries  []Entry
	headHash string
	clock    func() time.Time

	// activePolicy, when set, gates appends on the attester being
	// marked active. Installed after construction because the policy
	// source (the counter) needs the ledger first.
	activePolicy func(attest.Address) bool
}

// New creates an empty ledger verifying against the given domain.
func New(domain attest.Domain) *AttestationLedger {
	return &AttestationLedger{
		domain:   domain,
		schemas:  make(map[attest.Hash32]bool),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *AttestationLedger) WithClock(clock func() time.Time) *AttestationLedger {
	l.clock = clock
	return l
}

// RegisterSchema allows attestations against the given schema UID.
func (l *AttestationLedger) RegisterSchema(uid attest.Hash32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.schemas[uid] = true
}

// SetActivePolicy installs the attester-active gate.
func (l *AttestationLedger) SetActivePolicy(policy func(attest.Address) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activePolicy = policy
}

// Attest verifies and appends one attestation, returning its UID.
// Rejections surface as the sentinel errors above so callers can
// distinguish a bad signature from an unknown schema from an expired
// deadline.
func (l *AttestationLedger) Attest(req Request) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	msg := req.Message

	if msg.Deadline != 0 && now.After(time.Unix(int64(msg.Deadline), 0)) {
		return "", fmt.Errorf("%w: deadline %d, now %d", ErrExpiredDeadline, msg.Deadline, now.Unix())
	}
	if !l.schemas[msg.Schema] {
		return "", fmt.Errorf("%w: %s", ErrUnknownSchema, msg.Schema.Hex())
	}
	if l.activePolicy != nil && !l.activePolicy(msg.Attester) {
		return "", fmt.Errorf("%w: %s", ErrInactiveAttester, msg.Attester.Hex())
	}

	digest := attest.SigningDigest(l.domain, msg)
	recovered, err := attest.RecoverSigner(digest, req.Signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if recovered != msg.Attester {
		return "", fmt.Errorf("%w: recovered %s, attester %s", ErrBadSignature, recovered.Hex(), msg.Attester.Hex())
	}

	entry := Entry{
		Sequence:  uint64(len(l.entries)) + 1,
		Attester:  msg.Attester.Hex(),
		Schema:    msg.Schema.Hex(),
		Data:      msg.Data,
		Signature: req.Signature.Hex(),
		PrevHash:  l.headHash,
		Timestamp: now.UTC(),
	}
	entry.ContentHash = contentHash(entry)
	entry.UID = entry.ContentHash
	l.entries = append(l.entries, entry)
	l.headHash = entry.ContentHash
	return entry.UID, nil
}

// Record decodes the entry's data payload into the domain attestation
// record.
func (e Entry) Record() (contracts.AttestationRecord, error) {
	var p struct {
		ItemID              string            `json:"item_id"`
		SourceKey           string            `json:"source_key"`
		Verdict             contracts.Verdict `json:"verdict"`
		DecisionDigest      string            `json:"decision_digest"`
		SubmissionReference string            `json:"submission_reference"`
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return contracts.AttestationRecord{}, fmt.Errorf("decode entry %d data: %w", e.Sequence, err)
	}
	return contracts.AttestationRecord{
		UID:                 e.UID,
		SignerAddress:       e.Attester,
		ItemID:              p.ItemID,
		SourceKey:           p.SourceKey,
		Verdict:             p.Verdict,
		DecisionDigest:      p.DecisionDigest,
		SubmissionReference: p.SubmissionReference,
		CreatedAt:           e.Timestamp,
	}, nil
}

// Get returns the entry at the given sequence (1-based).
func (l *AttestationLedger) Get(seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, fmt.Errorf("no entry at sequence %d", seq)
	}
	return l.entries[seq-1], nil
}

// Entries returns a snapshot of all entries in order.
func (l *AttestationLedger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Length returns the number of entries.
func (l *AttestationLedger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the current chain head hash.
func (l *AttestationLedger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Verify walks the hash chain, recomputing every content hash from the
// entry's persisted fields, and reports the first break, if any.
func (l *AttestationLedger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := "genesis"
	for i, e := range l.entries {
		if e.PrevHash != prev {
			return false, fmt.Sprintf("entry %d prev_hash mismatch", i+1)
		}
		if got := contentHash(e); got != e.ContentHash {
			return false, fmt.Sprintf("entry %d content hash mismatch", i+1)
		}
		if e.UID != e.ContentHash {
			return false, fmt.Sprintf("entry %d uid does not match content hash", i+1)
		}
		prev = e.ContentHash
	}
	if len(l.entries) > 0 && l.headHash != prev {
		return false, "head hash does not match last entry"
	}
	return true, ""
}
