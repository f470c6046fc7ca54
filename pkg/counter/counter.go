package counter

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/quorumworks/steward/pkg/attest"
	"github.com/quorumworks/steward/pkg/ledger"
)

// Counter-level rejection reasons. Rejections from the underlying
// ledger are propagated unmodified so callers can distinguish them.
var (
	ErrNilLedger        = errors.New("verifying ledger must not be nil")
	ErrNotController    = errors.New("caller is not the controller")
	ErrCounterOverflow  = errors.New("attestation counter at maximum")
	ErrDeadlineMismatch = errors.New("deadline does not match signed message")
)

// VerifyingLedger is the append-only ledger the counter forwards into.
type VerifyingLedger interface {
	Attest(req ledger.Request) (string, error)
}

// LedgerCounter wraps the attestation ledger with a gas-style
// bit-packed per-signer counter: the count reflects attempted and
// accepted forwards, never rejected ones.
type LedgerCounter struct {
	mu         sync.Mutex
	controller attest.Address
	ledger     VerifyingLedger
	words      map[attest.Address]*big.Int
}

// New constructs the counter over the given ledger.
func New(controller attest.Address, l VerifyingLedger) (*LedgerCounter, error) {
	if l == nil {
		return nil, ErrNilLedger
	}
	return &LedgerCounter{
		controller: controller,
		ledger:     l,
		words:      make(map[attest.Address]*big.Int),
	}, nil
}

// word returns the signer's packed word, implicitly zero on first
// reference.
func (c *LedgerCounter) word(signer attest.Address) *big.Int {
	if w, ok := c.words[signer]; ok {
		return w
	}
	return big.NewInt(0)
}

// SetActive sets or clears the signer's active flag. Controller-only.
// The read-modify-write touches only bit 255; the count is preserved
// exactly.
func (c *LedgerCounter) SetActive(caller, signer attest.Address, active bool) error {
	if caller != c.controller {
		return fmt.Errorf("%w: %s", ErrNotController, caller.Hex())
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, count := Unpack(c.word(signer))
	w, err := Pack(active, count)
	if err != nil {
		return err
	}
	c.words[signer] = w
	return nil
}

// ForwardAttestation increments the submitter's counter and forwards
// the signed request to the underlying ledger. If the ledger rejects
// the request the increment is rolled back atomically: there is no
// state where the counter moved but the forward failed. The ledger's
// rejection is returned unmodified.
func (c *LedgerCounter) ForwardAttestation(msg attest.Message, sig attest.Signature, submitter attest.Address, deadline time.Time) (string, error) {
	if uint64(deadline.Unix()) != msg.Deadline {
		return "", fmt.Errorf("%w: %d vs %d", ErrDeadlineMismatch, deadline.Unix(), msg.Deadline)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.word(submitter)
	active, count := Unpack(prev)
	if count.Cmp(MaxCount) >= 0 {
		return "", ErrCounterOverflow
	}
	next, err := Pack(active, new(big.Int).Add(count, big.NewInt(1)))
	if err != nil {
		return "", err
	}
	c.words[submitter] = next

	uid, err := c.ledger.Attest(ledger.Request{Message: msg, Signature: sig})
	if err != nil {
		c.words[submitter] = prev
		return "", err
	}
	return uid, nil
}

// GetCount returns the signer's attestation count.
func (c *LedgerCounter) GetCount(signer attest.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, count := Unpack(c.word(signer))
	return count
}

// IsActive reports the signer's active flag.
func (c *LedgerCounter) IsActive(signer attest.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	active, _ := Unpack(c.word(signer))
	return active
}

// GetInfo returns the signer's count and active flag in one read.
func (c *LedgerCounter) GetInfo(signer attest.Address) (*big.Int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	active, count := Unpack(c.word(signer))
	return count, active
}
