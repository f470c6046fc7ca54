package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/quorumworks/steward/pkg/contracts"
)

// Hasher provides deterministic hashing for steward artifacts.
type Hasher interface {
	Hash(v interface{}) (string, error)
}

// CanonicalHasher hashes the JCS canonical form of a value.
type CanonicalHasher struct{}

func NewCanonicalHasher() *CanonicalHasher {
	return &CanonicalHasher{}
}

func (h *CanonicalHasher) Hash(v interface{}) (string, error) {
	b, err := CanonicalMarshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical serialization failed: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// DigestDecision computes the content digest embedded in attestations.
// Rationale text is NFC-normalized first so the digest is stable across
// engines that emit different Unicode compositions. The timestamp is
// excluded: two runs producing the same judgment hash identically.
func DigestDecision(d *contracts.Decision) (string, error) {
	stable := struct {
		ItemID          string            `json:"item_id"`
		Verdict         contracts.Verdict `json:"verdict"`
		Confidence      float64           `json:"confidence"`
		Rationale       string            `json:"rationale"`
		StrategyApplied string            `json:"strategy_applied"`
	}{
		ItemID:          d.ItemID,
		Verdict:         d.Verdict,
		Confidence:      d.Confidence,
		Rationale:       NormalizeText(d.Rationale),
		StrategyApplied: d.StrategyApplied,
	}
	return (&CanonicalHasher{}).Hash(stable)
}
