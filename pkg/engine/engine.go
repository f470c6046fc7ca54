// Package engine defines the decision engine contract and the two
// shipped implementations: an LLM-backed HTTP engine and a
// deterministic rules engine.
package engine

import (
	"context"

	"github.com/quorumworks/steward/pkg/contracts"
)

// Engine produces a Decision for one proposal. Implementations must
// not mutate external state; a failed decision is recoverable per item
// and never fatal to a run.
type Engine interface {
	Decide(ctx context.Context, p contracts.Proposal) (*contracts.Decision, error)
}
