package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quorumworks/steward/pkg/contracts"
)

// Rule maps a proposal-body keyword to a fixed verdict.
type Rule struct {
	Keyword    string
	Verdict    contracts.Verdict
	Confidence float64
}

// RulesEngine is a deterministic engine for strategy profiles that pin
// behavior without an LLM, and for tests. First matching rule wins;
// no match yields NO_ACTION.
type RulesEngine struct {
	rules []Rule
	clock func() time.Time
}

// NewRulesEngine creates the engine with the given ordered rules.
func NewRulesEngine(rules []Rule) *RulesEngine {
	return &RulesEngine{rules: rules, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (e *RulesEngine) WithClock(clock func() time.Time) *RulesEngine {
	e.clock = clock
	return e
}

func (e *RulesEngine) Decide(_ context.Context, p contracts.Proposal) (*contracts.Decision, error) {
	haystack := strings.ToLower(p.Title + " " + p.Body)
	for _, r := range e.rules {
		if strings.Contains(haystack, strings.ToLower(r.Keyword)) {
			return &contracts.Decision{
				ItemID:          p.ID,
				Verdict:         r.Verdict,
				Confidence:      r.Confidence,
				Rationale:       fmt.Sprintf("matched rule keyword %q", r.Keyword),
				StrategyApplied: "rules",
				Timestamp:       e.clock().UTC(),
			}, nil
		}
	}
	return &contracts.Decision{
		ItemID:          p.ID,
		Verdict:         contracts.VerdictNoAction,
		Confidence:      1.0,
		Rationale:       "no rule matched",
		StrategyApplied: "rules",
		Timestamp:       e.clock().UTC(),
	}, nil
}
