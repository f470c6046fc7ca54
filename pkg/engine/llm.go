package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quorumworks/steward/pkg/contracts"
)

// LLMEngine calls the external decision service. The service's
// reasoning and prompting are its own concern; this client only
// enforces the request/response contract.
type LLMEngine struct {
	baseURL  string
	strategy string
	client   *http.Client
	clock    func() time.Time
}

// NewLLMEngine creates the client for the given decision service URL.
func NewLLMEngine(baseURL, strategy string, timeout time.Duration) *LLMEngine {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &LLMEngine{
		baseURL:  baseURL,
		strategy: strategy,
		client:   &http.Client{Timeout: timeout},
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (e *LLMEngine) WithClock(clock func() time.Time) *LLMEngine {
	e.clock = clock
	return e
}

type decideRequest struct {
	Proposal contracts.Proposal `json:"proposal"`
	Strategy string             `json:"strategy"`
}

type decideResponse struct {
	Verdict    contracts.Verdict `json:"verdict"`
	Confidence float64           `json:"confidence"`
	Rationale  string            `json:"rationale"`
	Strategy   string            `json:"strategy_applied"`
}

func (e *LLMEngine) Decide(ctx context.Context, p contracts.Proposal) (*contracts.Decision, error) {
	body, err := json.Marshal(decideRequest{Proposal: p, Strategy: e.strategy})
	if err != nil {
		return nil, fmt.Errorf("encode decide request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/decide", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build decide request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decision service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("decision service returned status %d", resp.StatusCode)
	}

	var out decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("decision confidence %f out of range", out.Confidence)
	}

	return &contracts.Decision{
		ItemID:          p.ID,
		Verdict:         out.Verdict,
		Confidence:      out.Confidence,
		Rationale:       out.Rationale,
		StrategyApplied: out.Strategy,
		Timestamp:       e.clock().UTC(),
	}, nil
}
