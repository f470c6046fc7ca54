package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/quorumworks/steward/pkg/contracts"
)

// HTTPSurfaceConfig configures the relayer client.
type HTTPSurfaceConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// HTTPSurface implements Surface over the relayer's REST API.
type HTTPSurface struct {
	cfg     HTTPSurfaceConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPSurface creates the client.
func NewHTTPSurface(cfg HTTPSurfaceConfig) (*HTTPSurface, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("execution surface base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &HTTPSurface{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

func (s *HTTPSurface) do(req *http.Request) (*http.Response, error) {
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}
	//nolint:wrapcheck // callers add context
	return s.client.Do(req)
}

// Submit posts the vote. The relayer deduplicates on (source_key,
// item_id) server-side, but steward never relies on that alone.
func (s *HTTPSurface) Submit(ctx context.Context, itemID string, d *contracts.Decision) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("execution rate limiter: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"item_id":  itemID,
		"decision": d,
	})
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/votes", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.do(req)
	if err != nil {
		return "", fmt.Errorf("submission failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("execution surface returned status %d", resp.StatusCode)
	}

	var out struct {
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submission response: %w", err)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("execution surface returned empty reference")
	}
	return out.Reference, nil
}

// FindSubmission queries for an existing submission.
func (s *HTTPSurface) FindSubmission(ctx context.Context, sourceKey, itemID string) (string, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", false, fmt.Errorf("execution rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/votes?source_key=%s&item_id=%s",
		s.cfg.BaseURL, url.QueryEscape(sourceKey), url.QueryEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := s.do(req)
	if err != nil {
		return "", false, fmt.Errorf("submission lookup failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("execution surface returned status %d", resp.StatusCode)
	}

	var out struct {
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("decode lookup response: %w", err)
	}
	return out.Reference, out.Reference != "", nil
}
