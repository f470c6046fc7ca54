package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/quorumworks/steward/pkg/contracts"
)

// HTTPSourceConfig configures the feed client.
type HTTPSourceConfig struct {
	BaseURL string
	// TokenSecret signs the short-lived bearer tokens the feed API
	// expects. Empty disables auth (local feeds).
	TokenSecret string
	TokenIssuer string
	Timeout     time.Duration
	// RequestsPerSecond caps outbound calls; the feed rate-limits
	// aggressively and a ban stalls every run.
	RequestsPerSecond float64
}

// HTTPSource implements Source over the feed's REST API.
type HTTPSource struct {
	cfg       HTTPSourceConfig
	client    *http.Client
	limiter   *rate.Limiter
	validator *PayloadValidator
	logger    *slog.Logger
}

// NewHTTPSource creates the client. validator may be nil to accept
// any payload.
func NewHTTPSource(cfg HTTPSourceConfig, validator *PayloadValidator) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("feed base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &HTTPSource{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		validator: validator,
		logger:    slog.Default().With("component", "feed"),
	}, nil
}

// mintToken issues a short-lived HS256 bearer token for one request.
func (s *HTTPSource) mintToken(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    s.cfg.TokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.TokenSecret))
	if err != nil {
		return "", fmt.Errorf("sign feed token: %w", err)
	}
	return signed, nil
}

// ListPending fetches the feed's pending proposals for the source key.
// Proposals whose payload fails schema validation are dropped with a
// warning rather than poisoning the run.
func (s *HTTPSource) ListPending(ctx context.Context, sourceKey string) ([]contracts.Proposal, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("feed rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/proposals?source_key=%s&state=pending", s.cfg.BaseURL, url.QueryEscape(sourceKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	if s.cfg.TokenSecret != "" {
		token, err := s.mintToken(time.Now())
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var body struct {
		Proposals []contracts.Proposal `json:"proposals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}

	if s.validator == nil {
		return body.Proposals, nil
	}

	valid := body.Proposals[:0]
	for _, p := range body.Proposals {
		if err := s.validator.Validate(p.Payload); err != nil {
			s.logger.Warn("dropping proposal with invalid payload", "item_id", p.ID, "error", err)
			continue
		}
		valid = append(valid, p)
	}
	return valid, nil
}
