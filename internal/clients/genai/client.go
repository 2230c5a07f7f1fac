// Package genai is the HTTP adapter for the generative backend that
// produces fused artwork from parent asset data.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fuselabs/fuseforge/pkg/domain"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

const tokenHeader = "Idempotency-Key"

// Client implements ports.GenerationClient over the backend's JSON API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Option mutates client configuration.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit caps outbound generation calls. The backend throttles
// aggressively; shaping traffic locally avoids burning the retry budget
// on 429s.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// New creates a generation client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type parentPayload struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	ImageURL   string         `json:"imageUrl"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type generateRequest struct {
	Parents    []parentPayload `json:"parents"`
	Parameters map[string]any  `json:"parameters,omitempty"`
}

type generateResponse struct {
	ArtifactURI string         `json:"artifactUri"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Generate asks the backend for a fused artifact. The request token makes
// the call idempotent: re-sending the same token returns the artifact
// generated the first time.
func (c *Client) Generate(ctx context.Context, parents []*domain.Asset, params map[string]any, requestToken string) (*ports.GenerationResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload := generateRequest{Parameters: params}
	for _, p := range parents {
		payload.Parents = append(payload.Parents, parentPayload{
			ID:         p.ID,
			Name:       p.Name,
			ImageURL:   p.ImageURL,
			Attributes: p.Attributes,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, requestToken)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.NewServiceError(domain.ErrCodeUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatus(resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewServiceError(domain.ErrCodeUnavailable, "malformed generation response: "+err.Error())
	}
	if out.ArtifactURI == "" {
		return nil, domain.NewServiceError(domain.ErrCodeUnavailable, "generation response missing artifact URI")
	}
	return &ports.GenerationResult{ArtifactURI: out.ArtifactURI, Attributes: out.Attributes}, nil
}

func mapStatus(resp *http.Response) error {
	msg := readError(resp.Body)
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return domain.NewServiceError(domain.ErrCodeRateLimited, msg)
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return domain.NewServiceError(domain.ErrCodeInvalidInput, msg)
	default:
		return domain.NewServiceError(domain.ErrCodeUnavailable, fmt.Sprintf("generation backend returned %d: %s", resp.StatusCode, msg))
	}
}

func readError(r io.Reader) string {
	var e errorResponse
	if err := json.NewDecoder(r).Decode(&e); err == nil && e.Error != "" {
		return e.Error
	}
	return "no detail"
}
