// Package chain is the HTTP adapter for the mint relay that turns
// generated metadata into an on-chain asset.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fuselabs/fuseforge/pkg/domain"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

// Client implements ports.MintClient over the relay's JSON API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option mutates client configuration.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a mint client for the given relay base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type mintRequest struct {
	ArtifactURI    string         `json:"artifactUri"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	CreatorAccount string         `json:"creatorAccount"`
	RequestToken   string         `json:"requestToken"`
}

type mintResponse struct {
	MintAddress  string `json:"mintAddress"`
	Confirmation string `json:"confirmation"`
	Error        string `json:"error,omitempty"`
}

// Mint submits a mint transaction. The relay deduplicates on the request
// token, so retrying a timed-out call cannot mint twice.
func (c *Client) Mint(ctx context.Context, artifactURI string, attributes map[string]any, creatorAccount, requestToken string) (*ports.MintResult, error) {
	body, err := json.Marshal(mintRequest{
		ArtifactURI:    artifactURI,
		Attributes:     attributes,
		CreatorAccount: creatorAccount,
		RequestToken:   requestToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/mint", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// A transport failure after dispatch is the ambiguous case: the
		// transaction may have landed. Classify as a network timeout so
		// the retry path (idempotent on the token) or the reconciler's
		// lookup resolves it.
		return nil, domain.NewServiceError(domain.ErrCodeNetworkTimeout, err.Error())
	}
	defer resp.Body.Close()

	var out mintResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil && resp.StatusCode == http.StatusOK {
		return nil, domain.NewServiceError(domain.ErrCodeNetworkTimeout, "malformed mint response: "+decErr.Error())
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if out.MintAddress == "" {
			return nil, domain.NewServiceError(domain.ErrCodeNetworkTimeout, "mint response missing address")
		}
		return &ports.MintResult{MintAddress: out.MintAddress, Confirmation: out.Confirmation}, nil
	case http.StatusPaymentRequired:
		return nil, domain.NewServiceError(domain.ErrCodeInsufficientFunds, detail(out.Error, "insufficient funds for mint"))
	case http.StatusBadRequest, http.StatusConflict:
		return nil, domain.NewServiceError(domain.ErrCodeRejected, detail(out.Error, "transaction rejected"))
	case http.StatusTooManyRequests:
		return nil, domain.NewServiceError(domain.ErrCodeRateLimited, detail(out.Error, "relay rate limit"))
	default:
		return nil, domain.NewServiceError(domain.ErrCodeUnavailable, fmt.Sprintf("mint relay returned %d: %s", resp.StatusCode, detail(out.Error, "no detail")))
	}
}

// Lookup fetches the confirmed mint for a request token, if any. The
// reconciler uses it to recover results whose response was lost.
func (c *Client) Lookup(ctx context.Context, requestToken string) (*ports.MintResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/mint/"+url.PathEscape(requestToken), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.NewServiceError(domain.ErrCodeNetworkTimeout, err.Error())
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out mintResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.MintAddress == "" {
			return nil, domain.NewServiceError(domain.ErrCodeUnavailable, "malformed lookup response")
		}
		return &ports.MintResult{MintAddress: out.MintAddress, Confirmation: out.Confirmation}, nil
	case http.StatusNotFound:
		return nil, domain.NewServiceError(domain.ErrCodeNotFound, "no mint recorded for token")
	default:
		return nil, domain.NewServiceError(domain.ErrCodeUnavailable, fmt.Sprintf("mint relay returned %d", resp.StatusCode))
	}
}

func detail(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
