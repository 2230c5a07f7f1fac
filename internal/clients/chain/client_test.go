package chain_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuselabs/fuseforge/internal/clients/chain"
	"github.com/fuselabs/fuseforge/pkg/domain"
)

func TestClient_Mint(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/mint", r.URL.Path)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "token-1", body["requestToken"])
			assert.Equal(t, "wallet-9", body["creatorAccount"])

			json.NewEncoder(w).Encode(map[string]string{
				"mintAddress":  "So1anaM1ntAddr",
				"confirmation": "sig-abc",
			})
		}))
		defer srv.Close()

		res, err := chain.New(srv.URL).Mint(ctx, "ipfs://art", nil, "wallet-9", "token-1")
		require.NoError(t, err)
		assert.Equal(t, "So1anaM1ntAddr", res.MintAddress)
		assert.Equal(t, "sig-abc", res.Confirmation)
	})

	t.Run("Insufficient Funds Is Permanent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]string{"error": "insufficient funds: need 0.01 SOL"})
		}))
		defer srv.Close()

		_, err := chain.New(srv.URL).Mint(ctx, "ipfs://art", nil, "w", "t")
		var se *domain.ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, domain.ErrCodeInsufficientFunds, se.Code)
		assert.False(t, se.Retryable)
		assert.Contains(t, se.Message, "funds")
	})

	t.Run("Rejected Is Permanent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := chain.New(srv.URL).Mint(ctx, "ipfs://art", nil, "w", "t")
		var se *domain.ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, domain.ErrCodeRejected, se.Code)
	})

	t.Run("Transport Failure Is Retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // connection refused

		_, err := chain.New(srv.URL).Mint(ctx, "ipfs://art", nil, "w", "t")
		assert.True(t, domain.IsRetryable(err))
	})
}

func TestClient_Lookup(t *testing.T) {
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/mint/token-42", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{
				"mintAddress":  "RecoveredAddr",
				"confirmation": "sig-recovered",
			})
		}))
		defer srv.Close()

		res, err := chain.New(srv.URL).Lookup(ctx, "token-42")
		require.NoError(t, err)
		assert.Equal(t, "RecoveredAddr", res.MintAddress)
	})

	t.Run("Not Found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := chain.New(srv.URL).Lookup(ctx, "token-missing")
		var se *domain.ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, domain.ErrCodeNotFound, se.Code)
	})
}
