package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateNodeStoresTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token/node", r.URL.Path)
		_ = json.NewEncoder(w).Encode(AuthTokens{AccessToken: "access", RefreshToken: "refresh"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tokens, err := c.AuthenticateNode(context.Background(), "api-key-1")
	require.NoError(t, err)
	assert.Equal(t, "access", tokens.AccessToken)
	assert.Equal(t, "access", c.currentAccessToken())
}

func TestDoJSONSendsBearerTokenWhenAuthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetTokens("access-token", "refresh-token")

	err := c.doJSON(context.Background(), http.MethodGet, "/node/node-1", nil, nil, true)
	require.NoError(t, err)
}

func TestDoJSONPermanentOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.doJSON(context.Background(), http.MethodGet, "/node/node-1", nil, nil, true)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a 4xx response must not be retried")
}
