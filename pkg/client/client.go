// Package client is the node agent's REST client for the coordinator
// API: node authentication, container-token requests, run
// reporting, and the child-task calls the local proxy forwards.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// Client talks REST+JSON to one coordinator. It is safe for concurrent
// use: token refresh swaps the bearer token under a mutex while in-flight
// requests hold their own copy.
type Client struct {
	baseURL string
	httpClient *http.Client
	breaker *gobreaker.CircuitBreaker

	mu sync.RWMutex
	accessToken string
	refreshToken string
}

// NewClient constructs a Client against baseURL (e.g. "https://coordinator:7601").
// A circuit breaker trips after 5 consecutive failures and half-opens after
// 30 seconds, so a down coordinator doesn't get hammered by every worker.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "coordinator",
			MaxRequests: 1,
			Interval: time.Minute,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// SetTokens installs the access/refresh token pair returned by
// AuthenticateNode or RefreshAccessToken.
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = access
	c.refreshToken = refresh
}

func (c *Client) currentAccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// AuthTokens is the response to node authentication and token refresh.
type AuthTokens struct {
	AccessToken string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthenticateNode exchanges a node's api_key for an access/refresh token
// pair.
func (c *Client) AuthenticateNode(ctx context.Context, apiKey string) (*AuthTokens, error) {
	var tokens AuthTokens
	if err := c.doJSON(ctx, http.MethodPost, "/token/node", map[string]string{"api_key": apiKey}, &tokens, false); err != nil {
		return nil, fmt.Errorf("client: authenticate node: %w", err)
	}
	c.SetTokens(tokens.AccessToken, tokens.RefreshToken)
	return &tokens, nil
}

// RefreshAccessToken exchanges the stored refresh token for a new pair,
// used on the expired_token event.
func (c *Client) RefreshAccessToken(ctx context.Context) (*AuthTokens, error) {
	c.mu.RLock()
	refresh := c.refreshToken
	c.mu.RUnlock()

	var tokens AuthTokens
	if err := c.doJSON(ctx, http.MethodPost, "/token/refresh", map[string]string{"refresh_token": refresh}, &tokens, false); err != nil {
		return nil, fmt.Errorf("client: refresh token: %w", err)
	}
	c.SetTokens(tokens.AccessToken, tokens.RefreshToken)
	return &tokens, nil
}

// ContainerTokenRequest requests a container token scoped to one run.
type ContainerTokenRequest struct {
	TaskID string `json:"task_id"`
	Image string `json:"image"`
}

// RequestContainerToken fetches a container-scoped JWT for (task_id,
// image) to be written as token.txt.
func (c *Client) RequestContainerToken(ctx context.Context, req ContainerTokenRequest) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/token/container", req, &resp, true); err != nil {
		return "", fmt.Errorf("client: request container token: %w", err)
	}
	return resp.Token, nil
}

// GetNode fetches the node's own record.
func (c *Client) GetNode(ctx context.Context, nodeID string) (*types.Node, error) {
	var node types.Node
	if err := c.doJSON(ctx, http.MethodGet, "/node/"+nodeID, nil, &node, true); err != nil {
		return nil, fmt.Errorf("client: get node %s: %w", nodeID, err)
	}
	return &node, nil
}

// PostNodeConfig upserts the node's self-described configuration
// (config_kv pairs built from its database labels and allowed-algorithm
// policy) at boot.
func (c *Client) PostNodeConfig(ctx context.Context, nodeID string, configKV map[string]string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/node/"+nodeID+"/config", configKV, nil, true); err != nil {
		return fmt.Errorf("client: post node config: %w", err)
	}
	return nil
}

// GetOrganizationPublicKey fetches an organization's cached public key,
// used both to verify C1.Verify at boot and to encrypt results for the
// task-initiating organization.
func (c *Client) GetOrganizationPublicKey(ctx context.Context, organizationID string) (string, error) {
	var org types.Organization
	if err := c.doJSON(ctx, http.MethodGet, "/organization/"+organizationID, nil, &org, true); err != nil {
		return "", fmt.Errorf("client: get organization %s: %w", organizationID, err)
	}
	return org.PublicKey, nil
}

// UploadOrganizationPublicKey uploads the node's organization's current
// public key when it disagrees with the coordinator's cached copy.
func (c *Client) UploadOrganizationPublicKey(ctx context.Context, organizationID, publicKeyPEM string) error {
	body := map[string]string{"public_key": publicKeyPEM}
	if err := c.doJSON(ctx, http.MethodPatch, "/organization/"+organizationID, body, nil, true); err != nil {
		return fmt.Errorf("client: upload organization public key: %w", err)
	}
	return nil
}

// GetRun fetches one run's record, used when a new_task event names a
// run this node must execute.
func (c *Client) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	var run types.Run
	if err := c.doJSON(ctx, http.MethodGet, "/run/"+runID, nil, &run, true); err != nil {
		return nil, fmt.Errorf("client: get run %s: %w", runID, err)
	}
	return &run, nil
}

// ListPendingRunsForNode fetches the backlog of not-yet-claimed runs for
// this node, used on (re)connect.
func (c *Client) ListPendingRunsForNode(ctx context.Context, nodeID string) ([]*types.Run, error) {
	var runs []*types.Run
	if err := c.doJSON(ctx, http.MethodGet, "/run?node_id="+nodeID+"&status=pending", nil, &runs, true); err != nil {
		return nil, fmt.Errorf("client: list pending runs: %w", err)
	}
	return runs, nil
}

// RunPatch is the subset of a Run a node is allowed to set via PATCH
// /run/<id>.
type RunPatch struct {
	Status *types.RunStatus `json:"status,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Log *string `json:"log,omitempty"`
	Result *string `json:"result,omitempty"`
	BlobStorageUsed *bool `json:"blob_storage_used,omitempty"`
}

// PatchRun reports a run status transition or final result.
func (c *Client) PatchRun(ctx context.Context, runID string, patch RunPatch) error {
	if err := c.doJSON(ctx, http.MethodPatch, "/run/"+runID, patch, nil, true); err != nil {
		return fmt.Errorf("client: patch run %s: %w", runID, err)
	}
	return nil
}

// GetTask fetches a task's definition, used to resolve its declared
// databases and dataframe references.
func (c *Client) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	var task types.Task
	if err := c.doJSON(ctx, http.MethodGet, "/task/"+taskID, nil, &task, true); err != nil {
		return nil, fmt.Errorf("client: get task %s: %w", taskID, err)
	}
	return &task, nil
}

// TaskCreateRequest is the /task POST body: a task definition plus one
// independently encrypted input ciphertext per target organization.
type TaskCreateRequest struct {
	Task *types.Task `json:"task"`
	Organizations []types.OrgInput `json:"organizations"`
}

// PostTask submits a child task on behalf of a central-compute container
// (routed through the node's local proxy, which forwards the payload
// unchanged).
func (c *Client) PostTask(ctx context.Context, req TaskCreateRequest) (*types.Task, error) {
	var created types.Task
	if err := c.doJSON(ctx, http.MethodPost, "/task", req, &created, true); err != nil {
		return nil, fmt.Errorf("client: post task: %w", err)
	}
	return &created, nil
}

// doJSON performs one HTTP call with exponential-backoff retry on
// transient network errors and trips the circuit breaker after repeated
// failure, combining cenkalti/backoff/v4 and sony/gobreaker the usual way.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, authenticated bool) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, backoff.Retry(func() error {
			return c.doOnce(ctx, method, path, body, out, authenticated)
		}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx))
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any, authenticated bool) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("marshal request body: %w", err))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+c.currentAccessToken())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err // transient: retried
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("coordinator returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(resp.Body)
		return backoff.Permanent(fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response body: %w", err))
	}
	return nil
}
