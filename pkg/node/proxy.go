package node

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vantage6/vantage6-sub004/pkg/auth"
	"github.com/vantage6/vantage6-sub004/pkg/client"
	"github.com/vantage6/vantage6-sub004/pkg/log"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// ctxTaskClaimsKey is the request-context key the auth middleware stores
// the container's verified claims under.
type ctxKey int

const ctxTaskClaimsKey ctxKey = iota

// startProxy brings up the loopback-only HTTP server an algorithm
// container talks to as "the vantage6 server" (HOST/PORT/API_PATH in its
// env, step 5): child-task creation, task retrieval, and organization
// public keys. Payloads are passed through as they are: the proxy neither
// re-encrypts child-task inputs nor decrypts results on the container's
// behalf.
func (a *Agent) startProxy(ctx context.Context) (*http.Server, error) {
	r := chi.NewRouter()
	r.Use(a.authenticateContainer)
	r.Post("/task", a.proxyCreateTask)
	r.Get("/task/{id}", a.proxyGetTask)
	r.Get("/organization/{id}/key", a.proxyGetOrganizationKey)

	ln, err := net.Listen("tcp", "127.0.0.1:"+a.cfg.ProxyListenAddr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{Handler: r}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithComponent("node-proxy").Error().Err(err).Msg("local proxy server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv, nil
}

// authenticateContainer verifies the container token (TOKEN_FILE's
// contents, sent as a Bearer header by the container's client library)
// and stores its verified claims on the request context for the
// handlers. The token's task_id is not compared with the runs this node
// is executing.
func (a *Agent) authenticateContainer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tokenString := bearerToken(req)
		if tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := a.containerTokens.Verify(tokenString)
		if err != nil {
			http.Error(w, "invalid container token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(req.Context(), ctxTaskClaimsKey, claims)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func bearerToken(req *http.Request) string {
	const prefix = "Bearer "
	h := req.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// childTaskRequest is the shape an algorithm container POSTs to create a
// subtask, still framed in the caller's own ciphertext.
type childTaskRequest struct {
	Databases [][]types.DBRef `json:"databases"`
	Organizations []types.OrgInput `json:"organizations"`
	Image string `json:"image,omitempty"`
}

// proxyCreateTask re-wraps a container's child-task request as a
// types.Task addressed to the same session and collaboration as the
// parent run, then forwards it to the coordinator.
func (a *Agent) proxyCreateTask(w http.ResponseWriter, req *http.Request) {
	claims := req.Context().Value(ctxTaskClaimsKey).(*auth.Claims)

	var body childTaskRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	parent, err := a.coordinator.GetTask(req.Context(), claims.TaskID)
	if err != nil {
		http.Error(w, "failed to fetch parent task", http.StatusBadGateway)
		return
	}

	image := body.Image
	if image == "" {
		image = parent.Image
	}

	child := &types.Task{
		CollaborationID: parent.CollaborationID,
		SessionID: parent.SessionID,
		Image: image,
		Action: parent.Action,
		InitOrgID: parent.InitOrgID,
		AlgorithmStoreID: parent.AlgorithmStoreID,
		Databases: body.Databases,
	}

	created, err := a.coordinator.PostTask(req.Context(), client.TaskCreateRequest{Task: child, Organizations: body.Organizations})
	if err != nil {
		http.Error(w, "failed to submit child task", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(created)
}

// proxyGetTask returns the coordinator's types.Task record for the
// requested task ID as JSON. It carries no run status or result: runs
// are not fetched, and nothing is decrypted or re-encrypted here.
func (a *Agent) proxyGetTask(w http.ResponseWriter, req *http.Request) {
	taskID := chi.URLParam(req, "id")

	task, err := a.coordinator.GetTask(req.Context(), taskID)
	if err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(task)
}

// proxyGetOrganizationKey exposes a cached organization public key to
// the container, which central-compute algorithms use to encrypt
// child-task arguments client-side before they ever reach this proxy.
func (a *Agent) proxyGetOrganizationKey(w http.ResponseWriter, req *http.Request) {
	organizationID := chi.URLParam(req, "id")

	key, err := a.cachedOrganizationPublicKey(req.Context(), organizationID)
	if err != nil {
		http.Error(w, "failed to fetch organization key", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"public_key": key})
}
