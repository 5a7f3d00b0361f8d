// Package node implements the node agent (C4): the long-running daemon
// on a data-holding site that authenticates to the coordinator, executes
// runs assigned to it, and brokers its algorithm containers' child-task
// traffic through a local proxy.
package node

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vantage6/vantage6-sub004/pkg/auth"
	"github.com/vantage6/vantage6-sub004/pkg/client"
	"github.com/vantage6/vantage6-sub004/pkg/crypto"
	"github.com/vantage6/vantage6-sub004/pkg/log"
	"github.com/vantage6/vantage6-sub004/pkg/runtime"
	"github.com/vantage6/vantage6-sub004/pkg/session"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// Config configures one node agent process.
type Config struct {
	CoordinatorURL string
	CoordinatorWSURL string
	APIKey string
	PrivateKeyPath string
	SessionDataRoot string
	MaxConcurrentTasks int
	ProxyListenAddr string
	JWTSigningKey []byte // shared with the coordinator, used to verify container tokens locally
	AllowedAlgorithms []string // image globs
	AllowedStores []string
	DatabaseLabels map[string]string // label -> local URI
	DatabaseSensitivity map[string]bool // label -> sensitive
}

// defaultMaxConcurrentTasks bounds how many runs this node executes at
// once, translated into a bounded ingress queue.
const defaultMaxConcurrentTasks = 4

// coordinatorClient is the subset of *client.Client the node agent calls,
// narrowed to an interface so tests can substitute an in-memory fake
// instead of a real HTTP round trip.
type coordinatorClient interface {
	AuthenticateNode(ctx context.Context, apiKey string) (*client.AuthTokens, error)
	RefreshAccessToken(ctx context.Context) (*client.AuthTokens, error)
	GetNode(ctx context.Context, nodeID string) (*types.Node, error)
	PostNodeConfig(ctx context.Context, nodeID string, configKV map[string]string) error
	GetOrganizationPublicKey(ctx context.Context, organizationID string) (string, error)
	UploadOrganizationPublicKey(ctx context.Context, organizationID, publicKeyPEM string) error
	GetTask(ctx context.Context, taskID string) (*types.Task, error)
	PostTask(ctx context.Context, req client.TaskCreateRequest) (*types.Task, error)
	RequestContainerToken(ctx context.Context, req client.ContainerTokenRequest) (string, error)
	ListPendingRunsForNode(ctx context.Context, nodeID string) ([]*types.Run, error)
	PatchRun(ctx context.Context, runID string, patch client.RunPatch) error
}

// Agent is one node's runtime state: its coordinator client, container
// runtime, cryptor, session managers, and the worker pool that executes
// runs handed to it over the socket.
type Agent struct {
	cfg Config

	coordinator coordinatorClient
	runtime runtime.Runtime
	cryptor *crypto.Cryptor
	containerTokens *auth.Minter

	nodeID string
	organizationID string
	collaborationID string

	sessionsMu sync.Mutex
	sessions map[string]*session.Manager

	orgKeysMu sync.RWMutex
	orgKeys map[string]string // organization_id -> cached public key PEM (base64-framed)

	handlesMu sync.Mutex
	handles map[string]liveRun // run_id -> live container handle, for kill_containers

	socket *socketClient
	proxySrv *http.Server

	queue chan *types.Run
	stopCh chan struct{}
	wg sync.WaitGroup
}

// NewAgent constructs an Agent; it does not yet connect to the
// coordinator or start its worker pool — call Boot then Start.
func NewAgent(cfg Config, rt runtime.Runtime) (*Agent, error) {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = defaultMaxConcurrentTasks
	}

	key, err := crypto.LoadOrGenerateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("node: load private key: %w", err)
	}

	return &Agent{
		cfg: cfg,
		coordinator: client.NewClient(cfg.CoordinatorURL),
		runtime: rt,
		cryptor: crypto.New(key),
		containerTokens: auth.NewMinter(cfg.JWTSigningKey),
		sessions: make(map[string]*session.Manager),
		orgKeys: make(map[string]string),
		handles: make(map[string]liveRun),
		queue: make(chan *types.Run, cfg.MaxConcurrentTasks*4),
		stopCh: make(chan struct{}),
	}, nil
}

// Boot runs the node's startup sequence: authenticate, fetch its own node
// record, verify the coordinator's cached public key, and return ready to
// open the socket.
func (a *Agent) Boot(ctx context.Context) error {
	logger := log.WithComponent("node")

	tokens, err := a.coordinator.AuthenticateNode(ctx, a.cfg.APIKey)
	if err != nil {
		return fmt.Errorf("node: authenticate: %w", err)
	}
	claims, err := parseSubjectOnly(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("node: parse access token subject: %w", err)
	}
	a.nodeID = claims

	rec, err := a.coordinator.GetNode(ctx, a.nodeID)
	if err != nil {
		return fmt.Errorf("node: fetch own node record: %w", err)
	}
	a.organizationID = rec.OrganizationID
	a.collaborationID = rec.CollaborationID

	if err := a.coordinator.PostNodeConfig(ctx, a.nodeID, a.selfDescribeConfig()); err != nil {
		logger.Warn().Err(err).Msg("failed to share node self-description, continuing")
	}

	cached, err := a.coordinator.GetOrganizationPublicKey(ctx, a.organizationID)
	if err != nil {
		return fmt.Errorf("node: fetch cached public key: %w", err)
	}
	if cached == "" {
		ownKey, err := a.cryptor.PublicKeyBase64()
		if err != nil {
			return fmt.Errorf("node: derive own public key: %w", err)
		}
		if err := a.coordinator.UploadOrganizationPublicKey(ctx, a.organizationID, ownKey); err != nil {
			return fmt.Errorf("node: upload public key: %w", err)
		}
	} else if ok, err := a.cryptor.Verify(cached); err != nil {
		return fmt.Errorf("node: verify cached public key: %w", err)
	} else if !ok {
		ownKey, err := a.cryptor.PublicKeyBase64()
		if err != nil {
			return fmt.Errorf("node: derive own public key: %w", err)
		}
		logger.Warn().Msg("coordinator's cached public key is out of sync, re-uploading")
		if err := a.coordinator.UploadOrganizationPublicKey(ctx, a.organizationID, ownKey); err != nil {
			return fmt.Errorf("node: re-upload public key: %w", err)
		}
	}

	logger.Info().Str("node_id", a.nodeID).Str("collaboration_id", a.collaborationID).Msg("node boot sequence complete")
	return nil
}

// selfDescribeConfig summarizes the node's locally configured database
// labels and allowed-algorithm policy into the config_kv upsert sent to
// the coordinator at boot: one "database:<label>" = "available" entry per
// label (the label names are sent as-is, their local URIs are not) and the
// number of allowed-algorithm globs (the globs themselves are not sent).
// No hash is computed.
func (a *Agent) selfDescribeConfig() map[string]string {
	kv := make(map[string]string, len(a.cfg.DatabaseLabels)+1)
	for label := range a.cfg.DatabaseLabels {
		kv["database:"+label] = "available"
	}
	kv["allowed_algorithms_count"] = fmt.Sprintf("%d", len(a.cfg.AllowedAlgorithms))
	return kv
}

// Start launches the worker pool, the local container-facing proxy, and
// the coordinator socket dispatcher; Boot must have succeeded first.
func (a *Agent) Start(ctx context.Context) error {
	for i := 0; i < a.cfg.MaxConcurrentTasks; i++ {
		a.wg.Add(1)
		go a.workerLoop(ctx)
	}

	srv, err := a.startProxy(ctx)
	if err != nil {
		return fmt.Errorf("node: start local proxy: %w", err)
	}
	a.proxySrv = srv

	a.socket = newSocketClient(a, a.cfg.CoordinatorWSURL)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.socket.run(ctx)
	}()

	return nil
}

// Stop drains in-flight runs and closes the runtime: close the intake
// queue, wait for workers to finish what they're holding, then close
// the runtime.
func (a *Agent) Stop() error {
	close(a.stopCh)
	close(a.queue)
	if a.socket != nil {
		a.socket.close()
	}
	a.wg.Wait()
	return a.runtime.Close()
}

// EnqueueRun admits a run to the bounded worker queue; callers (the
// socket event handler) should treat a full queue as backpressure and
// retry, never block the socket's read loop.
func (a *Agent) EnqueueRun(run *types.Run) bool {
	select {
	case a.queue <- run:
		return true
	default:
		return false
	}
}

// sessionManagerFor returns (creating if absent) the Parquet session
// manager for sessionID.
func (a *Agent) sessionManagerFor(sessionID string) (*session.Manager, error) {
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()

	if m, ok := a.sessions[sessionID]; ok {
		return m, nil
	}
	m, err := session.NewManager(a.cfg.SessionDataRoot, sessionID)
	if err != nil {
		return nil, err
	}
	a.sessions[sessionID] = m
	return m, nil
}

// cachedOrganizationPublicKey returns a cached public key, fetching and
// caching it on first use.
func (a *Agent) cachedOrganizationPublicKey(ctx context.Context, organizationID string) (string, error) {
	a.orgKeysMu.RLock()
	key, ok := a.orgKeys[organizationID]
	a.orgKeysMu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := a.coordinator.GetOrganizationPublicKey(ctx, organizationID)
	if err != nil {
		return "", err
	}
	a.orgKeysMu.Lock()
	a.orgKeys[organizationID] = key
	a.orgKeysMu.Unlock()
	return key, nil
}

// liveRun pairs a run's JobHandle with its owning task, so a
// kill_containers event scoped by task_id can find the right handles
// without an extra coordinator round trip.
type liveRun struct {
	handle runtime.JobHandle
	taskID string
}

// trackHandle and untrackHandle record the live JobHandle for an
// in-flight run so a kill_containers event can reach it.
func (a *Agent) trackHandle(runID, taskID string, h runtime.JobHandle) {
	a.handlesMu.Lock()
	a.handles[runID] = liveRun{handle: h, taskID: taskID}
	a.handlesMu.Unlock()
}

func (a *Agent) untrackHandle(runID string) {
	a.handlesMu.Lock()
	delete(a.handles, runID)
	a.handlesMu.Unlock()
}

// killRun terminates runID's container if this node is currently
// executing it, returning false if no such run is live here.
func (a *Agent) killRun(ctx context.Context, runID string) bool {
	a.handlesMu.Lock()
	lr, ok := a.handles[runID]
	a.handlesMu.Unlock()
	if !ok {
		return false
	}
	if err := lr.handle.Kill(ctx); err != nil {
		log.WithRunID(runID).Error().Err(err).Msg("failed to kill run")
	}
	return true
}

// liveRunIDsForTask returns the run IDs this node currently has an
// active JobHandle for under taskID, for resolving a kill_containers
// event scoped by task.
func (a *Agent) liveRunIDsForTask(taskID string) []string {
	a.handlesMu.Lock()
	defer a.handlesMu.Unlock()
	var ids []string
	for runID, lr := range a.handles {
		if lr.taskID == taskID {
			ids = append(ids, runID)
		}
	}
	return ids
}

// liveRunIDs returns every run ID this node currently has an active
// JobHandle for, for resolving a kill_containers event scoped by node.
func (a *Agent) liveRunIDs() []string {
	a.handlesMu.Lock()
	defer a.handlesMu.Unlock()
	ids := make([]string, 0, len(a.handles))
	for id := range a.handles {
		ids = append(ids, id)
	}
	return ids
}

// parseSubjectOnly extracts the JWT subject without verifying signature,
// since the node has no signing key of its own; it trusts the transport
// (TLS) instead. Callers only need the node_id, already authenticated by
// the coordinator minting this very token.
func parseSubjectOnly(tokenString string) (string, error) {
	claims := &auth.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return "", fmt.Errorf("node: parse access token: %w", err)
	}
	if claims.NodeID == "" {
		return "", fmt.Errorf("node: access token carries no node_id")
	}
	return claims.NodeID, nil
}
