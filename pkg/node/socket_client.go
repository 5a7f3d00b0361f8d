package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantage6/vantage6-sub004/pkg/client"
	"github.com/vantage6/vantage6-sub004/pkg/log"
	"github.com/vantage6/vantage6-sub004/pkg/socket"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// socketClient is the node side of the C7 socket dispatcher: it dials
// the coordinator's websocket endpoint, joins rooms implicitly by
// identifying its node_id in the handshake query, and dispatches
// new_task/kill_containers/expired_token events into the agent.
type socketClient struct {
	agent *Agent
	url string

	connMu sync.Mutex
	conn *websocket.Conn
}

func newSocketClient(a *Agent, coordinatorWSURL string) *socketClient {
	return &socketClient{agent: a, url: coordinatorWSURL}
}

// close unblocks a pending ReadJSON so run's loop observes stopCh
// promptly during shutdown.
func (sc *socketClient) close() {
	sc.connMu.Lock()
	defer sc.connMu.Unlock()
	if sc.conn != nil {
		sc.conn.Close()
	}
}

// run dials and serves events until ctx is canceled, reconnecting with
// backoff on disconnect and resyncing the backlog on every successful
// (re)connect.
func (sc *socketClient) run(ctx context.Context) {
	logger := log.WithComponent("node-socket")
	backoffDelay := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-sc.agent.stopCh:
			return
		default:
		}

		if err := sc.connectAndServe(ctx); err != nil {
			logger.Warn().Err(err).Dur("retry_in", backoffDelay).Msg("socket connection lost, reconnecting")
			select {
			case <-time.After(backoffDelay):
			case <-ctx.Done():
				return
			case <-sc.agent.stopCh:
				return
			}
			if backoffDelay < 30*time.Second {
				backoffDelay *= 2
			}
			continue
		}
		backoffDelay = time.Second
	}
}

func (sc *socketClient) connectAndServe(ctx context.Context) error {
	dialURL := sc.url
	if u, err := url.Parse(sc.url); err == nil {
		q := u.Query()
		q.Set("node_id", sc.agent.nodeID)
		q.Set("collaboration_id", sc.agent.collaborationID)
		u.RawQuery = q.Encode()
		dialURL = u.String()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("node: dial coordinator socket: %w", err)
	}
	sc.connMu.Lock()
	sc.conn = conn
	sc.connMu.Unlock()
	defer func() {
		conn.Close()
		sc.connMu.Lock()
		sc.conn = nil
		sc.connMu.Unlock()
	}()

	if err := sc.resync(ctx); err != nil {
		log.WithComponent("node-socket").Warn().Err(err).Msg("failed to resync backlog on connect")
	}

	for {
		var event socket.Event
		if err := conn.ReadJSON(&event); err != nil {
			return fmt.Errorf("node: read socket event: %w", err)
		}
		sc.dispatch(ctx, event)
	}
}

// resync fetches the node's backlog of not-yet-claimed runs and
// resyncs the worker queue against it.
func (sc *socketClient) resync(ctx context.Context) error {
	runs, err := sc.agent.coordinator.ListPendingRunsForNode(ctx, sc.agent.nodeID)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if !sc.agent.EnqueueRun(run) {
			log.WithRunID(run.ID).Warn().Msg("worker queue full during resync, run remains pending")
		}
	}
	return nil
}

func (sc *socketClient) dispatch(ctx context.Context, event socket.Event) {
	logger := log.WithComponent("node-socket")

	switch event.Type {
	case socket.EventNewTask:
		var payload socket.NewTaskPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			logger.Error().Err(err).Msg("malformed new_task payload")
			return
		}
		sc.handleNewTask(ctx, payload)

	case socket.EventKillContainers:
		var payload socket.KillContainersPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			logger.Error().Err(err).Msg("malformed kill_containers payload")
			return
		}
		sc.handleKillContainers(ctx, payload)

	case socket.EventExpiredToken:
		sc.handleExpiredToken(ctx)

	default:
		logger.Debug().Str("event_type", string(event.Type)).Msg("ignoring unhandled socket event")
	}
}

// handleNewTask pulls this node's pending-run backlog, which now
// includes whatever run(s) task_id materialized for this node, and
// enqueues each for execution.
func (sc *socketClient) handleNewTask(ctx context.Context, payload socket.NewTaskPayload) {
	if err := sc.resync(ctx); err != nil {
		log.WithComponent("node-socket").Error().Err(err).Str("task_id", payload.TaskID).Msg("failed to pull pending runs for new_task event")
	}
}

// handleKillContainers kills every run this node is executing for the
// named task or, if no task and no node is named, every run this node
// currently has live. A
// node_id naming a different node is ignored, since this event is
// broadcast to the whole collaboration room.
func (sc *socketClient) handleKillContainers(ctx context.Context, payload socket.KillContainersPayload) {
	logger := log.WithComponent("node-socket")

	if payload.NodeID != "" && payload.NodeID != sc.agent.nodeID {
		return
	}

	var runIDs []string
	switch {
	case payload.TaskID != "":
		runIDs = sc.agent.liveRunIDsForTask(payload.TaskID)
	default:
		runIDs = sc.agent.liveRunIDs()
	}

	for _, runID := range runIDs {
		if !sc.agent.killRun(ctx, runID) {
			continue
		}
		status := types.RunKilledByUser
		finishedAt := time.Now()
		if err := sc.agent.coordinator.PatchRun(ctx, runID, client.RunPatch{Status: &status, FinishedAt: &finishedAt}); err != nil {
			logger.Error().Err(err).Str("run_id", runID).Msg("failed to report killed run status")
		}
	}
}

// handleExpiredToken closes the socket connection, then refreshes the
// access token. The closed connection makes connectAndServe's next read
// fail, so run's loop reconnects and resyncs the backlog.
func (sc *socketClient) handleExpiredToken(ctx context.Context) {
	sc.close()
	if _, err := sc.agent.coordinator.RefreshAccessToken(ctx); err != nil {
		log.WithComponent("node-socket").Error().Err(err).Msg("failed to refresh access token after expired_token event")
	}
}
