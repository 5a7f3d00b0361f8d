package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantage6/vantage6-sub004/pkg/log"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// upgrader accepts connections from any origin: a node agent is a
// backend service dialing a known coordinator address, not a browser
// page subject to cross-origin restrictions.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket implements the coordinator's node-facing push channel
//: a node identifies itself via node_id/collaboration_id
// query parameters exactly as pkg/node/socket_client.go's
// connectAndServe sends them, then is registered on the Hub and held
// open until it disconnects.
func (h *handler) websocket(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	collaborationID := r.URL.Query().Get("collaboration_id")
	if nodeID == "" || collaborationID == "" {
		badRequest(w, "node_id and collaboration_id are required")
		return
	}

	node, err := h.d.Store.GetNode(r.Context(), nodeID)
	if err != nil {
		unauthorized(w, "unknown node")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("api").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := h.d.Hub.Register(ws, nodeID, collaborationID)
	defer h.d.Hub.Unregister(conn)

	node.Status = types.NodeStatusOnline
	node.LastSeenAt = time.Now()
	if err := h.d.Store.UpdateNode(r.Context(), node); err != nil {
		log.WithNodeID(nodeID).Warn().Err(err).Msg("failed to mark node online")
	}
	defer func() {
		node.Status = types.NodeStatusOffline
		if err := h.d.Store.UpdateNode(r.Context(), node); err != nil {
			log.WithNodeID(nodeID).Warn().Err(err).Msg("failed to mark node offline")
		}
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
