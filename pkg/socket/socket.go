// Package socket implements the coordinator-to-node push channel (C7):
// a single-namespace websocket hub with rooms per collaboration and per
// node, broadcasting task, kill, and status-change events.
package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantage6/vantage6-sub004/pkg/log"
)

// EventType is the name of a socket message .
type EventType string

const (
	EventNewTask EventType = "new_task"
	EventKillContainers EventType = "kill_containers"
	EventAlgorithmStatusChange EventType = "algorithm_status_change"
	EventNodeStatusChanged EventType = "node-status-changed"
	EventExpiredToken EventType = "expired_token"
	EventMessage EventType = "message"
)

// Room names. Collaboration and node rooms are formatted with
// CollaborationRoom/NodeRoom.
const (
	RoomAllConnections = "all_connections"
	RoomAllNodes = "all_nodes"
)

func CollaborationRoom(collaborationID string) string { return "collaboration_" + collaborationID }
func NodeRoom(nodeID string) string { return "node_" + nodeID }

// Event is one socket message, serialized as JSON over the wire.
type Event struct {
	Type EventType `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTaskPayload accompanies EventNewTask.
type NewTaskPayload struct {
	TaskID string `json:"task_id"`
}

// KillContainersPayload accompanies EventKillContainers; TaskID and
// NodeID are alternative ways of selecting which runs to kill, both
// scoped to CollaborationID.
type KillContainersPayload struct {
	TaskID string `json:"task_id,omitempty"`
	NodeID string `json:"node_id,omitempty"`
	CollaborationID string `json:"collaboration_id"`
}

// AlgorithmStatusChangePayload accompanies EventAlgorithmStatusChange.
type AlgorithmStatusChangePayload struct {
	RunID string `json:"run_id"`
	TaskID string `json:"task_id"`
	CollaborationID string `json:"collaboration_id"`
	NodeID string `json:"node_id"`
	OrganizationID string `json:"organization_id"`
	Status string `json:"status"`
	ParentID string `json:"parent_id,omitempty"`
}

// NodeStatusChangedPayload accompanies EventNodeStatusChanged.
type NodeStatusChangedPayload struct {
	NodeID string `json:"node_id"`
	Online bool `json:"online"`
}

// subscriberBuffer bounds how many undelivered events a slow connection
// may accumulate before being dropped.
const subscriberBuffer = 50

// Connection wraps one websocket connection with its room memberships
// and an outbound buffered channel, so a slow reader cannot block the
// hub's broadcast loop.
type Connection struct {
	ws *websocket.Conn
	nodeID string
	send chan Event
	rooms map[string]bool
}

// Hub distributes events to connections grouped by room: a single flat
// subscriber set isn't enough once callers need to target a single
// node, a whole collaboration, or every admin connection independently.
type Hub struct {
	mu sync.RWMutex
	connections map[*Connection]bool
	rooms map[string]map[*Connection]bool
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*Connection]bool),
		rooms: make(map[string]map[*Connection]bool),
	}
}

// Register admits a websocket connection for nodeID, joining it to
// RoomAllConnections, RoomAllNodes, NodeRoom(nodeID), and
// CollaborationRoom(collaborationID).
func (h *Hub) Register(ws *websocket.Conn, nodeID, collaborationID string) *Connection {
	conn := &Connection{
		ws: ws,
		nodeID: nodeID,
		send: make(chan Event, subscriberBuffer),
		rooms: make(map[string]bool),
	}

	h.mu.Lock()
	h.connections[conn] = true
	h.joinLocked(conn, RoomAllConnections)
	h.joinLocked(conn, RoomAllNodes)
	h.joinLocked(conn, NodeRoom(nodeID))
	h.joinLocked(conn, CollaborationRoom(collaborationID))
	h.mu.Unlock()

	h.Broadcast(RoomAllConnections, EventNodeStatusChanged, NodeStatusChangedPayload{NodeID: nodeID, Online: true})

	go conn.writePump()
	return conn
}

// Unregister removes conn from every room it belongs to and closes its
// send channel.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	delete(h.connections, conn)
	for room := range conn.rooms {
		if members := h.rooms[room]; members != nil {
			delete(members, conn)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	close(conn.send)
	h.Broadcast(RoomAllConnections, EventNodeStatusChanged, NodeStatusChangedPayload{NodeID: conn.nodeID, Online: false})
}

func (h *Hub) joinLocked(conn *Connection, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Connection]bool)
	}
	h.rooms[room][conn] = true
	conn.rooms[room] = true
}

// Broadcast sends an event to every connection in room. payload is
// marshaled to JSON; a marshal failure is logged and the send skipped.
func (h *Hub) Broadcast(room string, eventType EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithComponent("socket").Error().Err(err).Msg("marshal event payload")
		return
	}
	event := Event{Type: eventType, Payload: data, Timestamp: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.rooms[room] {
		select {
		case conn.send <- event:
		default:
			log.WithNodeID(conn.nodeID).Warn().Str("room", room).Msg("socket send buffer full, dropping event")
		}
	}
}

// writePump drains conn.send to the underlying websocket until the
// channel is closed by Unregister.
func (c *Connection) writePump() {
	for event := range c.send {
		if err := c.ws.WriteJSON(event); err != nil {
			log.WithNodeID(c.nodeID).Debug().Err(err).Msg("write to node socket failed")
			return
		}
	}
	_ = c.ws.Close()
}
