package socket

import "testing"

func TestCollaborationRoomAndNodeRoomNaming(t *testing.T) {
	if got, want := CollaborationRoom("7"), "collaboration_7"; got != want {
		t.Errorf("CollaborationRoom(7) = %q, want %q", got, want)
	}
	if got, want := NodeRoom("3"), "node_3"; got != want {
		t.Errorf("NodeRoom(3) = %q, want %q", got, want)
	}
}

func TestHubBroadcastToEmptyRoomIsNoop(t *testing.T) {
	h := NewHub()
	// No connections registered; Broadcast must not panic or block.
	h.Broadcast(RoomAllNodes, EventMessage, map[string]string{"text": "hello"})
}
