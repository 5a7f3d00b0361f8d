package api

import (
	"encoding/json"
	"net/http"

	"github.com/vantage6/vantage6-sub004/pkg/auth"
	"github.com/vantage6/vantage6-sub004/pkg/coordinator"
)

type authTokens struct {
	AccessToken string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// tokenNode implements POST /token/node: a
// node exchanges its api_key for an access/refresh token pair. The raw
// key is hashed and looked up, never compared or stored in the clear.
func (h *handler) tokenNode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.APIKey == "" {
		badRequest(w, "missing api_key")
		return
	}

	node, err := h.d.Store.GetNodeByAPIKeyHash(r.Context(), auth.HashAPIKey(body.APIKey))
	if err != nil {
		unauthorized(w, "unknown api_key")
		return
	}

	access, err := h.d.Minter.MintNodeAccessToken(node.ID, node.OrganizationID, node.CollaborationID)
	if err != nil {
		writeError(w, err)
		return
	}
	refresh, err := h.d.Minter.MintNodeRefreshToken(node.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, authTokens{AccessToken: access, RefreshToken: refresh})
}

// tokenRefresh implements POST /token/refresh: exchanges a still-valid
// refresh token for a fresh access/refresh pair, used on the
// expired_token socket event.
func (h *handler) tokenRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		badRequest(w, "missing refresh_token")
		return
	}

	claims, err := h.d.Minter.Verify(body.RefreshToken)
	if err != nil || claims.ClientType != auth.ClientNode {
		unauthorized(w, "invalid or expired refresh token")
		return
	}

	node, err := h.d.Store.GetNode(r.Context(), claims.NodeID)
	if err != nil {
		unauthorized(w, "node no longer exists")
		return
	}

	access, err := h.d.Minter.MintNodeAccessToken(node.ID, node.OrganizationID, node.CollaborationID)
	if err != nil {
		writeError(w, err)
		return
	}
	refresh, err := h.d.Minter.MintNodeRefreshToken(node.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, authTokens{AccessToken: access, RefreshToken: refresh})
}

// tokenContainer implements POST /token/container: a central-compute container, acting through its
// node's local proxy, requests a token scoped to its own child-task
// submissions.
func (h *handler) tokenContainer(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil || claims.ClientType != auth.ClientNode {
		unauthorized(w, "container token requests must be made by an authenticated node")
		return
	}

	var body struct {
		TaskID string `json:"task_id"`
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TaskID == "" {
		badRequest(w, "missing task_id")
		return
	}

	token, err := h.d.Coord.RequestContainerToken(r.Context(), coordinator.ContainerTokenRequest{
		NodeID: claims.NodeID,
		OrganizationID: claims.OrganizationID,
		CollaborationID: claims.CollaborationID,
		ClaimedTaskID: body.TaskID,
		ClaimedImage: body.Image,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]string{"token": token})
}
