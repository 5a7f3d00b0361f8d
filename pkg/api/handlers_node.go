package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// getNode implements GET /node/<id>, used at node boot to fetch the
// node's own record.
func (h *handler) getNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.d.Store.GetNode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, node)
}

// postNodeConfig implements POST /node/<id>/config: a node upserts its
// self-described configuration (database labels, allowed-algorithm
// policy) at boot.
func (h *handler) postNodeConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var configKV map[string]string
	if err := json.NewDecoder(r.Body).Decode(&configKV); err != nil {
		badRequest(w, "malformed config body")
		return
	}

	node, err := h.d.Store.GetNode(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	node.ConfigKV = configKV
	if err := h.d.Store.UpdateNode(r.Context(), node); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, node)
}
