package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// getOrganization implements GET /organization/<id>, used to fetch an
// organization's cached public key both at node boot (C1.Verify) and
// when encrypting a result for the task-initiating organization.
func (h *handler) getOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := h.d.Store.GetOrganization(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, org)
}

// patchOrganization implements PATCH /organization/<id>: uploads a new
// public key when a node's locally-held key disagrees with the
// coordinator's cached copy.
func (h *handler) patchOrganization(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PublicKey == "" {
		badRequest(w, "missing public_key")
		return
	}

	org, err := h.d.Store.GetOrganization(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	org.PublicKey = body.PublicKey
	if err := h.d.Store.UpdateOrganization(r.Context(), org); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, org)
}
