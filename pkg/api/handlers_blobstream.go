package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vantage6/vantage6-sub004/pkg/blobstore"
)

// postBlob implements POST /blobstream: a node streams a
// Run result too large to carry inline as chunked, 64 KiB pieces; the
// returned id is what a node then PATCHes into Run.Result in place of
// ciphertext.
func (h *handler) postBlob(w http.ResponseWriter, r *http.Request) {
	if h.d.Blobs == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, errorResponse{Msg: "blob storage not configured"})
		return
	}
	id, err := h.d.Blobs.Put(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]string{"id": id})
}

// getBlob implements GET /blobstream/<uuid>: streams a previously
// stored blob's chunks back in order.
func (h *handler) getBlob(w http.ResponseWriter, r *http.Request) {
	if h.d.Blobs == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, errorResponse{Msg: "blob storage not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "application/octet-stream")
	if err := h.d.Blobs.WriteTo(id, w); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			writeJSONStatus(w, http.StatusNotFound, errorResponse{Msg: "blob not found"})
			return
		}
		writeError(w, err)
		return
	}
}

// blobStatus implements GET /blobstream/status: lets a node learn at
// boot whether the coordinator it talks to supports off-loading large
// results before it tries to use the feature.
func (h *handler) blobStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"blob_store_enabled": h.d.Blobs != nil})
}
