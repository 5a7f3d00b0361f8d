package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vantage6/vantage6-sub004/pkg/client"
	"github.com/vantage6/vantage6-sub004/pkg/coordinator"
	"github.com/vantage6/vantage6-sub004/pkg/store"
)

// getRun implements GET /run/<id>.
func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.d.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, run)
}

// listRuns implements GET /run: task_id/node_id/status
// are optional equality filters; the response carries a total-count
// header and, when per_page is given, a Link header with first/
// previous/self/next/last rels.
func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		TaskID: q.Get("task_id"),
		NodeID: q.Get("node_id"),
		Status: q.Get("status"),
	}
	limit, offset := 0, 0
	if v := q.Get("per_page"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("page"); v != "" {
		page, _ := strconv.Atoi(v)
		if page > 1 && limit > 0 {
			offset = (page - 1) * limit
		}
	}
	filter.Limit = limit
	filter.Offset = offset

	runs, total, err := h.d.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("total-count", strconv.Itoa(total))
	if link := buildLinkHeader(r, limit, offset, total); link != "" {
		w.Header().Set("Link", link)
	}
	writeJSON(w, runs)
}

// buildLinkHeader implements the first/previous/self/next/last rels
// requires for a paginated GET /run. It returns "" when the
// request was unpaginated (no per_page given).
func buildLinkHeader(r *http.Request, limit, offset, total int) string {
	if limit <= 0 {
		return ""
	}
	page := offset/limit + 1
	lastPage := (total + limit - 1) / limit
	if lastPage < 1 {
		lastPage = 1
	}

	pageURL := func(p int) string {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(p))
		q.Set("per_page", strconv.Itoa(limit))
		u := *r.URL
		u.RawQuery = q.Encode()
		return u.String()
	}

	rels := []struct {
		rel string
		page int
	}{
		{"first", 1},
		{"self", page},
		{"last", lastPage},
	}
	if page > 1 {
		rels = append(rels, struct {
			rel string
			page int
		}{"previous", page - 1})
	}
	if page < lastPage {
		rels = append(rels, struct {
			rel string
			page int
		}{"next", page + 1})
	}

	parts := make([]string, len(rels))
	for i, rel := range rels {
		parts[i] = fmt.Sprintf(`<%s>; rel="%s"`, pageURL(rel.page), rel.rel)
	}
	link := parts[0]
	for _, p := range parts[1:] {
		link += ", " + p
	}
	return link
}

// patchRun implements PATCH /run/<id>:
// a node reports a status transition or its final result. The
// coordinator never re-encrypts result or log; it persists exactly
// what the node sends.
func (h *handler) patchRun(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	runID := chi.URLParam(r, "id")

	var body client.RunPatch
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "malformed run patch body")
		return
	}

	run, err := h.d.Coord.PatchRun(r.Context(), runID, claims.NodeID, coordinator.RunPatch{
		Status: body.Status,
		StartedAt: body.StartedAt,
		FinishedAt: body.FinishedAt,
		Log: body.Log,
		Result: body.Result,
		BlobStorageUsed: body.BlobStorageUsed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, run)
}
