package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vantage6/vantage6-sub004/pkg/coordinator"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// taskCreateRequest is the POST /task wire body: a task definition, one
// independently encrypted input per target organization, and (for
// data_extraction/preprocessing submissions) the dataframe handle the
// task targets"). Child-task submissions forwarded through a node's proxy
// are always central_compute and never set dataframe_handle.
type taskCreateRequest struct {
	Task *types.Task `json:"task"`
	Organizations []types.OrgInput `json:"organizations"`
	DataframeHandle string `json:"dataframe_handle,omitempty"`
}

// postTask implements POST /task: validates and
// materializes a task submission into one pending Run per target
// organization.
func (h *handler) postTask(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var body taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Task == nil {
		badRequest(w, "malformed task submission")
		return
	}

	requestingOrgID := claims.OrganizationID
	if body.Task.InitOrgID != "" {
		requestingOrgID = body.Task.InitOrgID
	}

	task, err := h.d.Coord.SubmitTask(r.Context(), coordinator.SubmitTaskRequest{
		Task: body.Task,
		Organizations: body.Organizations,
		DataframeHandle: body.DataframeHandle,
		RequestingOrgID: requestingOrgID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, task)
}

// getTask implements GET /task/<id>.
func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.d.Store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, task)
}
