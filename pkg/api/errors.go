package api

import (
	"encoding/json"
	"errors"
	"net/http"

	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
	"github.com/vantage6/vantage6-sub004/pkg/log"
)

// errorResponse is the JSON body of every non-2xx response, matching
// "reject with 4xx + {msg, errors}".
type errorResponse struct {
	Msg string `json:"msg"`
	Errors []string `json:"errors,omitempty"`
}

// writeError maps err to an HTTP status and writes it as JSON. Sentinel
// errors recognized here become 4xx; anything else is an opaque 500 (its
// detail is logged, not returned).
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vterrors.ErrCollaborationNotFound),
		errors.Is(err, vterrors.ErrDataframeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, vterrors.ErrOrganizationNotInScope),
		errors.Is(err, vterrors.ErrNotAllowed),
		errors.Is(err, vterrors.ErrNodeNotInCollaboration),
		errors.Is(err, vterrors.ErrNotCentralCompute),
		errors.Is(err, vterrors.ErrTaskFinished),
		errors.Is(err, vterrors.ErrImageMismatch):
		status = http.StatusForbidden
	case errors.Is(err, vterrors.ErrImageNotAllowedByStore),
		errors.Is(err, vterrors.ErrDatabaseArgumentMismatch),
		errors.Is(err, vterrors.ErrMixedEncryptionMode),
		errors.Is(err, vterrors.ErrSessionModifierConflict):
		status = http.StatusBadRequest
	case errors.Is(err, vterrors.ErrRunFinished):
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.WithComponent("api").Error().Err(err).Msg("internal error")
		msg = "internal server error"
	}
	writeJSONStatus(w, status, errorResponse{Msg: msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSONStatus(w, http.StatusBadRequest, errorResponse{Msg: msg})
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeJSONStatus(w, http.StatusUnauthorized, errorResponse{Msg: msg})
}
