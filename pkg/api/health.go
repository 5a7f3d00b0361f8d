package api

import (
	"net/http"
	"time"
)

// healthResponse is the /health liveness+readiness response: the
// coordinator has no leader election or cluster membership to report on
//, so
// readiness reduces to "can we reach storage".
type healthResponse struct {
	Status string `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// health reports storage reachability via a cheap read, so a load
// balancer can route around a coordinator instance whose database
// connection is down.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Store.Ping(r.Context()); err != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready", Timestamp: time.Now()})
		return
	}
	writeJSON(w, healthResponse{Status: "ok", Timestamp: time.Now()})
}
