package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vantage6/vantage6-sub004/pkg/auth"
	"github.com/vantage6/vantage6-sub004/pkg/blobstore"
	"github.com/vantage6/vantage6-sub004/pkg/coordinator"
	"github.com/vantage6/vantage6-sub004/pkg/dataframe"
	"github.com/vantage6/vantage6-sub004/pkg/socket"
	"github.com/vantage6/vantage6-sub004/pkg/store"
)

// Deps is everything a handler needs to serve the coordinator's REST and
// WebSocket surface. Blobs may be nil, in which case /blobstream reports
// itself disabled rather than panicking.
type Deps struct {
	Store store.Store
	Coord *coordinator.Coordinator
	Dataframes *dataframe.Orchestrator
	Hub *socket.Hub
	Minter *auth.Minter
	Blobs *blobstore.Store
}

// NewRouter builds the coordinator's HTTP surface: chi
// routes everything, a shared JWT middleware gates every endpoint
// except /health, the two that hand out node tokens (/token/node and
// /token/refresh) and the websocket upgrade (which
// authenticates via its own query-string contract, mirrored from
// pkg/node/socket_client.go).
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(requestLog)

	h := &handler{d: d}

	r.Get("/health", h.health)

	r.Post("/token/node", h.tokenNode)
	r.Post("/token/refresh", h.tokenRefresh)

	r.Get("/tasks", h.websocket)

	r.Group(func(r chi.Router) {
		r.Use(authenticate(d.Minter))

		r.Post("/token/container", h.tokenContainer)

		r.Get("/node/{id}", h.getNode)
		r.Post("/node/{id}/config", h.postNodeConfig)

		r.Get("/organization/{id}", h.getOrganization)
		r.Patch("/organization/{id}", h.patchOrganization)

		r.Post("/task", h.postTask)
		r.Get("/task/{id}", h.getTask)

		r.Get("/run", h.listRuns)
		r.Get("/run/{id}", h.getRun)
		r.Patch("/run/{id}", h.patchRun)

		r.Post("/blobstream", h.postBlob)
		r.Get("/blobstream/status", h.blobStatus)
		r.Get("/blobstream/{id}", h.getBlob)
	})

	return r
}

// handler bundles Deps onto every route method without repeating the
// struct literal in each file.
type handler struct {
	d Deps
}
