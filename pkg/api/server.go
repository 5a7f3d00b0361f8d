package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vantage6/vantage6-sub004/pkg/log"
)

// Server wraps the coordinator's HTTP(S)+WebSocket listener: a plain
// REST server where node auth happens via JWT bearer tokens, not client
// certificates.
type Server struct {
	http *http.Server
}

// NewServer builds a Server serving d's router at addr.
func NewServer(addr string, d Deps) *Server {
	return &Server{
		http: &http.Server{
			Addr: addr,
			Handler: NewRouter(d),
			ReadTimeout: 30 * time.Second,
			WriteTimeout: 0, // blobstream and websocket endpoints are long-lived
			IdleTimeout: 120 * time.Second,
		},
	}
}

// Start begins serving until Stop is called or the listener fails.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.http.Addr, err)
	}
	log.WithComponent("api").Info().Str("addr", s.http.Addr).Msg("REST API listening")

	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, giving in-flight requests up
// to the given context's deadline to finish.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
