// Package web provides the HTTP surfaces of the mailbox-node daemon: the
// status server with its live feed, and the local provisioning API served
// while the node runs its own access point.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sweeney/mailbox-node/internal/status"
)

// Server serves the status page over HTTP.
type Server struct {
	httpServer  *http.Server
	tracker     *status.Tracker
	hub         *Hub
	reprovision chan<- struct{}
	logger      zerolog.Logger
}

// New creates a Server that reads state from the given tracker. Requests
// to /api/reprovision are forwarded on reprovision; a nil channel disables
// the endpoint.
func New(addr string, tracker *status.Tracker, hub *Hub, reprovision chan<- struct{}, logger zerolog.Logger) *Server {
	s := &Server{
		tracker:     tracker,
		hub:         hub,
		reprovision: reprovision,
		logger:      logger.With().Str("component", "web").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/api/reprovision", s.handleReprovision)
	if hub != nil {
		mux.Handle("/ws-api/snapshots", hub)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the routing handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.logger.Error().Err(err).Msg("Render status page failed")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleReprovision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.reprovision == nil {
		writeError(w, http.StatusServiceUnavailable, "re-provisioning disabled")
		return
	}

	select {
	case s.reprovision <- struct{}{}:
		s.logger.Info().Str("remote", r.RemoteAddr).Msg("Re-provision requested")
		writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "provisioning"})
	default:
		writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "already pending"})
	}
}
