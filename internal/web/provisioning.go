package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sweeney/mailbox-node/internal/credentials"
	"github.com/sweeney/mailbox-node/internal/logic"
	"github.com/sweeney/mailbox-node/internal/radio"
)

// Scanner lists nearby networks.
type Scanner interface {
	Scan() ([]radio.Network, error)
}

// Toggler drives the outputs from an operator command.
type Toggler interface {
	Apply(s logic.Snapshot) error
}

// ProvisioningServer is the local configuration surface served on the
// node's own access point. Accepted join requests are delivered on
// Submissions.
type ProvisioningServer struct {
	httpServer  *http.Server
	scanner     Scanner
	toggler     Toggler
	submissions chan credentials.Credentials
	logger      zerolog.Logger
}

// NewProvisioningServer creates the surface. toggler may be nil.
func NewProvisioningServer(addr string, scanner Scanner, toggler Toggler, logger zerolog.Logger) *ProvisioningServer {
	p := &ProvisioningServer{
		scanner:     scanner,
		toggler:     toggler,
		submissions: make(chan credentials.Credentials, 1),
		logger:      logger.With().Str("component", "provisioning-web").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/hello-world", p.handleHello)
	mux.HandleFunc("/api/get-ap-list", p.handleAPList)
	mux.HandleFunc("/api/toggle-led", p.handleToggle)
	mux.HandleFunc("/api/ap-sta", p.handleJoin)

	p.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return p
}

// Submissions yields each accepted join request.
func (p *ProvisioningServer) Submissions() <-chan credentials.Credentials {
	return p.submissions
}

// Handler returns the routing handler. Useful for tests.
func (p *ProvisioningServer) Handler() http.Handler {
	return p.httpServer.Handler
}

// Serve accepts connections on the given listener.
func (p *ProvisioningServer) Serve(ln net.Listener) error {
	err := p.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (p *ProvisioningServer) Shutdown(ctx context.Context) error {
	return p.httpServer.Shutdown(ctx)
}

func (p *ProvisioningServer) handleHello(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, HelloResponse{Message: "hello world"})
}

func (p *ProvisioningServer) handleAPList(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	nets, err := p.scanner.Scan()
	if err != nil {
		p.logger.Warn().Err(err).Msg("Scan failed")
		writeError(w, http.StatusServiceUnavailable, "scan failed")
		return
	}
	if nets == nil {
		nets = []radio.Network{}
	}
	writeJSON(w, http.StatusOK, nets)
}

func (p *ProvisioningServer) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req ToggleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := logic.ParseCode(req.IRS)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.toggler == nil {
		writeError(w, http.StatusServiceUnavailable, "outputs unavailable")
		return
	}
	if err := p.toggler.Apply(s); err != nil {
		p.logger.Error().Err(err).Msg("Toggle failed")
		writeError(w, http.StatusInternalServerError, "toggle failed")
		return
	}
	writeJSON(w, http.StatusOK, ToggleRequest{IRS: s.Code()})
}

func (p *ProvisioningServer) handleJoin(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req JoinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	c := credentials.Credentials{SSID: req.SSID, Password: req.Password}
	if !c.IsProvisioned() {
		writeError(w, http.StatusBadRequest, "ssid and password are required")
		return
	}
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	select {
	case p.submissions <- c:
		p.logger.Info().Str("ssid", c.SSID).Msg("Credentials submitted")
		writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "joining"})
	default:
		writeError(w, http.StatusConflict, "submission already pending")
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}
