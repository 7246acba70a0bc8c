package provision

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/mailbox-node/internal/radio"
	"github.com/sweeney/mailbox-node/internal/web"
)

// APConfig configures the access-point strategy.
type APConfig struct {
	SSID     string
	Password string // empty for an open network
	Addr     string // provisioning HTTP listen address
	Instance string // mDNS instance name
}

// AccessPoint brings up the node's own network and serves the local
// provisioning surface until an operator submits credentials.
type AccessPoint struct {
	radio   radio.Radio
	toggler web.Toggler
	cfg     APConfig
	logger  zerolog.Logger

	// Advertise announces the surface. Defaults to the mDNS Advertise; nil
	// disables the announcement.
	Advertise Advertiser

	// Listen opens the HTTP listener. Defaults to net.Listen.
	Listen func(network, address string) (net.Listener, error)
}

// NewAccessPoint creates the strategy. toggler may be nil.
func NewAccessPoint(r radio.Radio, toggler web.Toggler, cfg APConfig, logger zerolog.Logger) *AccessPoint {
	if cfg.Addr == "" {
		cfg.Addr = ":80"
	}
	if cfg.Instance == "" {
		cfg.Instance = cfg.SSID
	}
	return &AccessPoint{
		radio:     r,
		toggler:   toggler,
		cfg:       cfg,
		logger:    logger.With().Str("component", "access-point").Logger(),
		Advertise: Advertise,
		Listen:    net.Listen,
	}
}

// Name implements Strategy.
func (a *AccessPoint) Name() string {
	return ModeAccessPoint
}

// Acquire serves the provisioning surface and waits for one submission.
// The access point, HTTP server and advert are torn down before it returns.
func (a *AccessPoint) Acquire(ctx context.Context) (Result, error) {
	if err := a.radio.StartAccessPoint(radio.AccessPoint{SSID: a.cfg.SSID, Password: a.cfg.Password}); err != nil {
		return Result{}, fmt.Errorf("start access point: %w", err)
	}
	defer func() {
		if err := a.radio.StopAccessPoint(); err != nil {
			a.logger.Warn().Err(err).Msg("Stop access point failed")
		}
	}()

	ln, err := a.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return Result{}, fmt.Errorf("listen %s: %w", a.cfg.Addr, err)
	}

	srv := web.NewProvisioningServer(a.cfg.Addr, a.radio, a.toggler, a.logger)
	go func() {
		if err := srv.Serve(ln); err != nil {
			a.logger.Error().Err(err).Msg("Provisioning server error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	port := 0
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	if a.Advertise != nil {
		stop, err := a.Advertise(a.cfg.Instance, port, []string{"path=/api/hello-world"})
		if err != nil {
			a.logger.Warn().Err(err).Msg("mDNS advert failed")
		} else {
			defer stop()
		}
	}

	a.logger.Info().Str("ssid", a.cfg.SSID).Int("port", port).Msg("Waiting for credentials")

	select {
	case c := <-srv.Submissions():
		return Result{Credentials: c, PersistFirst: true}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
