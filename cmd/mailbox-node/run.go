package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/mailbox-node/internal/config"
	"github.com/sweeney/mailbox-node/internal/credentials"
	"github.com/sweeney/mailbox-node/internal/gpio"
	"github.com/sweeney/mailbox-node/internal/logic"
	"github.com/sweeney/mailbox-node/internal/mirror"
	"github.com/sweeney/mailbox-node/internal/mqtt"
	"github.com/sweeney/mailbox-node/internal/provision"
	"github.com/sweeney/mailbox-node/internal/radio"
	"github.com/sweeney/mailbox-node/internal/report"
	"github.com/sweeney/mailbox-node/internal/status"
	"github.com/sweeney/mailbox-node/internal/supervisor"
	"github.com/sweeney/mailbox-node/internal/web"
)

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.InputPins)
	if err != nil {
		return fmt.Errorf("init gpio inputs: %w", err)
	}
	defer reader.Close()

	writer, err := gpio.NewRealWriter(cfg.GPIO.Chip, cfg.GPIO.OutputPins, cfg.GPIO.StrobePin)
	if err != nil {
		return fmt.Errorf("init gpio outputs: %w", err)
	}
	defer writer.Close()
	mir := mirror.New(writer, cfg.GPIO.StrobePulse, logger)

	publisher, mqttStatus, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	tracker.SetNetwork(&status.NetworkInfo{Interface: cfg.Network.Interface})

	nm := newRadio(cfg, logger)
	nm.Start()
	defer nm.Close()

	sup := supervisor.New(nm, cfg.Network.MaxFailures, logger)
	defer sup.Close()
	sup.OnChange(associationObserver(tracker, publisher, time.Now, logger))

	store := credentials.NewStore(cfg.Credentials.Path, cfg.Credentials.Namespace)
	engine := provision.NewEngine(newStrategy(cfg, nm, mir, logger), sup, store, logger)

	snap := tracker.Snapshot()
	if err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}); err != nil {
		logger.Warn().Err(err).Msg("Startup event publish failed")
	}

	hub := web.NewHub(logger)
	reprovision := make(chan struct{}, 1)
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, hub, reprovision, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("HTTP server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP status server listening")
	}

	creds, err := store.Load()
	if err != nil {
		logger.Error().Err(err).Str("path", store.Path()).Msg("Stored credentials unreadable, provisioning")
		creds = credentials.Credentials{}
	}
	if creds.IsProvisioned() {
		if err := sup.Start(creds); err != nil {
			logger.Error().Err(err).Msg("Supervisor start failed, provisioning")
			reprovision <- struct{}{}
		}
	} else {
		logger.Info().Msg("No stored credentials")
		reprovision <- struct{}{}
	}
	go provisionLoop(ctx, engine, reprovision, logger)

	transport := report.NewHTTPTransport(cfg.Report.URL, cfg.Report.Timeout)
	reporter := report.New(transport, sup.Ready(), mir, report.Config{
		Timeout:       cfg.Report.Timeout,
		RetryInterval: cfg.Report.RetryInterval,
		MaxAttempts:   cfg.Report.MaxAttempts,
	}, logger)

	logger.Info().
		Dur("poll", cfg.GPIO.Poll).
		Int("max_failures", cfg.Network.MaxFailures).
		Str("url", cfg.Report.URL).
		Str("mode", cfg.Provisioning.Mode).
		Msg("Started")

	ticker := time.NewTicker(cfg.GPIO.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop{
		reader:         reader,
		reporter:       reporter,
		publisher:      publisher,
		mqttStatus:     mqttStatus,
		tracker:        tracker,
		feed:           hub,
		heartbeat:      cfg.MQTT.Heartbeat,
		failureBackoff: cfg.Report.FailureBackoff,
		now:            time.Now,
		logger:         logger.With().Str("component", "loop").Logger(),
	}, ticker.C, sigCh)
}

// provisionLoop runs the engine once per request until ctx ends.
func provisionLoop(ctx context.Context, engine *provision.Engine, requests <-chan struct{}, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-requests:
			if _, err := engine.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("Provisioning failed, waiting for a new request")
			}
		}
	}
}

// associationObserver mirrors supervisor state into the tracker and
// publishes the states an operator cares about.
func associationObserver(tracker *status.Tracker, publisher mqtt.Publisher, now func() time.Time, logger zerolog.Logger) supervisor.Observer {
	return func(st supervisor.Status) {
		tracker.SetAssociation(status.Association{
			State:   string(st.State),
			Retries: st.Retries,
			Address: st.Address,
			Reason:  st.Reason,
		})

		var event string
		switch st.State {
		case logic.StateAssociated:
			event = mqtt.EventAssociated
		case logic.StateAssociationFailed:
			event = mqtt.EventAssociationFailed
		case logic.StateProvisioning:
			event = mqtt.EventProvisioning
		default:
			return
		}

		if err := publisher.PublishSystem(mqtt.SystemEvent{
			Timestamp:  now(),
			Event:      event,
			Reason:     st.Reason,
			RawPayload: status.FormatStatusEvent(tracker.Snapshot(), event, st.Reason),
		}); err != nil {
			logger.Warn().Err(err).Str("event", event).Msg("System event publish failed")
		}
	}
}

func newPublisher(cfg config.Config, logger zerolog.Logger) (mqtt.Publisher, mqtt.ConnectionStatus, error) {
	if cfg.MQTT.Broker == "" {
		return mqtt.Discard{}, mqtt.Discard{}, nil
	}
	p, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		BufferSize: cfg.MQTT.BufferSize,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init mqtt: %w", err)
	}
	return p, p, nil
}

func newRadio(cfg config.Config, logger zerolog.Logger) *radio.NetworkManager {
	return radio.NewNetworkManager(radio.NetworkManagerConfig{
		Interface:      cfg.Network.Interface,
		ConnectTimeout: cfg.Network.ConnectTimeout,
		PollInterval:   cfg.Network.WatchInterval,
		HotspotName:    cfg.Node.Name + "-ap",
	}, nil, nil, logger)
}

func newStrategy(cfg config.Config, r radio.Radio, toggler web.Toggler, logger zerolog.Logger) provision.Strategy {
	if cfg.Provisioning.Mode == provision.ModeBroadcast {
		return provision.NewBroadcast(cfg.Provisioning.BroadcastAddr, logger)
	}
	return provision.NewAccessPoint(r, toggler, provision.APConfig{
		SSID:     cfg.Provisioning.APSSID,
		Password: cfg.Provisioning.APPassword,
		Addr:     cfg.Provisioning.Addr,
		Instance: cfg.Node.Name,
	}, logger)
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		PollMs:           cfg.GPIO.Poll.Milliseconds(),
		ReportTimeoutMs:  cfg.Report.Timeout.Milliseconds(),
		HeartbeatMs:      cfg.MQTT.Heartbeat.Milliseconds(),
		MaxFailures:      cfg.Network.MaxFailures,
		Broker:           cfg.MQTT.Broker,
		HTTPAddr:         cfg.HTTP.Addr,
		ReportURL:        cfg.Report.URL,
		ProvisioningMode: cfg.Provisioning.Mode,
	}
}

func printState(w io.Writer, cfg config.Config) error {
	reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.InputPins)
	if err != nil {
		return fmt.Errorf("init gpio inputs: %w", err)
	}
	defer reader.Close()

	levels, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	fmt.Fprintf(w, "IRS: %s\n", levels.Code())
	return nil
}

// provisionOnce erases the stored network and runs the configured strategy.
func provisionOnce(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := credentials.NewStore(cfg.Credentials.Path, cfg.Credentials.Namespace)
	if err := store.Erase(); err != nil {
		return fmt.Errorf("erase credentials: %w", err)
	}

	var toggler web.Toggler
	if writer, err := gpio.NewRealWriter(cfg.GPIO.Chip, cfg.GPIO.OutputPins, cfg.GPIO.StrobePin); err != nil {
		logger.Warn().Err(err).Msg("Outputs unavailable, toggle disabled")
	} else {
		defer writer.Close()
		toggler = mirror.New(writer, cfg.GPIO.StrobePulse, logger)
	}

	nm := newRadio(cfg, logger)
	nm.Start()
	defer nm.Close()

	sup := supervisor.New(nm, cfg.Network.MaxFailures, logger)
	defer sup.Close()

	c, err := provision.NewEngine(newStrategy(cfg, nm, toggler, logger), sup, store, logger).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Provisioned %s, address %s\n", c.SSID, sup.Status().Address)
	return nil
}
