package main

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/mailbox-node/internal/gpio"
	"github.com/sweeney/mailbox-node/internal/logic"
	"github.com/sweeney/mailbox-node/internal/mqtt"
	"github.com/sweeney/mailbox-node/internal/status"
	"github.com/sweeney/mailbox-node/internal/web"
)

// Reporter delivers one transition. It blocks until the node is ready.
type Reporter interface {
	Report(ctx context.Context, t logic.Transition) logic.Outcome
}

// Broadcaster pushes a message to live feed subscribers.
type Broadcaster interface {
	Broadcast(v interface{})
}

// loop holds the collaborators of the polling activity. The tracker,
// mqttStatus and feed fields are optional.
type loop struct {
	reader         gpio.Reader
	reporter       Reporter
	publisher      mqtt.Publisher
	mqttStatus     mqtt.ConnectionStatus
	tracker        *status.Tracker
	feed           Broadcaster
	heartbeat      time.Duration
	failureBackoff time.Duration
	now            func() time.Time
	sleep          func(time.Duration)
	logger         zerolog.Logger
}

// runLoop samples on every tick and reports each transition, one at a time.
// A signal stops it, including while a report waits for readiness.
func runLoop(l loop, tick <-chan time.Time, sig <-chan os.Signal) error {
	if l.sleep == nil {
		l.sleep = time.Sleep
	}

	detector := logic.NewDetector(l.now())

	for {
		select {
		case s := <-sig:
			l.shutdown(s)
			return nil

		case <-tick:
			t := l.now()
			levels, err := l.reader.Read()
			if err != nil {
				l.logger.Error().Err(err).Msg("GPIO read failed")
				continue
			}

			if tr := detector.Process(logic.Input{Levels: levels, Time: t}); tr != nil {
				l.logger.Info().Str("irs", tr.Snapshot.Code()).Str("previous", tr.Previous.Code()).Msg("Transition")
				l.updateTracker(detector)

				outcome, s := l.report(*tr, sig)
				if s != nil {
					// Only a delivery that completed counts.
					if outcome == logic.OutcomeSuccess {
						detector.Resolve(*tr, outcome)
						l.resolved(*tr, outcome, detector.FailureStreak())
						l.updateTracker(detector)
					}
					l.shutdown(s)
					return nil
				}

				detector.Resolve(*tr, outcome)
				l.resolved(*tr, outcome, detector.FailureStreak())

				if outcome != logic.OutcomeSuccess {
					l.logger.Warn().
						Str("irs", tr.Snapshot.Code()).
						Int("failure_streak", detector.FailureStreak()).
						Msg("Delivery failed, retrying on next change")
					l.sleep(l.failureBackoff)
				}
			}

			if hb := detector.CheckHeartbeat(t, l.heartbeat); hb != nil {
				l.logger.Info().
					Dur("uptime", hb.Uptime).
					Int("transitions", hb.Counts.Transitions).
					Int("delivered", hb.Counts.Delivered).
					Int("failed", hb.Counts.Failed).
					Msg("Heartbeat")
				l.updateTracker(detector)
				l.publishSystem(hb.Timestamp, mqtt.EventHeartbeat, "", false)
			}

			l.updateTracker(detector)
		}
	}
}

// report runs one delivery. A signal cancels it; the outcome is still
// returned once the reporter has given up.
func (l loop) report(tr logic.Transition, sig <-chan os.Signal) (logic.Outcome, os.Signal) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan logic.Outcome, 1)
	go func() {
		done <- l.reporter.Report(ctx, tr)
	}()

	select {
	case o := <-done:
		return o, nil
	case s := <-sig:
		cancel()
		return <-done, s
	}
}

func (l loop) resolved(tr logic.Transition, outcome logic.Outcome, streak int) {
	if err := l.publisher.Publish(mqtt.ReportEvent{
		Timestamp:     tr.Timestamp,
		Snapshot:      tr.Snapshot,
		Previous:      tr.Previous,
		Outcome:       outcome,
		FailureStreak: streak,
	}); err != nil {
		l.logger.Warn().Err(err).Msg("Telemetry publish failed")
	}
	if l.feed != nil {
		l.feed.Broadcast(web.NewSnapshotMessage(tr.Timestamp, tr.Snapshot, tr.Previous, outcome, streak))
	}
}

func (l loop) updateTracker(d *logic.Detector) {
	if l.tracker == nil {
		return
	}
	l.tracker.Update(d.Current(), d.Previous(), d.EventCountsSnapshot(), d.FailureStreak())
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

func (l loop) shutdown(s os.Signal) {
	reason := signalName(s)
	l.logger.Info().Str("signal", reason).Msg("Shutting down")
	l.publishSystem(l.now(), mqtt.EventShutdown, reason, true)
}

// publishSystem sends a system event carrying the full status when a
// tracker is available.
func (l loop) publishSystem(ts time.Time, event, reason string, retained bool) {
	ev := mqtt.SystemEvent{
		Timestamp: ts,
		Event:     event,
		Reason:    reason,
		Retained:  retained,
	}
	if l.tracker != nil {
		if l.mqttStatus != nil {
			l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		}
		ev.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), event, reason)
	}
	if err := l.publisher.PublishSystem(ev); err != nil {
		l.logger.Warn().Err(err).Str("event", event).Msg("System event publish failed")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
