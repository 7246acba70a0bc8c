// Package mqtt provides the telemetry hook: report outcomes and system
// lifecycle events published to an MQTT broker, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/mailbox-node/internal/logic"
)

// TopicReports is the MQTT topic for delivery outcomes.
const TopicReports = "home/mailbox/node/reports"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "home/mailbox/node/system"

// System event names.
const (
	EventStartup           = "STARTUP"
	EventShutdown          = "SHUTDOWN"
	EventHeartbeat         = "HEARTBEAT"
	EventAssociated        = "ASSOCIATED"
	EventAssociationFailed = "ASSOCIATION_FAILED"
	EventProvisioning      = "PROVISIONING"
	EventOffline           = "OFFLINE"
)

// Publisher publishes telemetry. Implementations must not block the caller
// on the network.
type Publisher interface {
	// Publish sends a delivery outcome.
	// Returns error if publishing fails (should not crash the process).
	Publish(event ReportEvent) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// ReportEvent is one resolved delivery attempt.
type ReportEvent struct {
	Timestamp     time.Time
	Snapshot      logic.Snapshot
	Previous      logic.Snapshot
	Outcome       logic.Outcome
	FailureStreak int
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "ASSOCIATION_FAILED"
	Reason     string // shutdown signal, disconnect reason, provisioning mode
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for report events.
type Payload struct {
	Report ReportPayload `json:"report"`
}

// ReportPayload contains the delivery details.
type ReportPayload struct {
	Timestamp     string `json:"timestamp"`
	IRS           string `json:"irs"`
	Previous      string `json:"previous"`
	Outcome       string `json:"outcome"`
	FailureStreak int    `json:"failure_streak"`
}

// FormatPayload creates the JSON payload for a report event.
func FormatPayload(event ReportEvent) ([]byte, error) {
	payload := Payload{
		Report: ReportPayload{
			Timestamp:     event.Timestamp.UTC().Format(time.RFC3339),
			IRS:           event.Snapshot.Code(),
			Previous:      event.Previous.Code(),
			Outcome:       event.Outcome.String(),
			FailureStreak: event.FailureStreak,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Discard is a Publisher that drops everything. Used when no broker is configured.
type Discard struct{}

// Publish drops the event.
func (Discard) Publish(ReportEvent) error { return nil }

// PublishSystem drops the event.
func (Discard) PublishSystem(SystemEvent) error { return nil }

// Close does nothing.
func (Discard) Close() error { return nil }

// IsConnected always reports false.
func (Discard) IsConnected() bool { return false }
