package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	IRS           string          `json:"irs"`
	Previous      string          `json:"previous"`
	Ready         bool            `json:"ready"`
	FailureStreak int             `json:"failure_streak"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	Association   AssociationJSON `json:"association"`
	MQTT          MQTTStatus      `json:"mqtt"`
	Counts        CountsJSON      `json:"event_counts"`
	Network       *NetworkJSON    `json:"network,omitempty"`
	Config        ConfigJSON      `json:"config"`
}

// AssociationJSON is the JSON representation of the supervisor state.
type AssociationJSON struct {
	State   string `json:"state"`
	Retries int    `json:"retries"`
	Address string `json:"address,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Transitions int `json:"transitions"`
	Delivered   int `json:"delivered"`
	Failed      int `json:"failed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Interface string `json:"interface"`
	SSID      string `json:"ssid"`
	IP        string `json:"ip"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs           int64  `json:"poll_ms"`
	ReportTimeoutMs  int64  `json:"report_timeout_ms"`
	HeartbeatMs      int64  `json:"heartbeat_ms"`
	MaxFailures      int    `json:"max_failures"`
	Broker           string `json:"broker"`
	HTTPAddr         string `json:"http_addr"`
	ReportURL        string `json:"report_url"`
	ProvisioningMode string `json:"provisioning_mode"`
}

func buildInner(snap Snapshot) StatusInner {
	irs, prev := "UNKNOWN", "UNKNOWN"
	if snap.Sampled {
		irs = snap.Current.Code()
		prev = snap.Previous.Code()
	}

	return StatusInner{
		IRS:           irs,
		Previous:      prev,
		Ready:         snap.Ready(),
		FailureStreak: snap.FailureStreak,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Association: AssociationJSON{
			State:   snap.Association.State,
			Retries: snap.Association.Retries,
			Address: snap.Association.Address,
			Reason:  snap.Association.Reason,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Transitions: snap.Counts.Transitions,
			Delivered:   snap.Counts.Delivered,
			Failed:      snap.Counts.Failed,
		},
		Config: ConfigJSON{
			PollMs:           snap.Config.PollMs,
			ReportTimeoutMs:  snap.Config.ReportTimeoutMs,
			HeartbeatMs:      snap.Config.HeartbeatMs,
			MaxFailures:      snap.Config.MaxFailures,
			Broker:           snap.Config.Broker,
			HTTPAddr:         snap.Config.HTTPAddr,
			ReportURL:        snap.Config.ReportURL,
			ProvisioningMode: snap.Config.ProvisioningMode,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Interface: snap.Network.Interface,
			SSID:      snap.Network.SSID,
			IP:        snap.Network.IP,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
