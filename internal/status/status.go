// Package status provides a thread-safe status tracker for the mailbox-node daemon.
// It is written by the polling loop and the supervisor observer and read by
// HTTP handlers and telemetry.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/mailbox-node/internal/logic"
)

// NetworkInfo describes the station interface.
type NetworkInfo struct {
	Interface string
	SSID      string
	IP        string
}

// Association is a local copy of the supervisor state to avoid importing
// internal/supervisor from status.
type Association struct {
	State   string
	Retries int
	Address string
	Reason  string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs           int64
	ReportTimeoutMs  int64
	HeartbeatMs      int64
	MaxFailures      int
	Broker           string
	HTTPAddr         string
	ReportURL        string
	ProvisioningMode string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Current       logic.Snapshot
	Previous      logic.Snapshot
	Sampled       bool
	Counts        logic.EventCounts
	FailureStreak int
	Association   Association
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether the node is associated.
func (s Snapshot) Ready() bool {
	return s.Association.State == string(logic.StateAssociated)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:   startTime,
			Config:      cfg,
			Association: Association{State: string(logic.StateIdle)},
		},
	}
}

// Update sets the sampled snapshots, event counts and failure streak.
// Called from runLoop on every tick.
func (t *Tracker) Update(current, previous logic.Snapshot, counts logic.EventCounts, failureStreak int) {
	t.mu.Lock()
	t.snap.Current = current
	t.snap.Previous = previous
	t.snap.Sampled = true
	t.snap.Counts = counts
	t.snap.FailureStreak = failureStreak
	t.mu.Unlock()
}

// SetAssociation records the supervisor state.
func (t *Tracker) SetAssociation(a Association) {
	t.mu.Lock()
	t.snap.Association = a
	if t.snap.Network != nil {
		n := *t.snap.Network
		n.IP = a.Address
		t.snap.Network = &n
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
