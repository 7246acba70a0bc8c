package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/mailbox-node/internal/logic"
)

var (
	s1 = logic.Snapshot{true, false, false, false}
	s2 = logic.Snapshot{true, false, true, true}
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{PollMs: 100, MaxFailures: 10, Broker: "tcp://localhost:1883", HTTPAddr: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 100 {
		t.Errorf("Config.PollMs: got %d, want 100", snap.Config.PollMs)
	}
	if snap.Config.HTTPAddr != ":80" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":80")
	}
	if snap.Sampled {
		t.Error("expected Sampled=false initially")
	}
	if snap.Association.State != "IDLE" {
		t.Errorf("Association.State: got %q, want IDLE", snap.Association.State)
	}
	if snap.Ready() {
		t.Error("expected not ready initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(s2, s1, logic.EventCounts{Transitions: 3, Delivered: 2, Failed: 1}, 1)

	snap := tr.Snapshot()
	if snap.Current != s2 {
		t.Errorf("Current: got %v, want %v", snap.Current, s2)
	}
	if snap.Previous != s1 {
		t.Errorf("Previous: got %v, want %v", snap.Previous, s1)
	}
	if !snap.Sampled {
		t.Error("expected Sampled=true")
	}
	if snap.Counts.Transitions != 3 || snap.Counts.Delivered != 2 || snap.Counts.Failed != 1 {
		t.Errorf("Counts: got %+v", snap.Counts)
	}
	if snap.FailureStreak != 1 {
		t.Errorf("FailureStreak: got %d, want 1", snap.FailureStreak)
	}
}

func TestSetAssociation(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetNetwork(&NetworkInfo{Interface: "wlan0", SSID: "home"})

	tr.SetAssociation(Association{State: "ASSOCIATED", Address: "192.168.1.42"})

	snap := tr.Snapshot()
	if !snap.Ready() {
		t.Error("expected ready when associated")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", snap.Network.IP)
	}

	tr.SetAssociation(Association{State: "ASSOCIATING", Retries: 2, Reason: "auth"})
	snap = tr.Snapshot()
	if snap.Ready() {
		t.Error("expected not ready while associating")
	}
	if snap.Association.Retries != 2 {
		t.Errorf("Retries: got %d, want 2", snap.Association.Retries)
	}
	if snap.Network.IP != "" {
		t.Errorf("Network.IP should clear, got %q", snap.Network.IP)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(s1, logic.Snapshot{}, logic.EventCounts{Transitions: 1}, 0)

	snap1 := tr.Snapshot()

	tr.Update(s2, s1, logic.EventCounts{Transitions: 2}, 0)

	if snap1.Current != s1 {
		t.Error("snapshot should be a copy; Current was modified")
	}
	if snap1.Counts.Transitions != 1 {
		t.Error("snapshot should be a copy; Counts was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Current:       s2,
		Previous:      s1,
		Sampled:       true,
		Counts:        logic.EventCounts{Transitions: 5, Delivered: 4, Failed: 1},
		Association:   Association{State: "ASSOCIATED", Address: "10.0.0.2"},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{PollMs: 100, ReportTimeoutMs: 5000, HeartbeatMs: 900000, MaxFailures: 10, Broker: "tcp://localhost:1883", HTTPAddr: ":80"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.IRS != "1011" {
		t.Errorf("IRS: got %q, want 1011", parsed.Status.IRS)
	}
	if parsed.Status.Previous != "1000" {
		t.Errorf("Previous: got %q, want 1000", parsed.Status.Previous)
	}
	if !parsed.Status.Ready {
		t.Error("expected Ready=true")
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if parsed.Status.Association.Address != "10.0.0.2" {
		t.Errorf("Association.Address: got %q", parsed.Status.Association.Address)
	}
	if parsed.Status.Counts.Delivered != 4 {
		t.Errorf("Counts.Delivered: got %d, want 4", parsed.Status.Counts.Delivered)
	}
	if parsed.Status.Config.MaxFailures != 10 {
		t.Errorf("Config.MaxFailures: got %d, want 10", parsed.Status.Config.MaxFailures)
	}
	if parsed.Status.Event != "" || parsed.Status.Reason != "" {
		t.Error("expected empty Event and Reason for web format")
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.IRS != "UNKNOWN" {
		t.Errorf("IRS: got %q, want UNKNOWN", parsed.Status.IRS)
	}
	if parsed.Status.Network != nil {
		t.Error("expected network omitted")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Current:     s1,
		Sampled:     true,
		Association: Association{State: "ASSOCIATION_FAILED", Retries: 10, Reason: "auth"},
		StartTime:   start,
		Now:         start.Add(30 * time.Minute),
		Network:     &NetworkInfo{Interface: "wlan0", SSID: "home"},
	}

	data := FormatStatusEvent(snap, "ASSOCIATION_FAILED", "auth")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "ASSOCIATION_FAILED" {
		t.Errorf("Event: got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "auth" {
		t.Errorf("Reason: got %q, want auth", parsed.Status.Reason)
	}
	if parsed.Status.Association.Retries != 10 {
		t.Errorf("Retries: got %d, want 10", parsed.Status.Association.Retries)
	}
	if parsed.Status.Network == nil || parsed.Status.Network.SSID != "home" {
		t.Error("expected network in event")
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writers
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(s1, s2, logic.EventCounts{Transitions: i}, i%3)
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.SetAssociation(Association{State: "ASSOCIATING", Retries: i})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
