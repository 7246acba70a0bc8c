package internal

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

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
)

var home = credentials.Credentials{SSID: "home", Password: "secret"}

// endpoint records the bodies PUT to it.
type endpoint struct {
	mu     sync.Mutex
	bodies []string
	status int
}

func (e *endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	b, _ := io.ReadAll(r.Body)
	e.mu.Lock()
	e.bodies = append(e.bodies, string(b))
	code := e.status
	e.mu.Unlock()
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
}

func (e *endpoint) Bodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.bodies...)
}

// gatedRadio answers Connect with an address only while open is set.
func gatedRadio(open bool) (*radio.FakeRadio, *atomic.Bool) {
	r := radio.NewFakeRadio()
	gate := &atomic.Bool{}
	gate.Store(open)
	r.OnConnect = func(credentials.Credentials) {
		if gate.Load() {
			r.Emit(radio.Event{Kind: radio.EventGotAddress, Address: "10.0.0.2"})
		}
	}
	return r, gate
}

func newMirror(w *gpio.FakeWriter) *mirror.Mirror {
	m := mirror.New(w, time.Millisecond, zerolog.Nop())
	m.SetSleep(func(time.Duration) {})
	return m
}

// TestIntegrationFullFlow tests the flow from GPIO samples to the endpoint,
// the mirror outputs and telemetry.
func TestIntegrationFullFlow(t *testing.T) {
	ep := &endpoint{}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	r, _ := gatedRadio(true)
	sup := supervisor.New(r, 3, zerolog.Nop())
	defer sup.Close()
	if err := sup.Start(home); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sup.State() != logic.StateAssociated {
		t.Fatalf("expected ASSOCIATED, got %s", sup.State())
	}

	writer := gpio.NewFakeWriter()
	reporter := report.New(report.NewHTTPTransport(srv.URL, time.Second), sup.Ready(), newMirror(writer), report.Config{}, zerolog.Nop())

	samples := []logic.Snapshot{
		{}, {},
		{true, false, false, false},
		{true, false, false, false},
		{true, false, true, true},
		{false, false, false, false},
		{false, false, false, false},
	}
	reader := gpio.NewFakeReader(samples...)
	publisher := mqtt.NewFakePublisher()
	startTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	detector := logic.NewDetector(startTime)
	tracker := status.NewTracker(startTime, status.Config{})

	for i := range samples {
		levels, err := reader.Read()
		if err != nil {
			t.Fatalf("sample %d: gpio read error: %v", i, err)
		}
		now := startTime.Add(time.Duration(i) * 100 * time.Millisecond)
		tr := detector.Process(logic.Input{Levels: levels, Time: now})
		if tr == nil {
			continue
		}
		outcome := reporter.Report(context.Background(), *tr)
		detector.Resolve(*tr, outcome)
		if err := publisher.Publish(mqtt.ReportEvent{
			Timestamp:     tr.Timestamp,
			Snapshot:      tr.Snapshot,
			Previous:      tr.Previous,
			Outcome:       outcome,
			FailureStreak: detector.FailureStreak(),
		}); err != nil {
			t.Fatalf("sample %d: publish error: %v", i, err)
		}
	}
	tracker.Update(detector.Current(), detector.Previous(), detector.EventCountsSnapshot(), detector.FailureStreak())

	wantBodies := []string{`{"irs":"1000"}`, `{"irs":"1011"}`, `{"irs":"0000"}`}
	bodies := ep.Bodies()
	if len(bodies) != len(wantBodies) {
		t.Fatalf("expected %d PUTs, got %d: %v", len(wantBodies), len(bodies), bodies)
	}
	for i := range wantBodies {
		if bodies[i] != wantBodies[i] {
			t.Errorf("PUT %d: got %s, want %s", i, bodies[i], wantBodies[i])
		}
	}

	writes := writer.Writes()
	if len(writes) != 3 || writes[1].Code() != "1011" {
		t.Errorf("mirror writes: got %v", writes)
	}

	if len(publisher.Events) != 3 {
		t.Fatalf("expected 3 report events, got %d", len(publisher.Events))
	}
	if publisher.Events[1].Previous.Code() != "1000" {
		t.Errorf("event 1 previous: got %s, want 1000", publisher.Events[1].Previous)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(publisher.Payloads[2], &payload); err != nil {
		t.Fatalf("invalid JSON payload: %v", err)
	}
	if payload["irs"] != "0000" {
		t.Errorf("payload irs: got %v, want 0000", payload["irs"])
	}

	snap := tracker.Snapshot()
	if snap.Counts.Transitions != 3 || snap.Counts.Delivered != 3 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
}

// TestIntegrationRejectedDeliveryIsRetriedOnNextSample tests that a refused
// PUT leaves previous untouched so the same snapshot is sent again.
func TestIntegrationRejectedDeliveryIsRetriedOnNextSample(t *testing.T) {
	ep := &endpoint{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	ready := supervisor.NewReadiness()
	ready.Set()
	writer := gpio.NewFakeWriter()
	reporter := report.New(report.NewHTTPTransport(srv.URL, time.Second), ready, newMirror(writer), report.Config{}, zerolog.Nop())

	startTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	detector := logic.NewDetector(startTime)
	open := logic.Snapshot{true, false, false, false}

	tr := detector.Process(logic.Input{Levels: open, Time: startTime})
	if tr == nil {
		t.Fatal("expected a transition")
	}
	outcome := reporter.Report(context.Background(), *tr)
	if outcome != logic.OutcomeTransientFailure {
		t.Fatalf("expected TRANSIENT_FAILURE, got %s", outcome)
	}
	detector.Resolve(*tr, outcome)
	if len(writer.Writes()) != 0 {
		t.Error("mirror must not change on failure")
	}

	ep.mu.Lock()
	ep.status = http.StatusOK
	ep.mu.Unlock()

	tr = detector.Process(logic.Input{Levels: open, Time: startTime.Add(100 * time.Millisecond)})
	if tr == nil {
		t.Fatal("expected the transition to be offered again")
	}
	if tr.Previous != (logic.Snapshot{}) {
		t.Errorf("previous: got %s, want 0000", tr.Previous)
	}
	outcome = reporter.Report(context.Background(), *tr)
	detector.Resolve(*tr, outcome)

	if outcome != logic.OutcomeSuccess {
		t.Errorf("expected SUCCESS, got %s", outcome)
	}
	if got := len(ep.Bodies()); got != 2 {
		t.Errorf("expected 2 PUTs, got %d", got)
	}
	if detector.Previous() != open {
		t.Errorf("previous: got %s, want 1000", detector.Previous())
	}
}

// TestIntegrationDisconnectHoldsDelivery tests that a report waits while the
// link is down and goes out once the supervisor reassociates.
func TestIntegrationDisconnectHoldsDelivery(t *testing.T) {
	ep := &endpoint{}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	r, gate := gatedRadio(true)
	sup := supervisor.New(r, 5, zerolog.Nop())
	defer sup.Close()
	if err := sup.Start(home); err != nil {
		t.Fatalf("start: %v", err)
	}

	gate.Store(false)
	r.Emit(radio.Event{Kind: radio.EventDisconnected, Reason: "beacon timeout"})
	if sup.Ready().IsSet() {
		t.Fatal("readiness should clear on disconnect")
	}
	if st := sup.Status(); st.State != logic.StateAssociating || st.Retries != 1 {
		t.Fatalf("expected ASSOCIATING with 1 retry, got %+v", st)
	}

	reporter := report.New(report.NewHTTPTransport(srv.URL, time.Second), sup.Ready(), nil, report.Config{}, zerolog.Nop())
	tr := logic.Transition{Snapshot: logic.Snapshot{false, true, false, false}}

	done := make(chan logic.Outcome, 1)
	go func() {
		done <- reporter.Report(context.Background(), tr)
	}()

	time.Sleep(50 * time.Millisecond)
	if got := len(ep.Bodies()); got != 0 {
		t.Fatalf("expected no PUT while disconnected, got %d", got)
	}

	r.Emit(radio.Event{Kind: radio.EventGotAddress, Address: "10.0.0.3"})

	select {
	case o := <-done:
		if o != logic.OutcomeSuccess {
			t.Errorf("expected SUCCESS, got %s", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("report did not complete after reassociation")
	}
	if got := ep.Bodies(); len(got) != 1 || got[0] != `{"irs":"0100"}` {
		t.Errorf("PUTs: got %v", got)
	}
	if sup.Status().Address != "10.0.0.3" {
		t.Errorf("address: got %q", sup.Status().Address)
	}
}

// TestIntegrationProvisionThenReport tests a broadcast provisioning round
// followed by a delivery and a restart from the stored credentials.
func TestIntegrationProvisionThenReport(t *testing.T) {
	ep := &endpoint{}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer client.Close()

	b := provision.NewBroadcast("", zerolog.Nop())
	b.ListenPacket = func(string, string) (net.PacketConn, error) { return server, nil }

	r, _ := gatedRadio(true)
	sup := supervisor.New(r, 3, zerolog.Nop())
	defer sup.Close()
	store := credentials.NewStore(filepath.Join(t.TempDir(), "nvs.yaml"), "mailbox")

	frame, err := provision.EncodeFrame(provision.Frame{Credentials: home})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := client.WriteTo(frame, server.LocalAddr()); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := provision.NewEngine(b, sup, store, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if got != home {
		t.Errorf("credentials: got %+v, want %+v", got, home)
	}

	buf := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		t.Fatalf("no ack: %v", err)
	}
	if addr, ok := provision.DecodeAck(buf[:n]); !ok || addr != "10.0.0.2" {
		t.Errorf("ack: got %q %v", addr, ok)
	}

	reporter := report.New(report.NewHTTPTransport(srv.URL, time.Second), sup.Ready(), nil, report.Config{}, zerolog.Nop())
	tr := logic.Transition{Snapshot: logic.Snapshot{true, true, true, true}}
	if o := reporter.Report(context.Background(), tr); o != logic.OutcomeSuccess {
		t.Fatalf("report: got %s", o)
	}

	// A reboot starts from what was stored.
	stored, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	r2, _ := gatedRadio(true)
	sup2 := supervisor.New(r2, 3, zerolog.Nop())
	defer sup2.Close()
	if err := sup2.Start(stored); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if sup2.State() != logic.StateAssociated {
		t.Errorf("after reboot: got %s, want ASSOCIATED", sup2.State())
	}
	if r2.ConnectCount() != 1 || r2.Connects[0] != home {
		t.Errorf("reboot connects: got %+v", r2.Connects)
	}
}
