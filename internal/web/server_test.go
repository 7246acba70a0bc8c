package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/mailbox-node/internal/logic"
	"github.com/sweeney/mailbox-node/internal/status"
)

func newTestServer(t *testing.T, reprovision chan struct{}) (*httptest.Server, *status.Tracker, *Hub) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		PollMs:           100,
		ReportTimeoutMs:  5000,
		HeartbeatMs:      900000,
		MaxFailures:      10,
		Broker:           "tcp://192.168.1.200:1883",
		HTTPAddr:         ":80",
		ReportURL:        "https://example.com/mailbox",
		ProvisioningMode: "access-point",
	}
	tr := status.NewTracker(start, cfg)
	hub := NewHub(zerolog.Nop())
	var ch chan<- struct{}
	if reprovision != nil {
		ch = reprovision
	}
	srv := New(":0", tr, hub, ch, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ts, tr, hub
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t, nil)
	tr.Update(logic.Snapshot{true, false, true, true}, logic.Snapshot{true}, logic.EventCounts{Transitions: 5, Delivered: 4, Failed: 1}, 0)
	tr.SetAssociation(status.Association{State: "ASSOCIATED", Address: "10.0.0.2"})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var sj status.StatusJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sj))

	assert.Equal(t, "1011", sj.Status.IRS)
	assert.Equal(t, "1000", sj.Status.Previous)
	assert.True(t, sj.Status.Ready)
	assert.True(t, sj.Status.MQTT.Connected)
	assert.Equal(t, "tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	assert.Equal(t, 4, sj.Status.Counts.Delivered)
	assert.Equal(t, "10.0.0.2", sj.Status.Association.Address)
	assert.Equal(t, int64(100), sj.Status.Config.PollMs)
}

func TestIndexHTML(t *testing.T) {
	ts, tr, _ := newTestServer(t, nil)
	tr.Update(logic.Snapshot{true, false, true, true}, logic.Snapshot{}, logic.EventCounts{Transitions: 1}, 2)
	tr.SetAssociation(status.Association{State: "ASSOCIATION_FAILED", Retries: 10, Reason: "auth"})

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
		html := string(body)
		assert.Contains(t, html, "Mailbox Node")
		assert.Contains(t, html, "1011")
		assert.Contains(t, html, "ASSOCIATION_FAILED")
		assert.Contains(t, html, "10 / 10")
		assert.Contains(t, html, `action="/api/reprovision"`)
	}
}

func TestIndexHTMLBeforeFirstSample(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Contains(t, string(body), "UNKNOWN")
	assert.NotContains(t, string(body), `action="/api/reprovision"`)
}

func TestUnknownPath404(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReprovision(t *testing.T) {
	ch := make(chan struct{}, 1)
	ts, _, _ := newTestServer(t, ch)

	resp, err := http.Post(ts.URL+"/api/reprovision", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case <-ch:
	default:
		t.Fatal("expected a re-provision request")
	}

	resp, err = http.Get(ts.URL + "/api/reprovision")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestReprovisionAlreadyPending(t *testing.T) {
	ch := make(chan struct{}, 1)
	ts, _, _ := newTestServer(t, ch)

	for i := 0; i < 2; i++ {
		resp, err := http.Post(ts.URL+"/api/reprovision", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	assert.Len(t, ch, 1)
}

func TestReprovisionDisabled(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/reprovision", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLiveFeed(t *testing.T) {
	ts, _, hub := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws-api/snapshots"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	ts0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hub.Broadcast(NewSnapshotMessage(ts0, logic.Snapshot{true, false, true, true}, logic.Snapshot{true}, logic.OutcomeSuccess, 0))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg SnapshotMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "1011", msg.IRS)
	assert.Equal(t, "1000", msg.Previous)
	assert.Equal(t, "SUCCESS", msg.Outcome)
	assert.Equal(t, "2026-03-01T12:00:00Z", msg.Timestamp)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStalledSubscriberDoesNotBlockBroadcast(t *testing.T) {
	ts, _, hub := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws-api/snapshots"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The client never reads, so the socket buffers fill and the
	// subscriber's writer stalls.
	big := struct{ Pad string }{strings.Repeat("x", 64*1024)}
	var slowest time.Duration
	for i := 0; i < 2000 && hub.Count() > 0; i++ {
		start := time.Now()
		hub.Broadcast(big)
		if d := time.Since(start); d > slowest {
			slowest = d
		}
	}

	assert.Less(t, slowest, 250*time.Millisecond)
	assert.Equal(t, 0, hub.Count())
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 7*time.Minute + 9*time.Second, "2h 7m"},
		{50*time.Hour + 30*time.Minute, "2d 2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.d), tt.d.String())
	}
}
