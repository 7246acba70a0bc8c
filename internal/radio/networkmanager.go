package radio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gnet "github.com/shirou/gopsutil/net"

	"github.com/sweeney/mailbox-node/internal/credentials"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// InterfaceLister lists the host's network interfaces.
type InterfaceLister func() ([]gnet.InterfaceStat, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func listInterfaces() ([]gnet.InterfaceStat, error) {
	return gnet.Interfaces()
}

// NetworkManagerConfig configures a NetworkManager radio.
type NetworkManagerConfig struct {
	Interface      string
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	HotspotName    string
}

// NetworkManager drives the Wi-Fi interface through nmcli. Address changes
// are observed by polling the interface table and surfaced as events. All
// events are emitted from the watcher goroutine started by Start.
type NetworkManager struct {
	dispatcher

	cfg    NetworkManagerConfig
	run    Runner
	list   InterfaceLister
	logger zerolog.Logger

	mu        sync.Mutex
	attempt   context.CancelFunc
	lastAddr  string
	announced bool
	apActive  bool

	results chan attemptResult
	stop    chan struct{}
	done    chan struct{}
}

// attemptResult carries the end of an nmcli connect to the watcher.
type attemptResult struct {
	err    error
	reason string
}

// NewNetworkManager creates a radio for the given interface. Nil run and
// list fall back to os/exec and gopsutil.
func NewNetworkManager(cfg NetworkManagerConfig, run Runner, list InterfaceLister, logger zerolog.Logger) *NetworkManager {
	if cfg.Interface == "" {
		cfg.Interface = "wlan0"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HotspotName == "" {
		cfg.HotspotName = "mailbox-node-ap"
	}
	if run == nil {
		run = ExecRunner
	}
	if list == nil {
		list = listInterfaces
	}
	return &NetworkManager{
		cfg:    cfg,
		run:    run,
		list:   list,
		logger: logger.With().Str("component", "radio").Str("iface", cfg.Interface).Logger(),
		results: make(chan attemptResult, 4),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the link watcher goroutine.
func (n *NetworkManager) Start() {
	go n.watch()
}

// Subscribe registers fn for network events.
func (n *NetworkManager) Subscribe(fn func(Event)) func() {
	return n.subscribe(fn)
}

// Connect starts an association attempt in the background. A newer
// attempt supersedes an older one. The outcome is reported by the watcher.
func (n *NetworkManager) Connect(c credentials.Credentials) error {
	if !c.IsProvisioned() {
		return fmt.Errorf("connect: %w", credentials.ErrHalfProvisioned)
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ConnectTimeout+5*time.Second)

	n.mu.Lock()
	if n.attempt != nil {
		n.attempt()
	}
	n.attempt = cancel
	n.announced = false
	n.mu.Unlock()

	args := []string{
		"--wait", strconv.Itoa(int(n.cfg.ConnectTimeout / time.Second)),
		"device", "wifi", "connect", c.SSID,
		"password", c.Password,
		"ifname", n.cfg.Interface,
	}

	n.logger.Info().Str("ssid", c.SSID).Msg("Connecting")
	go func() {
		defer cancel()
		out, err := n.run(ctx, "nmcli", args...)
		if ctx.Err() == context.Canceled {
			return
		}
		res := attemptResult{err: err}
		if err != nil {
			res.reason = strings.TrimSpace(string(out))
			if res.reason == "" {
				res.reason = err.Error()
			}
		}
		select {
		case n.results <- res:
		case <-n.stop:
		}
	}()
	return nil
}

// Disconnect cancels any attempt in flight and drops the association.
func (n *NetworkManager) Disconnect() error {
	n.mu.Lock()
	if n.attempt != nil {
		n.attempt()
		n.attempt = nil
	}
	n.mu.Unlock()

	out, err := n.run(context.Background(), "nmcli", "device", "disconnect", n.cfg.Interface)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w: %s", n.cfg.Interface, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// StartAccessPoint brings up a hotspot on the interface.
func (n *NetworkManager) StartAccessPoint(ap AccessPoint) error {
	args := []string{
		"device", "wifi", "hotspot",
		"ifname", n.cfg.Interface,
		"con-name", n.cfg.HotspotName,
		"ssid", ap.SSID,
	}
	if ap.Password != "" {
		args = append(args, "password", ap.Password)
	}

	n.mu.Lock()
	n.apActive = true
	n.mu.Unlock()

	out, err := n.run(context.Background(), "nmcli", args...)
	if err != nil {
		n.mu.Lock()
		n.apActive = false
		n.mu.Unlock()
		return fmt.Errorf("start access point %q: %w: %s", ap.SSID, err, strings.TrimSpace(string(out)))
	}
	n.logger.Info().Str("ssid", ap.SSID).Msg("Access point up")
	return nil
}

// StopAccessPoint takes the hotspot connection down.
func (n *NetworkManager) StopAccessPoint() error {
	out, err := n.run(context.Background(), "nmcli", "connection", "down", n.cfg.HotspotName)

	n.mu.Lock()
	n.apActive = false
	n.lastAddr = ""
	n.announced = false
	n.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stop access point: %w: %s", err, strings.TrimSpace(string(out)))
	}
	n.logger.Info().Msg("Access point down")
	return nil
}

// Scan lists nearby networks.
func (n *NetworkManager) Scan() ([]Network, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	out, err := n.run(ctx, "nmcli", "-t", "-f", "SSID,SIGNAL,SECURITY",
		"device", "wifi", "list", "ifname", n.cfg.Interface, "--rescan", "yes")
	if err != nil {
		return nil, fmt.Errorf("scan: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return parseScan(string(out)), nil
}

// Close stops the watcher and cancels any attempt in flight.
func (n *NetworkManager) Close() error {
	n.mu.Lock()
	if n.attempt != nil {
		n.attempt()
		n.attempt = nil
	}
	n.mu.Unlock()

	select {
	case <-n.stop:
		return nil
	default:
		close(n.stop)
	}
	return nil
}

// Done is closed when the watcher goroutine exits.
func (n *NetworkManager) Done() <-chan struct{} {
	return n.done
}

func (n *NetworkManager) watch() {
	defer close(n.done)
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.poll()
		case res := <-n.results:
			if res.err != nil {
				n.logger.Warn().Str("reason", res.reason).Msg("Association attempt failed")
				n.emit(Event{Kind: EventDisconnected, Reason: res.reason})
				continue
			}
			n.poll()
		}
	}
}

// poll compares the interface address against the last observation and
// emits an event on each edge. It is quiet while the access point is up.
func (n *NetworkManager) poll() {
	ifaces, err := n.list()
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to list interfaces")
		return
	}
	addr := stationAddress(ifaces, n.cfg.Interface)

	n.mu.Lock()
	if n.apActive {
		n.mu.Unlock()
		return
	}
	var ev *Event
	switch {
	case addr != "" && (!n.announced || addr != n.lastAddr):
		n.announced = true
		ev = &Event{Kind: EventGotAddress, Address: addr}
	case addr == "" && n.lastAddr != "":
		n.announced = false
		ev = &Event{Kind: EventDisconnected, Reason: "link lost"}
	}
	n.lastAddr = addr
	n.mu.Unlock()

	if ev != nil {
		n.logger.Debug().Str("kind", string(ev.Kind)).Str("addr", ev.Address).Msg("Link change")
		n.emit(*ev)
	}
}

// stationAddress returns the first routable IPv4 address of the named
// interface, without its prefix length.
func stationAddress(ifaces []gnet.InterfaceStat, name string) string {
	for _, iface := range ifaces {
		if iface.Name != name {
			continue
		}
		for _, a := range iface.Addrs {
			ip := a.Addr
			if i := strings.IndexByte(ip, '/'); i >= 0 {
				ip = ip[:i]
			}
			if !strings.Contains(ip, ".") || strings.HasPrefix(ip, "169.254.") {
				continue
			}
			return ip
		}
	}
	return ""
}

// parseScan parses nmcli terse output. Colons inside fields are escaped
// with a backslash. Hidden networks and duplicates are dropped.
func parseScan(out string) []Network {
	seen := map[string]bool{}
	var nets []Network
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := splitTerse(line)
		if len(fields) < 3 || fields[0] == "" || seen[fields[0]] {
			continue
		}
		signal, _ := strconv.Atoi(fields[1])
		nets = append(nets, Network{SSID: fields[0], Signal: signal, Security: fields[2]})
		seen[fields[0]] = true
	}
	return nets
}

func splitTerse(line string) []string {
	var fields []string
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && i+1 < len(line):
			i++
			b.WriteByte(line[i])
		case c == ':':
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	return append(fields, b.String())
}
