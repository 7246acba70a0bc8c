// Package config loads the mailbox-node YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/mailbox-node/internal/gpio"
	"github.com/sweeney/mailbox-node/internal/logic"
	"github.com/sweeney/mailbox-node/internal/provision"
)

// DefaultPath is read when --config is not given.
const DefaultPath = "/etc/mailbox-node/config.yaml"

// Config is the full daemon configuration.
type Config struct {
	Node struct {
		Name string `yaml:"name"` // mDNS instance, MQTT client id prefix
	} `yaml:"node"`

	Network struct {
		Interface      string        `yaml:"interface"`
		MaxFailures    int           `yaml:"max_failures"`    // disconnects before giving up
		ConnectTimeout time.Duration `yaml:"connect_timeout"` // per association attempt
		WatchInterval  time.Duration `yaml:"watch_interval"`  // address watcher cadence
	} `yaml:"network"`

	Credentials struct {
		Path      string `yaml:"path"`
		Namespace string `yaml:"namespace"`
	} `yaml:"credentials"`

	Provisioning struct {
		Mode          string `yaml:"mode"` // broadcast | access-point
		BroadcastAddr string `yaml:"broadcast_addr"`
		APSSID        string `yaml:"ap_ssid"`
		APPassword    string `yaml:"ap_password"` // empty for an open network
		Addr          string `yaml:"addr"`        // provisioning surface listen address
	} `yaml:"provisioning"`

	Report struct {
		URL            string        `yaml:"url"`
		Timeout        time.Duration `yaml:"timeout"`
		RetryInterval  time.Duration `yaml:"retry_interval"` // between would-block retries
		MaxAttempts    int           `yaml:"max_attempts"`
		FailureBackoff time.Duration `yaml:"failure_backoff"` // pause after a failed delivery
	} `yaml:"report"`

	GPIO struct {
		Chip        string        `yaml:"chip"`
		InputPins   []int         `yaml:"input_pins"`
		OutputPins  []int         `yaml:"output_pins"`
		StrobePin   int           `yaml:"strobe_pin"`
		Poll        time.Duration `yaml:"poll"`
		StrobePulse time.Duration `yaml:"strobe_pulse"`
	} `yaml:"gpio"`

	MQTT struct {
		Broker     string        `yaml:"broker"` // empty disables telemetry
		ClientID   string        `yaml:"client_id"`
		Heartbeat  time.Duration `yaml:"heartbeat"` // 0 disables
		BufferSize int           `yaml:"buffer_size"`
	} `yaml:"mqtt"`

	HTTP struct {
		Addr string `yaml:"addr"` // empty disables the status server
	} `yaml:"http"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.Node.Name = "mailbox-node"

	c.Network.Interface = "wlan0"
	c.Network.MaxFailures = 10
	c.Network.ConnectTimeout = 30 * time.Second
	c.Network.WatchInterval = time.Second

	c.Credentials.Path = "/var/lib/mailbox-node/nvs.yaml"
	c.Credentials.Namespace = "mailbox"

	c.Provisioning.Mode = provision.ModeAccessPoint
	c.Provisioning.BroadcastAddr = provision.DefaultBroadcastAddr
	c.Provisioning.APSSID = "mailbox-setup"
	c.Provisioning.Addr = ":8080"

	c.Report.URL = "https://mailbox.example.com/api/irs"
	c.Report.Timeout = 5 * time.Second
	c.Report.RetryInterval = 10 * time.Millisecond
	c.Report.MaxAttempts = 50
	c.Report.FailureBackoff = 80 * time.Millisecond

	c.GPIO.Chip = gpio.DefaultChip
	c.GPIO.InputPins = append([]int(nil), gpio.DefaultInputPins...)
	c.GPIO.OutputPins = append([]int(nil), gpio.DefaultOutputPins...)
	c.GPIO.StrobePin = gpio.DefaultStrobePin
	c.GPIO.Poll = 100 * time.Millisecond
	c.GPIO.StrobePulse = 100 * time.Millisecond

	c.MQTT.Broker = ""
	c.MQTT.ClientID = "mailbox-node"
	c.MQTT.Heartbeat = 15 * time.Minute
	c.MQTT.BufferSize = 64

	c.HTTP.Addr = ":80"

	c.Logging.Level = "info"
	c.Logging.Format = "console"
	return c
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the values the daemon cannot run without.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}

	if c.Network.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("network.max_failures must be at least 1, got %d", c.Network.MaxFailures))
	}
	positive("network.connect_timeout", c.Network.ConnectTimeout)
	positive("network.watch_interval", c.Network.WatchInterval)
	positive("report.timeout", c.Report.Timeout)
	positive("report.retry_interval", c.Report.RetryInterval)
	positive("report.failure_backoff", c.Report.FailureBackoff)
	positive("gpio.poll", c.GPIO.Poll)
	positive("gpio.strobe_pulse", c.GPIO.StrobePulse)
	if c.MQTT.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("mqtt.heartbeat must not be negative, got %v", c.MQTT.Heartbeat))
	}
	if c.Report.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("report.max_attempts must be at least 1, got %d", c.Report.MaxAttempts))
	}

	if u, err := url.Parse(c.Report.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("report.url %q is not an http(s) URL", c.Report.URL))
	}

	if len(c.GPIO.InputPins) != logic.Channels {
		errs = append(errs, fmt.Errorf("gpio.input_pins must list %d pins, got %d", logic.Channels, len(c.GPIO.InputPins)))
	}
	if len(c.GPIO.OutputPins) != logic.Channels {
		errs = append(errs, fmt.Errorf("gpio.output_pins must list %d pins, got %d", logic.Channels, len(c.GPIO.OutputPins)))
	}

	switch c.Provisioning.Mode {
	case provision.ModeBroadcast, provision.ModeAccessPoint:
	default:
		errs = append(errs, fmt.Errorf("provisioning.mode %q is not %q or %q", c.Provisioning.Mode, provision.ModeBroadcast, provision.ModeAccessPoint))
	}
	if c.Credentials.Path == "" {
		errs = append(errs, errors.New("credentials.path is required"))
	}

	return errors.Join(errs...)
}
