// Command mailbox-node keeps the node associated with a network, samples the
// mailbox sensors and reports every change to the remote endpoint.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/mailbox-node/internal/config"
	"github.com/sweeney/mailbox-node/internal/logging"
)

func main() {
	if err := newRootCmd(&options{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	logLevel    string
	poll        time.Duration
	broker      string
	httpAddr    string
	mode        string
	reportURL   string
	maxFailures int
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "mailbox-node",
		Short: "Mailbox sensor node daemon",
		Long: `Keeps the node associated with its Wi-Fi network, provisions
credentials when none are stored, samples the four mailbox sensors and
reports each change to the configured endpoint.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger := logging.Must(cfg.Logging.Level, cfg.Logging.Format)
			return run(cfg, logger)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", config.DefaultPath, "path to the YAML config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")

	f := root.Flags()
	f.DurationVar(&opts.poll, "poll", 0, "sensor sampling period")
	f.StringVar(&opts.broker, "broker", "", "MQTT broker for telemetry (empty disables)")
	f.StringVar(&opts.httpAddr, "http", "", "HTTP status address (empty disables)")
	f.StringVar(&opts.mode, "mode", "", "provisioning mode (broadcast|access-point)")
	f.StringVar(&opts.reportURL, "url", "", "report endpoint URL")
	f.IntVar(&opts.maxFailures, "max-failures", 0, "disconnects tolerated before association fails")

	root.AddCommand(newPrintStateCmd(opts), newProvisionCmd(opts))
	return root
}

func newPrintStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "print-state",
		Short: "Read the sensor inputs once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), cfg)
		},
	}
}

func newProvisionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Forget the stored network and run provisioning once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger := logging.Must(cfg.Logging.Level, cfg.Logging.Format)
			return provisionOnce(cmd.Context(), cfg, logger)
		},
	}
}

// loadConfig reads the file and applies the flags the user actually set.
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	flags := cmd.Flags()
	if flags.Changed("poll") {
		cfg.GPIO.Poll = opts.poll
	}
	if flags.Changed("broker") {
		cfg.MQTT.Broker = opts.broker
	}
	if flags.Changed("http") {
		cfg.HTTP.Addr = opts.httpAddr
	}
	if flags.Changed("mode") {
		cfg.Provisioning.Mode = opts.mode
	}
	if flags.Changed("url") {
		cfg.Report.URL = opts.reportURL
	}
	if flags.Changed("max-failures") {
		cfg.Network.MaxFailures = opts.maxFailures
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
