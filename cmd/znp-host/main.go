// Command znp-host drives a Z-Stack ZNP coordinator over serial, TCP or
// WebSocket.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	portFlag   string
	levelFlag  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "znp-host",
		Short: "Z-Stack ZNP host driver",
		Long: `znp-host talks the TI Monitor and Test protocol to a Z-Stack coordinator.

Transports:
  /dev/ttyUSB0, serial:///dev/ttyACM0?baud=115200&rtscts=true
  tcp://192.168.1.20:6638
  ws://bridge.local/znp
  mdns://_zigstar_gw._tcp`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "configuration file")
	root.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "transport URL, overrides transport.url")
	root.PersistentFlags().StringVar(&levelFlag, "log-level", "", "log level, overrides log.level")

	root.AddCommand(
		newServeCmd(),
		newRequestCmd(),
		newSniffCmd(),
		newDecodeCmd(),
		newCommandsCmd(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and builds the
// logger.
func setup(cmd *cobra.Command, needDevice bool) (*Config, *slog.Logger, error) {
	cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, nil, err
	}
	if portFlag != "" {
		cfg.Transport.URL = portFlag
	}
	if levelFlag != "" {
		cfg.Log.Level = levelFlag
	}
	if needDevice {
		if err := cfg.validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
