package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"znp-host/internal/ncp"
	"znp-host/internal/znp"
)

// Config is the YAML configuration file.
type Config struct {
	Transport struct {
		URL    string `yaml:"url"`
		Baud   int    `yaml:"baud"`
		RTSCTS bool   `yaml:"rtscts"`
		Reset  bool   `yaml:"reset"`
	} `yaml:"transport"`
	Driver struct {
		Timeouts znp.Timeouts `yaml:"timeouts"`
	} `yaml:"driver"`
	Coordinator struct {
		ResetOnStart     bool                 `yaml:"reset_on_start"`
		StartTimeout     time.Duration        `yaml:"start_timeout"`
		InterviewTimeout time.Duration        `yaml:"interview_timeout"`
		Endpoints        []ncp.EndpointConfig `yaml:"endpoints"`
		ReportTarget     ncp.Address          `yaml:"report_target"`
		Radius           uint8                `yaml:"radius"`
		ZCLTimeout       time.Duration        `yaml:"zcl_timeout"`
	} `yaml:"coordinator"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		Metrics        *bool    `yaml:"metrics"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		ClientID    string `yaml:"client_id"`
	} `yaml:"mqtt"`
	Scripts struct {
		Dir  string `yaml:"dir"`
		Exec struct {
			Allowlist []string      `yaml:"allowlist"`
			Timeout   time.Duration `yaml:"timeout"`
		} `yaml:"exec"`
	} `yaml:"scripts"`
	Capture struct {
		Path string `yaml:"path"`
	} `yaml:"capture"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	// Definitions are command overlay files applied over the built-in table.
	Definitions []string `yaml:"definitions"`
}

// loadConfig reads path and fills defaults. A missing file is only an error
// when required is set.
func loadConfig(path string, required bool) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !required:
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Transport.Baud == 0 {
		c.Transport.Baud = 115200
	}
	if c.Coordinator.StartTimeout == 0 {
		c.Coordinator.StartTimeout = 90 * time.Second
	}
	if len(c.Coordinator.Endpoints) == 0 {
		c.Coordinator.Endpoints = []ncp.EndpointConfig{{
			Endpoint:    1,
			ProfileID:   0x0104,
			DeviceID:    0x0005,
			InClusters:  []uint16{0x0000, 0x0003, 0x000A},
			OutClusters: []uint16{0x0000, 0x0003, 0x0006, 0x0008, 0x0300},
		}}
	}
	if c.Store.Path == "" {
		c.Store.Path = "znp-host.db"
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8080"
	}
	if c.Web.Metrics == nil {
		on := true
		c.Web.Metrics = &on
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "znp"
	}
	if c.Scripts.Dir == "" {
		c.Scripts.Dir = "scripts"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks what every subcommand that talks to the co-processor needs.
func (c *Config) validate() error {
	if c.Transport.URL == "" {
		return fmt.Errorf("transport.url is required (or pass --port)")
	}
	seen := make(map[uint8]bool)
	for _, ep := range c.Coordinator.Endpoints {
		if ep.Endpoint == 0 || ep.Endpoint > 240 {
			return fmt.Errorf("coordinator.endpoints: endpoint must be 1-240, got %d", ep.Endpoint)
		}
		if seen[ep.Endpoint] {
			return fmt.Errorf("coordinator.endpoints: duplicate endpoint %d", ep.Endpoint)
		}
		seen[ep.Endpoint] = true
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level: unknown level %q", s)
}

// newLogger writes to w so stdout stays free for command output.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	level, _ := parseLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
