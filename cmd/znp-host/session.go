package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"znp-host/internal/capture"
	"znp-host/internal/metrics"
	"znp-host/internal/transport"
	"znp-host/internal/znp"
)

// session is an open co-processor connection and its optional capture file.
type session struct {
	drv     *znp.Driver
	capture *capture.Writer
}

// openSession connects the transport and starts a driver on it. m may be
// nil.
func openSession(ctx context.Context, cfg *Config, logger *slog.Logger, m *metrics.Metrics) (*session, error) {
	registry, err := znp.LoadRegistry(cfg.Definitions...)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}

	rw, err := transport.Open(ctx, cfg.Transport.URL, transport.Options{
		Baud:       cfg.Transport.Baud,
		RTSCTS:     cfg.Transport.RTSCTS,
		ResetPulse: cfg.Transport.Reset,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}

	s := &session{}
	opts := []znp.Option{
		znp.WithLogger(logger),
		znp.WithRegistry(registry),
		znp.WithTimeouts(cfg.Driver.Timeouts),
	}
	if m != nil {
		opts = append(opts, znp.WithMetrics(m))
	}
	if cfg.Capture.Path != "" {
		if s.capture, err = capture.Create(cfg.Capture.Path, logger); err != nil {
			rw.Close()
			return nil, fmt.Errorf("open capture: %w", err)
		}
		opts = append(opts, znp.WithTap(s.capture.Tap()))
	}
	s.drv = znp.New(rw, opts...)
	logger.Info("driver started", "transport", cfg.Transport.URL, "commands", registry.Len())
	return s, nil
}

// Close stops the driver, then flushes the capture file.
func (s *session) Close() error {
	err := s.drv.Close()
	if s.capture != nil {
		err = errors.Join(err, s.capture.Close())
	}
	return err
}
