package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"znp-host/internal/coordinator"
	"znp-host/internal/metrics"
	"znp-host/internal/ncp"
	"znp-host/internal/store"
	"znp-host/internal/web"
	"znp-host/internal/zcl"
	"znp-host/internal/zcl/clusters"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator with the web API, MQTT bridge and scripts",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd, true)
	if err != nil {
		return err
	}
	logger.Info("znp-host starting", "version", version)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	sess, err := openSession(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer sess.Close()

	registry := zcl.NewRegistry(logger)
	clusters.Register(registry)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	backend := ncp.NewZNP(sess.drv, ncp.Config{
		SrcEndpoint: cfg.Coordinator.Endpoints[0].Endpoint,
		Radius:      cfg.Coordinator.Radius,
		ZCLTimeout:  cfg.Coordinator.ZCLTimeout,
	}, logger)
	defer backend.Close()

	coord := coordinator.New(backend, db, registry, coordinator.NewEventBus(logger), coordinator.Config{
		Endpoints:        cfg.Coordinator.Endpoints,
		ReportTarget:     cfg.Coordinator.ReportTarget,
		ResetOnStart:     cfg.Coordinator.ResetOnStart,
		InterviewTimeout: cfg.Coordinator.InterviewTimeout,
	}, logger)
	defer coord.Stop()

	startCtx, cancel := context.WithTimeout(ctx, cfg.Coordinator.StartTimeout)
	err = coord.Start(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	// No-ops when built with the no_automation and no_mqtt tags.
	auto, autoOpts := initAutomation(coord, cfg, logger)
	defer auto.Stop()
	bridge := initMQTT(coord, cfg, logger)
	defer bridge.Stop()

	webServer := web.NewServer(coord, logger, webOptions(cfg, m, autoOpts)...)
	defer webServer.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*time.Minute + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-sess.drv.Done():
			return fmt.Errorf("driver stopped: %w", sess.drv.Err())
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "err", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("goodbye", "err", err)
	return err
}

func webOptions(cfg *Config, m *metrics.Metrics, extra []web.ServerOption) []web.ServerOption {
	opts := []web.ServerOption{web.WithVersion(version)}
	if cfg.Web.APIKey != "" {
		opts = append(opts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		opts = append(opts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	if m != nil && *cfg.Web.Metrics {
		opts = append(opts, web.WithMetrics(m.Handler()))
	}
	return append(opts, extra...)
}
