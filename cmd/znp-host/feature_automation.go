//go:build !no_automation

package main

import (
	"log/slog"

	"znp-host/internal/automation"
	"znp-host/internal/coordinator"
	"znp-host/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(coord *coordinator.Coordinator, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.Scripts.Dir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(coord, scriptMgr, logger, automation.SystemConfig{
		ExecAllowlist: cfg.Scripts.Exec.Allowlist,
		ExecTimeout:   cfg.Scripts.Exec.Timeout,
	})
	engine.Start()

	return &autoStopper{engine: engine}, []web.ServerOption{web.WithAutomation(engine, scriptMgr)}
}
