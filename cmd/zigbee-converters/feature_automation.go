//go:build !no_automation

package main

import (
	"log/slog"

	"zigbee-go-converters/internal/automation"
	"zigbee-go-converters/internal/coordinator"
	"zigbee-go-converters/internal/web"
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
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(coord, scriptMgr, logger)
	engine.Start()

	opts := []web.ServerOption{
		web.WithAutomation(engine, scriptMgr),
	}
	return &autoStopper{engine: engine}, opts
}
