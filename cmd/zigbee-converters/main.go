package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"zigbee-go-converters/internal/coordinator"
	"zigbee-go-converters/internal/ncp"
	"zigbee-go-converters/internal/store"
	"zigbee-go-converters/internal/web"
	"zigbee-go-converters/internal/zcl"
	"zigbee-go-converters/internal/zcl/clusters"
	"zigbee-go-converters/internal/zosung"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("zigbee-go-converters starting", "version", version)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

func run(cfg *Config, logger *slog.Logger) error {
	devices, err := coordinator.NewDeviceManager(cfg.Devices)
	if err != nil {
		return fmt.Errorf("devices: %w", err)
	}

	registry := zcl.NewRegistry(logger)
	clusters.RegisterAll(registry)
	logger.Info("ZCL registry initialized", "clusters", registry.Len(), "devices", len(devices.List()))

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	var sessions zosung.SessionStore = db
	if cfg.Store.Sessions == "memory" {
		sessions = store.NewMemoryStore()
	}

	backend, err := createNCP(cfg, logger)
	if err != nil {
		return fmt.Errorf("create NCP backend: %w", err)
	}
	defer backend.Close()

	stall, _ := cfg.stallTimeout()
	irOpts := []zosung.Option{zosung.WithReadKickoff(*cfg.IR.ReadKickoff)}
	if stall > 0 {
		irOpts = append(irOpts, zosung.WithStallTimeout(stall))
	}

	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(backend, db, sessions, registry, events, devices, logger, irOpts...)
	coord.Start()

	// Automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(coord, cfg, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(coord, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	// MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(coord, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	coord.Stop()
	return nil
}

func createNCP(cfg *Config, logger *slog.Logger) (ncp.NCP, error) {
	switch cfg.NCP.Type {
	case "serial":
		logger.Info("using serial ZCL gateway", "port", cfg.NCP.Port, "baud", cfg.NCP.Baud)
		return ncp.OpenSerial(cfg.NCP.Port, cfg.NCP.Baud, logger)
	default:
		return nil, fmt.Errorf("unknown NCP type: %q (supported: serial)", cfg.NCP.Type)
	}
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
