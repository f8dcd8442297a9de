package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"zigbee-go-converters/internal/coordinator"
)

type Config struct {
	NCP struct {
		Type string `yaml:"type"` // "serial"
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"ncp"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path     string `yaml:"path"`
		Sessions string `yaml:"sessions"` // "memory" or "bolt"
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		Discovery   bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	IR struct {
		StallTimeout string `yaml:"stall_timeout"`
		ReadKickoff  *bool  `yaml:"read_kickoff"`
	} `yaml:"ir"`
	ScriptsDir string               `yaml:"scripts_dir"`
	Devices    []coordinator.Device `yaml:"devices"`
}

func (c *Config) validate() error {
	if c.NCP.Type != "serial" {
		return fmt.Errorf("unknown ncp.type %q (supported: serial)", c.NCP.Type)
	}
	if c.NCP.Port == "" {
		return fmt.Errorf("ncp.port is required")
	}
	switch c.Store.Sessions {
	case "memory", "bolt":
	default:
		return fmt.Errorf("store.sessions must be memory or bolt, got %q", c.Store.Sessions)
	}
	if _, err := c.stallTimeout(); err != nil {
		return err
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}
	return nil
}

// stallTimeout returns the IR stall timeout; zero disables stall recovery.
func (c *Config) stallTimeout() (time.Duration, error) {
	if c.IR.StallTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.IR.StallTimeout)
	if err != nil {
		return 0, fmt.Errorf("ir.stall_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("ir.stall_timeout must not be negative")
	}
	return d, nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.NCP.Type == "" {
		cfg.NCP.Type = "serial"
	}
	if cfg.NCP.Baud == 0 {
		cfg.NCP.Baud = 115200
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "zigbee-converters.db"
	}
	if cfg.Store.Sessions == "" {
		cfg.Store.Sessions = "memory"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "zigbee2mqtt"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.IR.ReadKickoff == nil {
		kickoff := true
		cfg.IR.ReadKickoff = &kickoff
	}
	return &cfg, nil
}
