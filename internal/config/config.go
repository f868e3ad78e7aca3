package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// HostConfig describes one pipectl host: the pipe listener plus its admin
// HTTP surface.
type HostConfig struct {
	Name        string     `toml:"name"`
	Addr        string     `toml:"addr"`
	AdminAddr   string     `toml:"admin_addr"`
	AdminToken  string     `toml:"admin_token"`
	CorsOrigins []string   `toml:"cors_origins"`
	Pipe        PipeConfig `toml:"pipe"`
}

// PipeConfig carries per-pipe transport settings. Durations are in
// milliseconds; zero keeps the built-in default.
type PipeConfig struct {
	Primary            bool   `toml:"primary"`
	AsyncDispatch      bool   `toml:"async_dispatch"`
	DispatchQueueDepth int    `toml:"dispatch_queue_depth"`
	MaxMessageBytes    uint32 `toml:"max_message_bytes"`
	ConnectTimeoutMS   int64  `toml:"connect_timeout_ms"`
	ReadTimeoutMS      int64  `toml:"read_timeout_ms"`
	WriteTimeoutMS     int64  `toml:"write_timeout_ms"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
}

func (p PipeConfig) ConnectTimeout() time.Duration {
	return time.Duration(p.ConnectTimeoutMS) * time.Millisecond
}

func (p PipeConfig) ReadTimeout() time.Duration {
	return time.Duration(p.ReadTimeoutMS) * time.Millisecond
}

func (p PipeConfig) WriteTimeout() time.Duration {
	return time.Duration(p.WriteTimeoutMS) * time.Millisecond
}

func LoadHostConfig(path string) (HostConfig, error) {
	var cfg HostConfig
	if err := loadToml(path, &cfg); err != nil {
		return HostConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "pipectl"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9400"
	}
	if err := ValidateHostConfig(cfg); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateHostConfig(cfg HostConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("host config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("host config missing addr")
	}
	if admin := strings.TrimSpace(cfg.AdminAddr); admin != "" && admin == strings.TrimSpace(cfg.Addr) {
		return fmt.Errorf("host config admin_addr must differ from addr")
	}
	if err := ValidatePipeConfig(cfg.Pipe); err != nil {
		return fmt.Errorf("pipe invalid: %w", err)
	}
	return nil
}

func ValidatePipeConfig(cfg PipeConfig) error {
	if cfg.DispatchQueueDepth < 0 {
		return fmt.Errorf("dispatch_queue_depth must not be negative")
	}
	if cfg.ConnectTimeoutMS < 0 || cfg.ReadTimeoutMS < 0 || cfg.WriteTimeoutMS < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("max_connect_attempts must not be negative")
	}
	if cfg.MaxMessageBytes != 0 && cfg.MaxMessageBytes < 64 {
		return fmt.Errorf("max_message_bytes must be at least 64")
	}
	return nil
}
