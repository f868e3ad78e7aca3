package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/pipectl/internal/pipe"
)

type fileConfig struct {
	Addr               string `toml:"addr"`
	ConnectTimeout     string `toml:"connect_timeout"`
	ConnectTimeoutMS   int64  `toml:"connect_timeout_ms"`
	WriteTimeoutMS     int64  `toml:"write_timeout_ms"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	MaxMessageBytes    uint32 `toml:"max_message_bytes"`
	BackoffInitial     string `toml:"backoff_initial"`
	BackoffMax         string `toml:"backoff_max"`
	BackoffJitter      bool   `toml:"backoff_jitter"`
}

type clientConfig struct {
	Addr string
	Pipe pipe.Config
}

func defaultClientConfig() clientConfig {
	return clientConfig{Pipe: pipe.DefaultConfig()}
}

func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}

	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.Pipe.ConnectTimeout = d
	}

	if meta.IsDefined("connect_timeout_ms") {
		cfg.Pipe.ConnectTimeout = time.Duration(raw.ConnectTimeoutMS) * time.Millisecond
	}

	if meta.IsDefined("write_timeout_ms") {
		cfg.Pipe.WriteTimeout = time.Duration(raw.WriteTimeoutMS) * time.Millisecond
	}

	if meta.IsDefined("max_connect_attempts") {
		cfg.Pipe.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	if meta.IsDefined("max_message_bytes") {
		cfg.Pipe.Limits.MaxMessageBytes = raw.MaxMessageBytes
	}

	if meta.IsDefined("backoff_initial") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffInitial))
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse backoff_initial: %w", err)
		}
		cfg.Pipe.Backoff.InitialDelay = d
	}

	if meta.IsDefined("backoff_max") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffMax))
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse backoff_max: %w", err)
		}
		cfg.Pipe.Backoff.MaxDelay = d
	}

	if meta.IsDefined("backoff_jitter") {
		cfg.Pipe.Backoff.Jitter = raw.BackoffJitter
	}

	if err := cfg.Pipe.Backoff.Validate(); err != nil {
		return clientConfig{}, fmt.Errorf("load client config %s: %w", path, err)
	}

	return cfg, nil
}
