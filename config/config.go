// Package config handles simsync configuration loading using viper.
//
// Configuration comes from three layers, later ones winning: built-in
// defaults (Default), an optional YAML file, and SIMSYNC_* environment
// variables (SIMSYNC_RETRY_MAX_ATTEMPTS overrides retry.max_attempts).
package config

import (
	"fmt"
	"time"

	"github.com/opd-ai/simsync/limits"
	"github.com/opd-ai/simsync/reliable"
)

// Config is the full simsync configuration.
type Config struct {
	Network   NetworkConfig   `mapstructure:"network"`
	Handshake HandshakeConfig `mapstructure:"handshake"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Session   SessionConfig   `mapstructure:"session"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// NetworkConfig configures the datagram interface.
type NetworkConfig struct {
	Listen         string        `mapstructure:"listen"`
	Server         string        `mapstructure:"server"`
	MaxDatagram    int           `mapstructure:"max_datagram"`
	BandwidthBytes int           `mapstructure:"bandwidth_bytes"`
	Burst          int           `mapstructure:"burst"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// HandshakeConfig configures connection establishment.
type HandshakeConfig struct {
	ProtocolVersion uint16        `mapstructure:"protocol_version"`
	Interval        time.Duration `mapstructure:"interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// RetryConfig configures reliable delivery.
type RetryConfig struct {
	Initial           time.Duration `mapstructure:"initial"`
	Step              time.Duration `mapstructure:"step"`
	Cap               time.Duration `mapstructure:"cap"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	DropPeerOnAbandon bool          `mapstructure:"drop_peer_on_abandon"`
}

// SessionConfig configures per-peer bookkeeping.
type SessionConfig struct {
	KeepAlive     time.Duration `mapstructure:"keepalive"`
	PeerTimeout   time.Duration `mapstructure:"peer_timeout"`
	MaxPeers      int           `mapstructure:"max_peers"`
	DedupWindow   int           `mapstructure:"dedup_window"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	ReadBatch     int           `mapstructure:"read_batch"`
}

// DispatchConfig configures the dispatch cache.
type DispatchConfig struct {
	CacheCapacity int `mapstructure:"cache_capacity"`
}

// LogConfig configures logrus output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the admin HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	policy := reliable.DefaultPolicy()
	return &Config{
		Network: NetworkConfig{
			Listen:       ":27015",
			Server:       "127.0.0.1:27015",
			MaxDatagram:  limits.DefaultMaxDatagram,
			WriteTimeout: 50 * time.Millisecond,
		},
		Handshake: HandshakeConfig{
			ProtocolVersion: 1,
			Interval:        500 * time.Millisecond,
			Timeout:         5 * time.Second,
		},
		Retry: RetryConfig{
			Initial:     policy.Initial,
			Step:        policy.Step,
			Cap:         policy.Cap,
			MaxAttempts: policy.MaxAttempts,
		},
		Session: SessionConfig{
			KeepAlive:     2 * time.Second,
			PeerTimeout:   15 * time.Second,
			MaxPeers:      64,
			DedupWindow:   1024,
			QueueCapacity: 8192,
			ReadBatch:     256,
		},
		Dispatch: DispatchConfig{
			CacheCapacity: 1024,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9095",
			Path:    "/metrics",
		},
	}
}

// RetryPolicy converts the retry section into a tracker policy.
func (c *Config) RetryPolicy() reliable.Policy {
	return reliable.Policy{
		Initial:     c.Retry.Initial,
		Step:        c.Retry.Step,
		Cap:         c.Retry.Cap,
		MaxAttempts: c.Retry.MaxAttempts,
	}
}

// Validate checks the configuration for values the runtime cannot honour.
func (c *Config) Validate() error {
	if c.Network.MaxDatagram < limits.MinDatagram || c.Network.MaxDatagram > limits.MaxWireLength {
		return fmt.Errorf("network.max_datagram %d outside [%d, %d]",
			c.Network.MaxDatagram, limits.MinDatagram, limits.MaxWireLength)
	}
	if c.Network.BandwidthBytes < 0 {
		return fmt.Errorf("network.bandwidth_bytes must not be negative")
	}
	if c.Handshake.ProtocolVersion == 0 {
		return fmt.Errorf("handshake.protocol_version must be positive")
	}
	if c.Handshake.Interval <= 0 {
		return fmt.Errorf("handshake.interval must be positive, got %v", c.Handshake.Interval)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.Session.KeepAlive < 0 || c.Session.PeerTimeout < 0 {
		return fmt.Errorf("session durations must not be negative")
	}
	if c.Session.PeerTimeout > 0 && c.Session.KeepAlive >= c.Session.PeerTimeout {
		return fmt.Errorf("session.keepalive %v must be below session.peer_timeout %v",
			c.Session.KeepAlive, c.Session.PeerTimeout)
	}
	if c.Session.MaxPeers <= 0 {
		return fmt.Errorf("session.max_peers must be positive")
	}
	if c.Session.DedupWindow < 0 || c.Session.QueueCapacity < 0 || c.Session.ReadBatch < 0 {
		return fmt.Errorf("session sizes must not be negative")
	}
	if c.Dispatch.CacheCapacity <= 0 {
		return fmt.Errorf("dispatch.cache_capacity must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
