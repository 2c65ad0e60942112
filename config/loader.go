package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment variable prefix for overrides.
const EnvPrefix = "SIMSYNC"

// Load reads configuration from path (optional, YAML) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key of Default so that environment overrides
// apply to keys absent from the file.
func setDefaults(v *viper.Viper) {
	for section, values := range Default().tree() {
		for key, value := range values {
			v.SetDefault(section+"."+key, value)
		}
	}
}

// WriteYAML writes the configuration as YAML that Load accepts.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.tree()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// tree renders the configuration as section → key → value with durations
// in their string form.
func (c *Config) tree() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"network": {
			"listen":          c.Network.Listen,
			"server":          c.Network.Server,
			"max_datagram":    c.Network.MaxDatagram,
			"bandwidth_bytes": c.Network.BandwidthBytes,
			"burst":           c.Network.Burst,
			"write_timeout":   c.Network.WriteTimeout.String(),
		},
		"handshake": {
			"protocol_version": c.Handshake.ProtocolVersion,
			"interval":         c.Handshake.Interval.String(),
			"timeout":          c.Handshake.Timeout.String(),
		},
		"retry": {
			"initial":              c.Retry.Initial.String(),
			"step":                 c.Retry.Step.String(),
			"cap":                  c.Retry.Cap.String(),
			"max_attempts":         c.Retry.MaxAttempts,
			"drop_peer_on_abandon": c.Retry.DropPeerOnAbandon,
		},
		"session": {
			"keepalive":      c.Session.KeepAlive.String(),
			"peer_timeout":   c.Session.PeerTimeout.String(),
			"max_peers":      c.Session.MaxPeers,
			"dedup_window":   c.Session.DedupWindow,
			"queue_capacity": c.Session.QueueCapacity,
			"read_batch":     c.Session.ReadBatch,
		},
		"dispatch": {
			"cache_capacity": c.Dispatch.CacheCapacity,
		},
		"log": {
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"compress":     c.Log.Compress,
		},
		"metrics": {
			"enabled": c.Metrics.Enabled,
			"listen":  c.Metrics.Listen,
			"path":    c.Metrics.Path,
		},
	}
}
