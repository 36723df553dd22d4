package config

import (
	"time"

	"github.com/KilimcininKorOglu/obadir/internal/logging"
)

// Defaults applied to values the configuration file leaves unset.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultMetricsAddress    = ":9090"
	DefaultMetricsPath       = "/metrics"
	DefaultBackupDirectory   = "/var/lib/obadir/backup"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Replication: ReplicationConfig{
			HeartbeatInterval: DefaultHeartbeatInterval,
			WriteTimeout:      DefaultWriteTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: DefaultMetricsAddress,
			Path:    DefaultMetricsPath,
		},
		Backup: BackupConfig{
			Directory:        DefaultBackupDirectory,
			CompressionLevel: "default",
		},
	}
}

// applyBackendDefaults fills per-backend defaults after decoding.
func applyBackendDefaults(c *Config) {
	for i := range c.Backends {
		if c.Backends[i].Writability == "" {
			c.Backends[i].Writability = "enabled"
		}
	}
}
