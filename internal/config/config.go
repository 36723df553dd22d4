// Package config provides configuration parsing and validation for the
// directory server.
package config

import (
	"time"

	"github.com/KilimcininKorOglu/obadir/internal/logging"
)

// Config holds the complete server configuration.
type Config struct {
	Logging     logging.Config    `yaml:"logging"`
	Backends    []BackendConfig   `yaml:"backends" validate:"dive"`
	Replication ReplicationConfig `yaml:"replication"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Backup      BackupConfig      `yaml:"backup"`
	Import      ImportConfig      `yaml:"import"`
}

// BackendConfig describes one backend. A snapshot of it is handed to the
// backend on Configure.
type BackendConfig struct {
	ID          string        `yaml:"id" validate:"required,backendid"`
	Type        string        `yaml:"type" validate:"required,oneof=memory badger"`
	BaseDNs     []string      `yaml:"baseDNs" validate:"required,min=1,dive,dn"`
	Writability string        `yaml:"writability" validate:"omitempty,oneof=enabled disabled internal-only"`
	Private     bool          `yaml:"private"`
	Path        string        `yaml:"path" validate:"required_if=Type badger"`
	SyncWrites  bool          `yaml:"syncWrites"`
	Indexes     []IndexConfig `yaml:"indexes" validate:"dive"`
}

// IndexConfig declares the indexes kept for one attribute.
type IndexConfig struct {
	Attribute     string   `yaml:"attribute" validate:"required"`
	Types         []string `yaml:"types" validate:"dive,oneof=equality presence substring ordering approximate"`
	MatchingRules []string `yaml:"matchingRules" validate:"dive,required"`
}

// ReplicationConfig holds replication session settings.
type ReplicationConfig struct {
	ServerID          string        `yaml:"serverID"`
	// Listen is the address peers connect to. Empty disables the listener.
	Listen            string        `yaml:"listen" validate:"omitempty,hostname_port"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" validate:"gte=0"`
	WriteTimeout      time.Duration `yaml:"writeTimeout" validate:"gte=0"`
	Peers             []PeerConfig  `yaml:"peers" validate:"dive"`
}

// PeerConfig identifies a replication peer.
type PeerConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Address string `yaml:"address" validate:"required,hostname_port"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address" validate:"omitempty,hostname_port"`
	Path    string `yaml:"path"`
}

// BackupConfig holds backup directory settings.
type BackupConfig struct {
	Directory        string `yaml:"directory"`
	CompressionLevel string `yaml:"compressionLevel" validate:"omitempty,oneof=fastest default better best"`
}

// ImportConfig holds LDIF import settings.
type ImportConfig struct {
	// MaxEntriesPerSecond throttles imports. Zero disables throttling.
	MaxEntriesPerSecond int `yaml:"maxEntriesPerSecond" validate:"gte=0"`
}

// Backend returns the configuration of the backend with the given ID.
func (c *Config) Backend(id string) (*BackendConfig, bool) {
	for i := range c.Backends {
		if c.Backends[i].ID == id {
			return &c.Backends[i], true
		}
	}
	return nil, false
}
