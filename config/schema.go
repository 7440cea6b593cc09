package config

import (
	"time"
)

// Config holds all docbridge configuration.
type Config struct {
	Port   int    `mapstructure:"port"`
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`

	// TargetDriver is one of "sqlite", "mysql", "postgres" or "memory".
	TargetDriver string `mapstructure:"target-driver"`
	// Dialect overrides the SQL dialect derived from TargetDriver.
	Dialect string `mapstructure:"dialect"`

	Log LogConfig `mapstructure:",squash"`

	Store StoreConfig `mapstructure:",squash"`

	Sync SyncConfig `mapstructure:",squash"`

	Txn TxnConfig `mapstructure:",squash"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"log-level"`
	JSON    bool   `mapstructure:"log-json"`
	NoColor bool   `mapstructure:"log-no-color"`
}

// StoreConfig holds connector settings.
type StoreConfig struct {
	// CallTimeout bounds every single store call made by the coordinator.
	CallTimeout time.Duration `mapstructure:"store-call-timeout"`
	// TargetStaging is "native" or "emulated".
	TargetStaging string `mapstructure:"target-staging"`
	// MaxRequestSize limits HTTP request bodies (e.g. "4MiB").
	MaxRequestSize string `mapstructure:"max-request-size"`
}

// SyncConfig holds change-capture synchronization settings.
type SyncConfig struct {
	BatchSize      int           `mapstructure:"sync-batch-size"`
	MaxLatency     time.Duration `mapstructure:"sync-max-latency"`
	MaxAttempts    int           `mapstructure:"sync-max-attempts"`
	InitialBackoff time.Duration `mapstructure:"sync-initial-backoff"`
	MaxBackoff     time.Duration `mapstructure:"sync-max-backoff"`
	// Collections are started when the server starts ("db.coll").
	Collections []string `mapstructure:"sync-collections"`
	Include     []string `mapstructure:"sync-include"`
	Exclude     []string `mapstructure:"sync-exclude"`
}

// TxnConfig holds transaction coordinator settings.
type TxnConfig struct {
	AbandonAfter  time.Duration `mapstructure:"txn-abandon-after"`
	SweepSchedule string        `mapstructure:"txn-sweep-schedule"`
	ArchiveSize   int           `mapstructure:"txn-archive-size"`
}
