package config

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// Defaults.
const (
	DefaultServerPort     = 2252
	DefaultTargetDriver   = DriverSQLite
	DefaultStoreTimeout   = 10 * time.Second
	DefaultMaxRequestSize = 4 * humanize.MiByte

	DefaultSyncBatchSize      = 100
	DefaultSyncMaxLatency     = 500 * time.Millisecond
	DefaultSyncMaxAttempts    = 5
	DefaultSyncInitialBackoff = 100 * time.Millisecond
	DefaultSyncMaxBackoff     = 10 * time.Second

	DefaultTxnAbandonAfter  = 5 * time.Minute
	DefaultTxnSweepSchedule = "@every 1m"
	DefaultTxnArchiveSize   = 1000

	MaxSyncBatchSize = 10000
)

// Target drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Staging modes.
const (
	StagingNative   = "native"
	StagingEmulated = "emulated"
)

// ApplyDefaults fills unset values.
func ApplyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultServerPort
	}

	if cfg.TargetDriver == "" {
		cfg.TargetDriver = DefaultTargetDriver
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Store.CallTimeout == 0 {
		cfg.Store.CallTimeout = DefaultStoreTimeout
	}

	if cfg.Store.TargetStaging == "" {
		cfg.Store.TargetStaging = StagingNative
	}

	s := &cfg.Sync
	if s.BatchSize == 0 {
		s.BatchSize = DefaultSyncBatchSize
	}

	if s.MaxLatency == 0 {
		s.MaxLatency = DefaultSyncMaxLatency
	}

	if s.MaxAttempts == 0 {
		s.MaxAttempts = DefaultSyncMaxAttempts
	}

	if s.InitialBackoff == 0 {
		s.InitialBackoff = DefaultSyncInitialBackoff
	}

	if s.MaxBackoff == 0 {
		s.MaxBackoff = DefaultSyncMaxBackoff
	}

	if cfg.Txn.AbandonAfter == 0 {
		cfg.Txn.AbandonAfter = DefaultTxnAbandonAfter
	}

	if cfg.Txn.SweepSchedule == "" {
		cfg.Txn.SweepSchedule = DefaultTxnSweepSchedule
	}

	if cfg.Txn.ArchiveSize == 0 {
		cfg.Txn.ArchiveSize = DefaultTxnArchiveSize
	}
}

// DialectName returns the configured dialect or the one that matches the target driver.
func (c *Config) DialectName() string {
	if c.Dialect != "" {
		return c.Dialect
	}

	if c.TargetDriver == DriverMemory || c.TargetDriver == "" {
		return "cosmos"
	}

	return c.TargetDriver
}

// MaxRequestSizeBytes returns the request body limit. Empty or invalid values
// return [DefaultMaxRequestSize].
func (s *StoreConfig) MaxRequestSizeBytes() int64 {
	size, _ := humanize.ParseBytes(s.MaxRequestSize)
	if size == 0 {
		return DefaultMaxRequestSize
	}

	return int64(min(size, math.MaxInt64)) //nolint:gosec
}
