package config

import (
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/percona/percona-docbridge/errors"
)

//nolint:gochecknoglobals
var (
	knownDrivers  = []string{DriverSQLite, DriverMySQL, DriverPostgres, DriverMemory}
	knownDialects = []string{"cosmos", DriverSQLite, DriverMySQL, DriverPostgres}
	knownStaging  = []string{StagingNative, StagingEmulated}
)

// Validate validates the Config for required fields and value ranges.
// Zero values are checked as if [ApplyDefaults] was called.
func Validate(cfg *Config) error {
	port := cfg.Port
	if port == 0 {
		port = DefaultServerPort
	}

	if port <= 1024 || port > 65535 {
		return errors.New("port value is outside the supported range [1024 - 65535]")
	}

	driver := cfg.TargetDriver
	if driver == "" {
		driver = DefaultTargetDriver
	}

	if !slices.Contains(knownDrivers, driver) {
		return errors.Errorf("unknown target driver %q", driver)
	}

	switch {
	case cfg.Target == "" && driver != DriverMemory:
		return errors.New("target URI is empty")
	case cfg.Source != "" && cfg.Source == cfg.Target:
		return errors.New("source URI and target URI are identical")
	}

	if cfg.Dialect != "" && !slices.Contains(knownDialects, cfg.Dialect) {
		return errors.Errorf("unknown dialect %q", cfg.Dialect)
	}

	if cfg.Store.TargetStaging != "" && !slices.Contains(knownStaging, cfg.Store.TargetStaging) {
		return errors.Errorf("unknown target staging mode %q", cfg.Store.TargetStaging)
	}

	if cfg.Store.CallTimeout < 0 {
		return errors.New("store-call-timeout must not be negative")
	}

	if cfg.Store.MaxRequestSize != "" {
		_, err := humanize.ParseBytes(cfg.Store.MaxRequestSize)
		if err != nil {
			return errors.Wrapf(err, "invalid max-request-size value: %s", cfg.Store.MaxRequestSize)
		}
	}

	err := validateSync(&cfg.Sync)
	if err != nil {
		return err
	}

	return validateTxn(&cfg.Txn)
}

func validateSync(s *SyncConfig) error {
	if s.BatchSize < 0 || s.BatchSize > MaxSyncBatchSize {
		return errors.Errorf("sync-batch-size must be within [1 - %d]", MaxSyncBatchSize)
	}

	if s.MaxLatency < 0 {
		return errors.New("sync-max-latency must not be negative")
	}

	if s.MaxAttempts < 0 {
		return errors.New("sync-max-attempts must not be negative")
	}

	if s.InitialBackoff < 0 || s.MaxBackoff < 0 {
		return errors.New("sync backoff must not be negative")
	}

	if s.InitialBackoff != 0 && s.MaxBackoff != 0 && s.InitialBackoff > s.MaxBackoff {
		return errors.New("sync-initial-backoff is greater than sync-max-backoff")
	}

	return nil
}

func validateTxn(t *TxnConfig) error {
	if t.AbandonAfter < 0 {
		return errors.New("txn-abandon-after must not be negative")
	}

	if t.ArchiveSize < 0 {
		return errors.New("txn-archive-size must not be negative")
	}

	if t.SweepSchedule != "" {
		_, err := cron.ParseStandard(t.SweepSchedule)
		if err != nil {
			return errors.Wrapf(err, "invalid txn-sweep-schedule %q", t.SweepSchedule)
		}
	}

	return nil
}
