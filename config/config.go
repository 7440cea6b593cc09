// Package config provides configuration management for docbridge using Viper.
package config

import (
	"context"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
)

// Load initializes Viper and returns the Config with defaults applied.
// The caller validates it with [Validate].
func Load(cmd *cobra.Command) (*Config, error) {
	viper.SetEnvPrefix("DOCBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cmd.PersistentFlags() != nil {
		_ = viper.BindPFlags(cmd.PersistentFlags())
	}

	if cmd.Flags() != nil {
		_ = viper.BindPFlags(cmd.Flags())
	}

	bindEnvVars()

	var cfg Config

	err := viper.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	cfg.Sync.Collections = trimList(cfg.Sync.Collections)
	cfg.Sync.Include = trimList(cfg.Sync.Include)
	cfg.Sync.Exclude = trimList(cfg.Sync.Exclude)

	if viper.GetBool("no-color") {
		cfg.Log.NoColor = true
	}

	ApplyDefaults(&cfg)

	return &cfg, nil
}

// WarnInsecureSettings logs warnings for settings that weaken the cross-store guarantees.
// Expects the logger to be initialized.
func WarnInsecureSettings(ctx context.Context, cfg *Config) {
	if cfg.Store.TargetStaging == StagingEmulated {
		log.Ctx(ctx).Warn("Target staging is emulated: commit applies target writes without a prepare phase")
	}

	if cfg.Source == "" {
		log.Ctx(ctx).Warn("Source URI is empty; using an in-memory source store")
	}

	if _, ok := os.LookupEnv("DOCBRIDGE_TARGET_PASSWORD"); ok {
		log.Ctx(ctx).Warn("DOCBRIDGE_TARGET_PASSWORD is ignored; put credentials into the target URI")
	}
}

func bindEnvVars() {
	_ = viper.BindEnv("port", "DOCBRIDGE_PORT")

	_ = viper.BindEnv("source", "DOCBRIDGE_SOURCE_URI")
	_ = viper.BindEnv("target", "DOCBRIDGE_TARGET_URI")
	_ = viper.BindEnv("target-driver", "DOCBRIDGE_TARGET_DRIVER")
	_ = viper.BindEnv("dialect", "DOCBRIDGE_DIALECT")

	_ = viper.BindEnv("log-level", "DOCBRIDGE_LOG_LEVEL")
	_ = viper.BindEnv("log-json", "DOCBRIDGE_LOG_JSON")
	_ = viper.BindEnv("log-no-color", "DOCBRIDGE_LOG_NO_COLOR", "DOCBRIDGE_NO_COLOR")

	_ = viper.BindEnv("store-call-timeout", "DOCBRIDGE_STORE_CALL_TIMEOUT")
	_ = viper.BindEnv("target-staging", "DOCBRIDGE_TARGET_STAGING")
	_ = viper.BindEnv("max-request-size", "DOCBRIDGE_MAX_REQUEST_SIZE")

	_ = viper.BindEnv("sync-batch-size", "DOCBRIDGE_SYNC_BATCH_SIZE")
	_ = viper.BindEnv("sync-max-latency", "DOCBRIDGE_SYNC_MAX_LATENCY")
	_ = viper.BindEnv("sync-max-attempts", "DOCBRIDGE_SYNC_MAX_ATTEMPTS")
	_ = viper.BindEnv("sync-initial-backoff", "DOCBRIDGE_SYNC_INITIAL_BACKOFF")
	_ = viper.BindEnv("sync-max-backoff", "DOCBRIDGE_SYNC_MAX_BACKOFF")
	_ = viper.BindEnv("sync-collections", "DOCBRIDGE_SYNC_COLLECTIONS")
	_ = viper.BindEnv("sync-include", "DOCBRIDGE_SYNC_INCLUDE")
	_ = viper.BindEnv("sync-exclude", "DOCBRIDGE_SYNC_EXCLUDE")

	_ = viper.BindEnv("txn-abandon-after", "DOCBRIDGE_TXN_ABANDON_AFTER")
	_ = viper.BindEnv("txn-sweep-schedule", "DOCBRIDGE_TXN_SWEEP_SCHEDULE")
	_ = viper.BindEnv("txn-archive-size", "DOCBRIDGE_TXN_ARCHIVE_SIZE")
}

func trimList(list []string) []string {
	if len(list) == 0 {
		return nil
	}

	rv := make([]string, 0, len(list))

	for _, s := range list {
		s = strings.TrimSpace(s)
		if s != "" {
			rv = append(rv, s)
		}
	}

	return rv
}
