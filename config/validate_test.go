package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-docbridge/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	const (
		source = "mongodb://source:27017"
		target = "file:/var/lib/docbridge/target.db"
	)

	tests := []struct {
		name    string
		cfg     *config.Config
		wantErr string
	}{
		{
			name: "valid config",
			cfg:  &config.Config{Port: 8080, Source: source, Target: target},
		},
		{
			name: "port zero uses default - valid",
			cfg:  &config.Config{Source: source, Target: target},
		},
		{
			name:    "port below range (1024)",
			cfg:     &config.Config{Port: 1024, Source: source, Target: target},
			wantErr: "port value is outside the supported range",
		},
		{
			name:    "port above range (65536)",
			cfg:     &config.Config{Port: 65536, Source: source, Target: target},
			wantErr: "port value is outside the supported range",
		},
		{
			name:    "target empty",
			cfg:     &config.Config{Source: source},
			wantErr: "target URI is empty",
		},
		{
			name: "memory target needs no URI",
			cfg:  &config.Config{TargetDriver: config.DriverMemory},
		},
		{
			name:    "identical URIs",
			cfg:     &config.Config{Source: source, Target: source},
			wantErr: "source URI and target URI are identical",
		},
		{
			name:    "unknown driver",
			cfg:     &config.Config{Target: target, TargetDriver: "oracle"},
			wantErr: "unknown target driver",
		},
		{
			name:    "unknown dialect",
			cfg:     &config.Config{Target: target, Dialect: "tsql"},
			wantErr: "unknown dialect",
		},
		{
			name: "unknown staging",
			cfg: &config.Config{
				Target: target,
				Store:  config.StoreConfig{TargetStaging: "lazy"},
			},
			wantErr: "unknown target staging mode",
		},
		{
			name: "bad request size",
			cfg: &config.Config{
				Target: target,
				Store:  config.StoreConfig{MaxRequestSize: "lots"},
			},
			wantErr: "invalid max-request-size value",
		},
		{
			name: "batch size too large",
			cfg: &config.Config{
				Target: target,
				Sync:   config.SyncConfig{BatchSize: config.MaxSyncBatchSize + 1},
			},
			wantErr: "sync-batch-size must be within",
		},
		{
			name: "initial backoff above max",
			cfg: &config.Config{
				Target: target,
				Sync: config.SyncConfig{
					InitialBackoff: time.Minute,
					MaxBackoff:     time.Second,
				},
			},
			wantErr: "sync-initial-backoff is greater than sync-max-backoff",
		},
		{
			name: "sweep schedule descriptor",
			cfg: &config.Config{
				Target: target,
				Txn:    config.TxnConfig{SweepSchedule: "@every 30s"},
			},
		},
		{
			name: "bad sweep schedule",
			cfg: &config.Config{
				Target: target,
				Txn:    config.TxnConfig{SweepSchedule: "every minute"},
			},
			wantErr: "invalid txn-sweep-schedule",
		},
		{
			name: "negative archive size",
			cfg: &config.Config{
				Target: target,
				Txn:    config.TxnConfig{ArchiveSize: -1},
			},
			wantErr: "txn-archive-size must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := config.Validate(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
