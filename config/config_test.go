package config_test

import (
	"testing"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"

	"github.com/percona/percona-docbridge/config"
)

func TestStoreConfig_MaxRequestSizeBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  int64
	}{
		{name: "empty string - default", value: "", want: config.DefaultMaxRequestSize},
		{name: "valid size 16MiB", value: "16MiB", want: 16 * humanize.MiByte},
		{name: "valid size 500KB", value: "500KB", want: 500 * humanize.KByte},
		{name: "invalid format - default", value: "abc", want: config.DefaultMaxRequestSize},
		{name: "zero - default", value: "0", want: config.DefaultMaxRequestSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.StoreConfig{MaxRequestSize: tt.value}
			assert.Equal(t, tt.want, cfg.MaxRequestSizeBytes())
		})
	}
}

func TestConfig_DialectName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		driver  string
		dialect string
		want    string
	}{
		{name: "memory uses cosmos", driver: config.DriverMemory, want: "cosmos"},
		{name: "unset driver uses cosmos", want: "cosmos"},
		{name: "sqlite", driver: config.DriverSQLite, want: "sqlite"},
		{name: "postgres", driver: config.DriverPostgres, want: "postgres"},
		{name: "explicit dialect wins", driver: config.DriverMySQL, dialect: "cosmos", want: "cosmos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{TargetDriver: tt.driver, Dialect: tt.dialect}
			assert.Equal(t, tt.want, cfg.DialectName())
		})
	}
}
