package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configContent := `
global:
  log_level: info
  timezone: Europe/Sofia
ingest:
  results_dirs:
    - ./original-results
  scan_interval: 15s
storage:
  history_dir: ./original-history
server:
  listen: ":9000"
  rate_limit:
    enabled: false
`

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "Europe/Sofia", cfg.Global.Timezone)
				assert.Equal(t, []string{"./original-results"}, cfg.Ingest.ResultsDirs)
				assert.Equal(t, "./original-history", cfg.Storage.HistoryDir)
				assert.Equal(t, ":9000", cfg.Server.Listen)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"ROBOMETRICS_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "string override - timezone",
			envVars: map[string]string{
				"ROBOMETRICS_GLOBAL_TIMEZONE": "UTC",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "UTC", cfg.Global.Timezone)
			},
		},
		{
			name: "nested field override - scan_interval",
			envVars: map[string]string{
				"ROBOMETRICS_INGEST_SCAN_INTERVAL": "5m",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "5m", cfg.Ingest.ScanInterval)
			},
		},
		{
			name: "nested field override - history_dir",
			envVars: map[string]string{
				"ROBOMETRICS_STORAGE_HISTORY_DIR": "/srv/history",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/srv/history", cfg.Storage.HistoryDir)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, configContent))
			require.NoError(t, err)

			tc.validate(t, cfg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "global: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, []string{DefaultResultsDir}, cfg.Ingest.ResultsDirs)
	assert.Equal(t, DefaultScanInterval, cfg.Ingest.ScanInterval)
	assert.Equal(t, DefaultHistoryDir, cfg.Storage.HistoryDir)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)

	// Point the history dir at a parent that exists here.
	cfg.Storage.HistoryDir = filepath.Join(t.TempDir(), "history")
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name: "bad timezone",
			mutate: func(cfg *Config) {
				cfg.Global.Timezone = "Mars/Olympus"
			},
			wantErr: "invalid timezone",
		},
		{
			name: "bad scan interval",
			mutate: func(cfg *Config) {
				cfg.Ingest.ScanInterval = "whenever"
			},
			wantErr: "invalid scan_interval",
		},
		{
			name: "negative concurrency",
			mutate: func(cfg *Config) {
				cfg.Ingest.Concurrency = -1
			},
			wantErr: "concurrency",
		},
		{
			name: "index enabled without sqlite path",
			mutate: func(cfg *Config) {
				cfg.Storage.Index = &IndexConfig{
					Enabled:  true,
					Database: DatabaseConfig{Driver: "sqlite"},
				}
			},
			wantErr: "sqlite path is required",
		},
		{
			name: "index with unknown driver",
			mutate: func(cfg *Config) {
				cfg.Storage.Index = &IndexConfig{
					Enabled:  true,
					Database: DatabaseConfig{Driver: "oracle"},
				}
			},
			wantErr: "unsupported database driver",
		},
		{
			name: "s3 enabled without bucket",
			mutate: func(cfg *Config) {
				cfg.Storage.S3 = &S3MirrorConfig{Enabled: true}
			},
			wantErr: "bucket is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Storage.HistoryDir = filepath.Join(t.TempDir(), "history")
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParseTimezone(t *testing.T) {
	tests := []struct {
		name     string
		tz       string
		wantName string
		wantErr  bool
	}{
		{name: "empty means local", tz: "", wantName: time.Local.String()},
		{name: "iana name", tz: "UTC", wantName: "UTC"},
		{name: "positive fixed offset", tz: "+03:00"},
		{name: "negative fixed offset", tz: "-05:30"},
		{name: "garbage", tz: "not-a-zone", wantErr: true},
		{name: "malformed offset", tz: "+3:00", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Global.Timezone = tc.tz

			loc, err := cfg.ParseTimezone()
			if tc.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			require.NotNil(t, loc)

			if tc.wantName != "" {
				assert.Equal(t, tc.wantName, loc.String())
			}
		})
	}
}

func TestParseTimezone_FixedOffsetValue(t *testing.T) {
	cfg := Default()
	cfg.Global.Timezone = "+03:00"

	loc, err := cfg.ParseTimezone()
	require.NoError(t, err)

	_, offset := time.Date(2024, 1, 15, 10, 0, 0, 0, loc).Zone()
	assert.Equal(t, 3*60*60, offset)
}
