package common

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestNewDefaultConfig_ValidWithMasterKey(t *testing.T) {
	config := NewDefaultConfig()
	assert.Error(t, config.Validate(), "master key is required")

	config.Security.MasterKey = testMasterKey
	require.NoError(t, config.Validate())

	assert.Equal(t, 5, config.Jobs.Workers)
	assert.Equal(t, 10*time.Minute, config.JobTTL())
	assert.Equal(t, "Asia/Tokyo", config.Location().String())
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	base := writeConfig(t, "base.toml", `
[server]
port = 9000

[jobs]
workers = 3

[portal]
timezone = "UTC"
`)
	override := writeConfig(t, "override.toml", `
[server]
port = 9100

[refresh]
enabled = false
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, 3, config.Jobs.Workers)
	assert.Equal(t, "UTC", config.Portal.Timezone)
	assert.False(t, config.Refresh.Enabled)
	assert.Equal(t, "localhost", config.Server.Host, "untouched defaults survive")
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadFromFiles_EnvOverridesFiles(t *testing.T) {
	path := writeConfig(t, "c.toml", "[server]\nport = 9000\n")
	t.Setenv("CAMPUSSYNC_SERVER_PORT", "9200")
	t.Setenv("CAMPUSSYNC_API_KEY", "from-env")
	t.Setenv("CAMPUSSYNC_LOG_OUTPUT", "stdout, ,file")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, config.Server.Port)
	assert.Equal(t, "from-env", config.Security.APIKey)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8080, config.Server.Port)

	ApplyFlagOverrides(config, 7000, "0.0.0.0")
	assert.Equal(t, 7000, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestMasterKeyBytes(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	tests := []struct {
		name    string
		key     string
		wantLen int
		wantErr bool
	}{
		{"raw 32 chars", testMasterKey, 32, false},
		{"base64 of 32 bytes", base64.StdEncoding.EncodeToString(raw), 32, false},
		{"too short", "short", 0, true},
		{"base64 of 16 bytes", base64.StdEncoding.EncodeToString(raw[:16]), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			config.Security.MasterKey = tt.key
			key, err := config.MasterKeyBytes()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, key, tt.wantLen)
		})
	}
}

func TestRefreshSchedule(t *testing.T) {
	config := NewDefaultConfig()
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	schedule, err := config.RefreshSchedule()
	require.NoError(t, err)
	assert.Equal(t, now.Add(80*time.Minute), schedule.Next(now))

	config.Refresh.Interval = "90m"
	_, err = config.RefreshSchedule()
	assert.Error(t, err, "interval must be shorter than the session lifetime")

	config.Refresh.Interval = "0s"
	_, err = config.RefreshSchedule()
	assert.Error(t, err)

	config.Refresh.Schedule = "*/30 * * * *"
	schedule, err = config.RefreshSchedule()
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), schedule.Next(now))

	config.Refresh.Schedule = "not a cron"
	_, err = config.RefreshSchedule()
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"workers", func(c *Config) { c.Jobs.Workers = 0 }},
		{"ttl", func(c *Config) { c.Jobs.TTL = "soon" }},
		{"timezone", func(c *Config) { c.Portal.Timezone = "Mars/Olympus" }},
		{"login url", func(c *Config) { c.Portal.LoginURL = "not a url" }},
		{"refresh interval", func(c *Config) { c.Refresh.Interval = "2h" }},
		{"production reset", func(c *Config) {
			c.Environment = "production"
			c.Storage.Badger.ResetOnStartup = true
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			config.Security.MasterKey = testMasterKey
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestValidate_DisabledRefreshSkipsScheduleCheck(t *testing.T) {
	config := NewDefaultConfig()
	config.Security.MasterKey = testMasterKey
	config.Refresh.Enabled = false
	config.Refresh.Interval = "2h"
	assert.NoError(t, config.Validate())
}
