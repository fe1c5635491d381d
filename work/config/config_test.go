package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `{
		"platform": "embedded",
		"playerCommand": "/usr/bin/mpv",
		"userAgent": "KioskTest/1.0",
		"catalogPath": "/data/streams.json",
		"optimizedCatalogPath": "/data/streams-optimized.json",
		"historyPath": "/data/history.db",
		"onCleanExit": "stop",
		"listenAddr": ":8080",
		"categoryLimit": 3,
		"categories": [
			{"label": "Sports", "keywords": ["sport", "espn"]},
			{"label": "Everything", "keywords": []}
		],
		"backupStreams": ["http://backup.example/a.mp4"],
		"tuning": {
			"quickCheckDelay": "250ms",
			"stabilityWindow": "3s",
			"monitorPollInterval": "1m30s",
			"hlsLiveCacheSecs": 1.5
		},
		"prober": {
			"enabled": true,
			"interval": "10m",
			"timeout": "5s",
			"workers": 4,
			"requestsPerSecond": 2
		}
	}`)

	cfg := Load(path)

	assert.Equal(t, "embedded", cfg.Platform)
	assert.Equal(t, "/usr/bin/mpv", cfg.PlayerCommand)
	assert.Equal(t, "stop", cfg.OnCleanExit)
	assert.Equal(t, 3, cfg.CategoryLimit)
	require.Len(t, cfg.Categories, 2)
	assert.Equal(t, "Sports", cfg.Categories[0].Label)

	assert.Equal(t, 250*time.Millisecond, cfg.Tuning.QuickCheckDelay)
	assert.Equal(t, 3*time.Second, cfg.Tuning.StabilityWindow)
	assert.Equal(t, 90*time.Second, cfg.Tuning.MonitorPollInterval)
	assert.Equal(t, 1.5, cfg.Tuning.HLSLiveCacheSecs)

	// Durations left out of the file pick up defaults.
	assert.Equal(t, 5*time.Second, cfg.Tuning.GracefulStopTimeout)

	assert.True(t, cfg.Prober.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Prober.Interval)
	assert.Equal(t, 5*time.Second, cfg.Prober.Timeout)
	assert.Equal(t, 4, cfg.Prober.Workers)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.json"))

	def := Default()
	assert.Equal(t, def.PlayerCommand, cfg.PlayerCommand)
	assert.Equal(t, def.BackupStreams, cfg.BackupStreams)
	assert.Equal(t, "reselect", cfg.OnCleanExit)
	require.NotEmpty(t, cfg.Categories)
	assert.Empty(t, cfg.Categories[len(cfg.Categories)-1].Keywords,
		"cascade must end in the wildcard category")
}

func TestLoadInvalidJSONFallsBackToDefaults(t *testing.T) {
	path := writeConfig(t, `{"playerCommand": `)
	cfg := Load(path)
	assert.Equal(t, Default().PlayerCommand, cfg.PlayerCommand)
}

func TestLoadBadDurationFallsBackToDefaults(t *testing.T) {
	path := writeConfig(t, `{"playerCommand": "vlc", "tuning": {"quickCheckDelay": "nonsense"}}`)
	cfg := Load(path)
	// The half-read file is discarded entirely.
	assert.Equal(t, Default().PlayerCommand, cfg.PlayerCommand)
	assert.Equal(t, 500*time.Millisecond, cfg.Tuning.QuickCheckDelay)
}

func TestLoadMissingThresholdsFallsBackToDefaults(t *testing.T) {
	path := writeConfig(t, `{"playerCommand": "mpv"}`)
	cfg := Load(path)

	// Zero version gates would mark every capability as supported.
	def := Default()
	assert.Equal(t, def.Thresholds.AdvancedCachingMajor, cfg.Thresholds.AdvancedCachingMajor)
	assert.Equal(t, def.Thresholds.AdaptiveMajor, cfg.Thresholds.AdaptiveMajor)
	assert.Equal(t, def.Thresholds.HardwareDecodeMajor, cfg.Thresholds.HardwareDecodeMajor)
	assert.Positive(t, cfg.Thresholds.HardwareDecodeMajor)
}

func TestValidateAppendsWildcardCategory(t *testing.T) {
	path := writeConfig(t, `{
		"categories": [{"label": "News", "keywords": ["news"]}]
	}`)
	cfg := Load(path)

	require.Len(t, cfg.Categories, 2)
	assert.Equal(t, "News", cfg.Categories[0].Label)
	assert.Empty(t, cfg.Categories[1].Keywords)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	path := writeConfig(t, `{
		"platform": "mainframe",
		"onCleanExit": "explode",
		"categoryLimit": -5
	}`)
	cfg := Load(path)

	assert.Equal(t, "auto", cfg.Platform)
	assert.Equal(t, "reselect", cfg.OnCleanExit)
	assert.Equal(t, Default().CategoryLimit, cfg.CategoryLimit)
}

func TestDefaultIsSelfConsistent(t *testing.T) {
	cfg := Default()
	validateAndSetDefaults(cfg)

	assert.NotEmpty(t, cfg.BackupStreams)
	assert.Positive(t, cfg.Tuning.StabilityWindow)
	assert.GreaterOrEqual(t, cfg.Tuning.RetryMaxDelay, cfg.Tuning.RetryBaseDelay)

	wildcard := cfg.Categories[len(cfg.Categories)-1]
	assert.Empty(t, wildcard.Keywords)
}
