package capability

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-kiosk/work/config"
)

func defaultThresholds() config.Thresholds {
	return config.Default().Thresholds
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		major    int
		minor    int
		hwDecode bool
		caching  bool
		adaptive bool
	}{
		{
			name:  "old mpv build",
			line:  "mpv 0.35.1 Copyright (C) 2000-2023 mpv/MPlayer/mplayer2 projects",
			major: 0, minor: 35,
		},
		{
			name:  "vlc three series",
			line:  "VLC media player 3.0.18 Vetinari (revision 3.0.13-8-g41878ff4f2)",
			major: 3, minor: 0,
			hwDecode: true, caching: true, adaptive: true,
		},
		{
			name:  "two series below every threshold",
			line:  "VLC media player 2.2.6 Umbrella",
			major: 2, minor: 2,
		},
		{
			name:  "version without patch",
			line:  "player 4.2",
			major: 4, minor: 2,
			hwDecode: true, caching: true, adaptive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Parse(tt.line, defaultThresholds())
			assert.Equal(t, tt.major, info.Major)
			assert.Equal(t, tt.minor, info.Minor)
			assert.Equal(t, tt.hwDecode, info.SupportsHardwareDecode)
			assert.Equal(t, tt.caching, info.SupportsAdvancedCaching)
			assert.Equal(t, tt.adaptive, info.SupportsAdaptiveStreaming)
			assert.NotEmpty(t, info.VersionLine)
		})
	}
}

func TestParseUnparseable(t *testing.T) {
	info := Parse("no version here", defaultThresholds())
	assert.Equal(t, Info{}, info)
	assert.True(t, info.Nothing())
}

func TestProbeMissingBinary(t *testing.T) {
	info := Probe("/nonexistent/player-binary", 500*time.Millisecond, defaultThresholds())
	assert.Equal(t, Info{}, info)
}

func TestProbeFakePlayer(t *testing.T) {
	script := filepath.Join(t.TempDir(), "fake-player")
	err := os.WriteFile(script, []byte("#!/bin/sh\necho 'fakeplayer 3.1.0 test build'\n"), 0o755)
	require.NoError(t, err)

	info := Probe(script, 2*time.Second, defaultThresholds())
	assert.Equal(t, 3, info.Major)
	assert.Equal(t, 1, info.Minor)
	assert.True(t, info.SupportsHardwareDecode)
}

func TestNothing(t *testing.T) {
	assert.True(t, Info{}.Nothing())
	assert.False(t, Info{SupportsHardwareDecode: true}.Nothing())
	assert.False(t, Info{SupportsAdaptiveStreaming: true}.Nothing())
}
