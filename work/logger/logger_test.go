package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLogLevel("INFO")
	})
	return &buf
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"WARN", WARN},
		{"warning", WARN},
		{"ERROR", ERROR},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogLevel(tt.in), "input %q", tt.in)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)

	SetLogLevel("WARN")
	Debug("hidden debug")
	Info("hidden info")
	Warn("visible warn")
	Error("visible error")

	out := buf.String()
	assert.NotContains(t, out, "hidden debug")
	assert.NotContains(t, out, "hidden info")
	assert.Contains(t, out, "[WARN] visible warn")
	assert.Contains(t, out, "[ERROR] visible error")
}

func TestDebugLevelShowsEverything(t *testing.T) {
	buf := captureOutput(t)

	SetLogLevel("DEBUG")
	Debug("{pkg - Func} detail %d", 42)

	assert.Contains(t, buf.String(), "[DEBUG] {pkg - Func} detail 42")
	assert.Equal(t, "DEBUG", GetLogLevel())
}
