package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"none":    SILENT,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	level, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, INFO, level)
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Loop", "tick %d", 1)
	assert.Empty(t, buf.String())

	l.Warn("Loop", "dispatch failed at tick %d", 20)
	out := buf.String()
	assert.Contains(t, out, "[Loop]")
	assert.Contains(t, out, "dispatch failed at tick 20")
}

func TestLoggerSilentDropsEverything(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, false)

	l.Error("Loop", "boom")
	l.With("Loop", Fields{"run_id": "abc"}).Error("boom")
	assert.Empty(t, buf.String())
}

func TestLoggerWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf, false)

	l.With("Driver", Fields{"run_id": "r-1"}).Info("connected")
	out := buf.String()
	assert.Contains(t, out, "[Driver]")
	assert.Contains(t, out, "[r-1]")
	assert.Contains(t, out, "connected")
}

func TestSetLevelAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	l := New(ERROR, &buf, false)
	l.Debug("Loop", "hidden")
	assert.Empty(t, buf.String())

	l.SetLevel(DEBUG)
	assert.Equal(t, DEBUG, l.GetLevel())
	l.Debug("Loop", "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestGlobalWithBeforeInitDiscards(t *testing.T) {
	if defaultLogger != nil {
		t.Skip("global logger already initialized")
	}
	entry := With("Loop", nil)
	require.NotNil(t, entry)
	entry.Info("goes nowhere")
}
