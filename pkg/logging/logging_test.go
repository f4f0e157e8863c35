package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		// Lowercase
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},

		// Uppercase
		{"DEBUG", LevelDebug},
		{"INFO", LevelInfo},
		{"WARN", LevelWarn},
		{"WARNING", LevelWarn},
		{"ERROR", LevelError},

		// Mixed case
		{"Debug", LevelDebug},
		{"Info", LevelInfo},
		{"Warn", LevelWarn},
		{"Warning", LevelWarn},
		{"Error", LevelError},
		{"dEbUg", LevelDebug},

		// Empty string defaults to Info
		{"", LevelInfo},

		// Unrecognized defaults to Info
		{"trace", LevelInfo},
		{"fatal", LevelInfo},
		{"unknown", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
	}{
		{"json", FormatJSON},
		{"JSON", FormatJSON},
		{"Json", FormatJSON},
		{"text", FormatText},
		{"TEXT", FormatText},
		{"", FormatText},
		{" json ", FormatJSON},
		{"yaml", FormatText}, // unrecognized defaults to text
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseFormat(tt.input)
			if result != tt.expected {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNew_Formats(t *testing.T) {
	var text bytes.Buffer
	New(Config{Level: LevelInfo, Format: FormatText, Output: &text}).Info("rules written", "class", "OrderTest")
	assert.Contains(t, text.String(), "msg=\"rules written\"")
	assert.Contains(t, text.String(), "class=OrderTest")

	var js bytes.Buffer
	New(Config{Level: LevelInfo, Format: FormatJSON, Output: &js}).Debug("hidden")
	assert.Empty(t, js.String())
	New(Config{Level: LevelInfo, Format: FormatJSON, Output: &js}).Warn("shown", "path", "a.b")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "a.b", rec["path"])
}

func TestOpen_WritesRotatingFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "stablemock.log")

	log, closer := Open(Config{
		Level:  LevelDebug,
		Output: &console,
		File:   &FileConfig{Path: path, MaxSizeMB: 1},
	})
	log.With("class", "C").Debug("analyzed", "endpoint", "POST /x")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "analyzed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "analyzed", rec["msg"])
	assert.Equal(t, "C", rec["class"])
	assert.Equal(t, "POST /x", rec["endpoint"])
}

func TestOpen_WithoutFile(t *testing.T) {
	var console bytes.Buffer
	log, closer := Open(Config{Output: &console})
	log.Info("hello")
	assert.NoError(t, closer.Close())
	assert.Contains(t, console.String(), "hello")
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Error("dropped")
	assert.False(t, log.Enabled(t.Context(), LevelError))
}
