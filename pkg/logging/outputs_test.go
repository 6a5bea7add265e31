package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleOutputColor(t *testing.T) {
	tests := []struct {
		name     string
		severity Severity
		color    bool
	}{
		{"ColorDebug", DEBUG, true},
		{"ColorInfo", INFO, true},
		{"ColorWarn", WARN, true},
		{"ColorError", ERROR, true},
		{"ColorFatal", FATAL, true},
		{"NoColor", INFO, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buffer := &bytes.Buffer{}
			console := &ConsoleOutput{
				writer: buffer,
				color:  tt.color,
			}

			entry := LogEntry{
				Time:     time.Now().UnixNano(),
				Severity: tt.severity,
				Message:  "test message",
			}

			err := console.Write(entry)
			require.NoError(t, err)

			output := buffer.String()
			if tt.color {
				assert.Contains(t, output, "\033[")
			} else {
				assert.NotContains(t, output, "\033[")
			}
		})
	}
}

func TestOutputSyncAndClose(t *testing.T) {
	// Test with file output
	tmpFile, err := os.CreateTemp("", "log-test-*")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	console := &ConsoleOutput{
		writer: tmpFile,
		color:  false,
	}

	// Test Sync
	err = console.Sync()
	assert.NoError(t, err)

	// Test Close
	err = console.Close()
	assert.NoError(t, err)

	// Test with non-syncable writer
	buffer := &bytes.Buffer{}
	console = &ConsoleOutput{
		writer: buffer,
		color:  false,
	}

	err = console.Sync()
	assert.NoError(t, err)

	err = console.Close()
	assert.NoError(t, err)
}

func TestConsoleOutputCorrelationIDs(t *testing.T) {
	buffer := &bytes.Buffer{}
	console := &ConsoleOutput{writer: buffer}

	err := console.Write(LogEntry{
		Time:      time.Now().UnixNano(),
		Severity:  INFO,
		Message:   "generation complete",
		ModelID:   "claude-sonnet-4-5",
		AttemptID: "attempt-7",
		TokenInfo: &TokenInfo{TotalTokens: 321},
	})
	require.NoError(t, err)

	output := buffer.String()
	assert.Contains(t, output, "[model=claude-sonnet-4-5]")
	assert.Contains(t, output, "[attempt=attempt-7]")
	assert.Contains(t, output, "[tokens=321]")
}

func TestJSONOutput(t *testing.T) {
	buffer := &bytes.Buffer{}
	out := NewJSONOutput(buffer)

	err := out.Write(LogEntry{
		Time:      time.Now().UnixNano(),
		Severity:  WARN,
		Message:   "schema violation",
		ModelID:   "llama3",
		AttemptID: "attempt-9",
		Fields:    map[string]interface{}{"section": "strategies"},
	})
	require.NoError(t, err)
	require.NoError(t, out.Sync())

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &decoded))
	assert.Equal(t, "WARN", decoded["severity"])
	assert.Equal(t, "schema violation", decoded["message"])
	assert.Equal(t, "llama3", decoded["model_id"])
	assert.Equal(t, "attempt-9", decoded["attempt_id"])

	fields, ok := decoded["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "strategies", fields["section"])
}
