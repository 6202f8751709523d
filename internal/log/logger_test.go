package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/indiseek/indiseek/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, config.LogFormatJSON, "INFO")
	l.Info("repo added", "repo_id", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "repo added", rec["msg"])
	assert.Equal(t, float64(1), rec["repo_id"])
}

func TestNewLoggerWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, config.LogFormatJSON, "WARN")

	l.Info("hidden")
	l.Debug("hidden too")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DEBUG", "DEBUG"},
		{"debug", "DEBUG"},
		{"WARNING", "WARN"},
		{"ERROR", "ERROR"},
		{"nonsense", "INFO"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in).String(), "input %q", tt.in)
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, config.LogFormatJSON, "INFO")
	l.With("component", "pipeline").Info("stage done")

	assert.Contains(t, buf.String(), `"component":"pipeline"`)
}

func TestTerminalHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, config.LogFormatPretty, "DEBUG")
	l.Info("server started", "port", 8420, "path", "/api health")

	out := buf.String()
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "server started")
	assert.Contains(t, out, "port=")
	// Values with spaces are quoted.
	assert.Contains(t, out, `"/api health"`)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestTerminalHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, config.LogFormatPretty, "INFO")
	l.Slog().WithGroup("task").Info("progress", "stage", "embed")

	assert.Contains(t, buf.String(), "task.stage=")
}
