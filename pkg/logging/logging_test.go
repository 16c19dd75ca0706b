package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":     LevelDebug,
		"DEBUG":     LevelDebug,
		" info ":    LevelInfo,
		"warn":      LevelWarn,
		"Warning":   LevelWarn,
		"error":     LevelError,
		"":          LevelInfo,
		"trace":     LevelInfo,
		"verbose-x": LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"json":  FormatJSON,
		"JSON":  FormatJSON,
		"text":  FormatText,
		"auto":  FormatAuto,
		" Auto": FormatAuto,
		"":      FormatText,
		"yaml":  FormatText,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseFormat(in), "ParseFormat(%q)", in)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})
	logger.Debug("rule matched", "rule", "health")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rule matched", entry["msg"])
	assert.Equal(t, "health", entry["rule"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Format: FormatText, Output: &buf})
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_AutoFormatNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatAuto, Output: &buf})
	logger.Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "non-terminal output uses JSON")
}

func TestNewWithCloser_File(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "mockproxy.log")

	logger, closeFn := NewWithCloser(Config{
		Format: FormatText,
		Output: &buf,
		File:   FileConfig{Path: path, MaxSizeMB: 1},
	})
	logger.Info("reloaded", "rules", 3)
	require.NoError(t, closeFn())

	assert.Contains(t, buf.String(), "reloaded")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"rules":3`)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Error("discarded") })
}

type failingHandler struct{ err error }

func (h failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h failingHandler) Handle(context.Context, slog.Record) error { return h.err }
func (h failingHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h failingHandler) WithGroup(string) slog.Handler             { return h }

func TestFanout(t *testing.T) {
	var debug, warn bytes.Buffer
	h := newFanout(
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: LevelDebug}),
		slog.NewJSONHandler(&warn, &slog.HandlerOptions{Level: LevelWarn}),
	)
	logger := slog.New(h).With("component", "resolver").WithGroup("req")

	logger.Debug("cache miss", "rule", "users")
	logger.Warn("pattern timeout", "rule", "slow")

	assert.Contains(t, debug.String(), "cache miss")
	assert.Contains(t, debug.String(), "component=resolver")
	assert.Contains(t, debug.String(), "req.rule=slow")
	assert.NotContains(t, warn.String(), "cache miss")
	assert.Contains(t, warn.String(), `"req":{"rule":"slow"}`)
}

func TestFanout_SingleHandler(t *testing.T) {
	inner := slog.NewTextHandler(&bytes.Buffer{}, nil)
	assert.Equal(t, slog.Handler(inner), newFanout(inner))
}

func TestFanout_JoinsErrors(t *testing.T) {
	errA := errors.New("disk full")
	errB := errors.New("closed")
	var buf bytes.Buffer
	h := newFanout(failingHandler{errA}, slog.NewTextHandler(&buf, nil), failingHandler{errB})

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), LevelInfo, "reload", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, buf.String(), "reload")
}
