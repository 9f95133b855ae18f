package loggy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONWithSource(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: slog.LevelDebug, Format: "json", AddSource: true})

	logger.Info("listing children", "path", "/docs")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "listing children", record["msg"])
	assert.Equal(t, "/docs", record["path"])
	assert.Contains(t, record["source"], "loggy_test.go")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: slog.LevelWarn, Format: "text"})

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithErrorAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: slog.LevelInfo, Format: "json"})

	logger.WithError(errors.New("boom")).Error("failed")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "boom", record["error"])
	assert.Equal(t, "*errors.errorString", record["error_type"])
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() {
		logger.Info("nothing")
		logger.With("k", "v").Warn("still nothing")
	})
}

func TestWithOperationTagsContext(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, Config{Level: slog.LevelInfo, Format: "json"})

	ctx, logger := WithOperation(context.Background(), base, "include")
	id := OperationID(ctx)
	require.NotEmpty(t, id)
	assert.Same(t, logger, FromContext(ctx))

	logger.Info("started")
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "include", record["operation"])
	assert.Equal(t, id, record["operation_id"])

	again, _ := WithOperation(ctx, base, "refresh")
	assert.Equal(t, id, OperationID(again), "an existing operation id is reused")
}
