package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/logging"
	"chromite/internal/services"
)

func TestNewJSONWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "out.log")
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", Outputs: []string{path}})
	require.NoError(t, err)

	logger.Info("hello", logging.String("board", "eve"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "eve", entry["board"])
	assert.Contains(t, entry, "ts")
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := logging.New(logging.Options{Format: "xml"})
	assert.Error(t, err)
}

func TestConsolePrefixIncludesStageAndBoard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", Outputs: []string{path}})
	require.NoError(t, err)

	ctx := services.WithStage(context.Background(), "BuildPackages")
	ctx = services.WithBoard(ctx, "eve")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "cbuildbot")).Info("stage started", logging.Int("jobs", 8))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "INFO cbuildbot[BuildPackages:eve]: stage started")
	assert.Contains(t, line, "jobs=8")
	assert.False(t, strings.Contains(line, "stage=BuildPackages"))
}

func TestConsoleGroupsAndQuoting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Outputs: []string{path, path}})
	require.NoError(t, err)

	logger.With(logging.String("builder", "eve-release")).
		WithGroup("gs").
		Info("upload", logging.String("object", "a b"), logging.Duration("took", 1500*time.Millisecond))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Equal(t, 1, strings.Count(string(data), "\n"), "duplicate outputs are written once")
	assert.Contains(t, line, `INFO upload builder=eve-release gs.object="a b" gs.took=1.5s`)
}

func TestContextFields(t *testing.T) {
	ctx := services.WithBuildID(context.Background(), 7)
	ctx = services.WithRequestID(ctx, "abc")
	fields := logging.ContextFields(ctx)
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{logging.FieldBuildID, logging.FieldCorrelationID}, keys)
}

func TestOpenBuildLogTees(t *testing.T) {
	var base bytes.Buffer
	baseLogger := slog.New(slog.NewTextHandler(&base, nil))
	path := filepath.Join(t.TempDir(), "builds", "b.log")

	logger, buildLog, err := logging.OpenBuildLog(baseLogger, path)
	require.NoError(t, err)
	logger.Info("stage passed", logging.String("stage", "InitSDK"))
	require.NoError(t, buildLog.Close())

	assert.Contains(t, base.String(), "stage passed")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stage":"InitSDK"`)
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WarnWithContext(logger, "slow upload", "gs_upload_slow")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "gs_upload_slow", entry[logging.FieldEventType])
	assert.Contains(t, entry, logging.FieldErrorHint)
	assert.Contains(t, entry, logging.FieldImpact)
}
