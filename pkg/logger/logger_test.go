package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "app.log")

	log, err := NewLogger(
		WithLevel("debug"),
		WithOutputPaths([]string{path}),
		WithErrorPaths(nil),
		WithInitialFields(map[string]interface{}{"service": "test"}),
	)
	require.NoError(t, err)

	log.Named("queue").Info("job enqueued", String("job_id", "extract:doc-1"), Int("attempt", 1))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "job enqueued", entry["message"])
	assert.Equal(t, "queue", entry["logger"])
	assert.Equal(t, "extract:doc-1", entry["job_id"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(WithLevel("loud"), WithOutputPaths([]string{"stdout"}), WithErrorPaths(nil))
	assert.Error(t, err)
}

func TestTestLoggerSharesEntriesAcrossChildren(t *testing.T) {
	log := NewTestLogger()
	child := log.Named("worker").With(String("job_id", "j1"))

	child.Warn("retrying")
	log.Info("started")

	entries := log.GetEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "worker", entries[0].Logger)
	assert.Len(t, entries[0].Fields, 1)
	assert.True(t, log.HasMessage("INFO", "start"))
	assert.NoError(t, child.Sync())

	log.Clear()
	assert.Empty(t, log.GetEntries())
}

func TestContextLoggerAddsRequestFields(t *testing.T) {
	base := NewTestLogger()
	cl := NewContextLogger(base)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithUserID(ctx, "user-9")
	cl.FromContext(ctx).Info("hello")

	entries := base.GetEntries()
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Fields, 2)
	assert.Equal(t, "request_id", entries[0].Fields[0].Key)
	assert.Equal(t, "user_id", entries[0].Fields[1].Key)

	assert.Same(t, base, cl.FromContext(context.Background()))
}
