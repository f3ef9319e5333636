package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtxFallsBackToRoot(t *testing.T) {
	l := Ctx(context.Background())
	require.NotNil(t, l)
	assert.Equal(t, root, l)
}

func TestWithScopesLogger(t *testing.T) {
	var buf bytes.Buffer
	scoped := slog.New(slog.NewJSONHandler(&buf, nil)).With("component", "test")

	ctx := With(context.Background(), scoped)
	Ctx(ctx).Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "test", entry["component"])

	// a child context without a logger still sees the scoped one
	type other struct{}
	assert.Equal(t, scoped, Ctx(context.WithValue(ctx, other{}, "v")))
}

func TestSetDefaultLogLevel(t *testing.T) {
	SetDefaultLogLevel(slog.LevelWarn)
	defer SetDefaultLogLevel(slog.LevelInfo)

	assert.False(t, root.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, root.Enabled(context.Background(), slog.LevelWarn))
}
