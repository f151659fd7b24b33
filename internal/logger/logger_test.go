package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, cfg LogConfig) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, InitWithConfig(cfg, &buf))
	t.Cleanup(func() { _ = InitWithConfig(LogConfig{Level: "INFO"}, &bytes.Buffer{}) })
	return &buf
}

func lines(buf *bytes.Buffer) []string {
	s := strings.TrimSpace(buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestMergePrefersFileConfig(t *testing.T) {
	env := LogConfig{Level: "INFO", Format: "json", DetailedLogging: false}
	got := LogConfig{Level: "DEBUG"}.Merge(env)
	assert.Equal(t, "DEBUG", got.Level)
	assert.Equal(t, "json", got.Format, "format comes from env")
}

func TestReconciliationLine(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO", Format: "json"})

	ctx := context.Background()
	Debug(ctx, "filtered out")
	Info(ctx, "kept")
	Reconciliation(ctx, "fno_price", 10, 1, 2, 3)

	out := lines(buf)
	require.Len(t, out, 2, "debug suppressed")

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[1]), &m))
	assert.Equal(t, "fno_price", m["report"])
	assert.Equal(t, "RUN", m["type"])
	assert.Equal(t, float64(1), m["skipped_rows"])
}

func TestSkippedRowOnlyWhenDetailed(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO", Format: "json"})
	SkippedRow(context.Background(), "lpa", 4, "bad_expiry", errors.New("bad"))
	assert.Zero(t, buf.Len())

	buf = capture(t, LogConfig{Level: "INFO", Format: "json", DetailedLogging: true})
	SkippedRow(context.Background(), "lpa", 4, "bad_expiry", errors.New("bad"))
	assert.Contains(t, buf.String(), `"reason":"bad_expiry"`)
}

func TestDebugSkipFollowsDetailedLogging(t *testing.T) {
	buf := capture(t, LogConfig{Level: "DEBUG", Format: "json"})
	assert.False(t, IsDebugEnabled())
	DebugSkip(context.Background(), 0, "detail")
	assert.Empty(t, lines(buf))

	buf = capture(t, LogConfig{Level: "INFO", Format: "json", DetailedLogging: true})
	assert.True(t, IsDebugEnabled())
	DebugSkip(context.Background(), 0, "detail", "job", "asio")

	out := lines(buf)
	require.Len(t, out, 1)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[0]), &m))
	assert.Equal(t, "DEBUG", m["level"])
	assert.Equal(t, "asio", m["job"])
}
