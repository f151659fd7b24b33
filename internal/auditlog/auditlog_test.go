package auditlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrecon/internal/types"
)

func TestRecordWritesOneLinePerCause(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf)

	s := types.NewRunSummary()
	s.Skip("bad_expiry")
	s.Skip("bad_expiry")
	s.Skip("bad_strike")
	s.Miss("portfolio")
	s.Zero("Saleable")
	j.Record("asio_quantity", 12, s)
	require.NoError(t, j.Close())

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 5)
	assert.Equal(t, "skipped_rows", lines[0]["event"])
	assert.Equal(t, "bad_expiry", lines[0]["reason"])
	assert.EqualValues(t, 2, lines[0]["count"])
	assert.Equal(t, "resolution_miss", lines[2]["event"])
	assert.Equal(t, "zeroed_values", lines[3]["event"])
	assert.Equal(t, "run", lines[4]["event"])
	assert.EqualValues(t, 3, lines[4]["skipped"])
	assert.EqualValues(t, 12, lines[4]["records"])
}

func TestOpenAppendsToDailyFile(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	j.Record("fno_price", 1, types.NewRunSummary())
	require.NoError(t, j.Close())

	b, err := os.ReadFile(dailyFilepath(dir, time.Now()))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"report":"fno_price"`)
}

func TestCompressOlder(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "audit", "2025-01-01.txt")
	fresh := filepath.Join(dir, "audit", "2025-12-30.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(old), 0o755))
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("{}\n"), 0o644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))

	require.NoError(t, CompressOlder(dir, 7))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(old + ".gz")
	assert.NoError(t, err)
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
