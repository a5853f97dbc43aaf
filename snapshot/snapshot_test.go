package snapshot

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ParsesRowsAndTraderscope(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	body := `{
		"day": "2026-07-31",
		"updated_at": "2026-07-31T10:00:00+05:30",
		"status": {"ok": true},
		"rows": [
			{"symbol": "NSE|1", "tsym": "AAA", "ltp": 1006.5, "volume": 500, "first_5m_close": 1000, "fetch_done": true, "traderscope": {"note": "x"}},
			{"symbol": "NSE|2", "tsym": "BBB", "exchange": "NSE", "fetch_done": false}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	l := NewLoader(path)
	snap := l.Load()

	assert.Equal(t, "2026-07-31", snap.Day)
	assert.Equal(t, 2, snap.RowCount)
	assert.True(t, IsValid(snap.Rows[0].LTP))
	assert.InDelta(t, 1006.5, snap.Rows[0].LTP, 1e-9)
	assert.Equal(t, "x", snap.Rows[0].Traderscope["note"])

	// Row 2 has no "ltp" field at all: the numeric-guard invariant
	// turns a missing field into NaN, not zero.
	assert.False(t, IsValid(snap.Rows[1].LTP))
}

func TestLoad_MissingFileDegradesToEmpty(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "does-not-exist.json"))
	snap := l.Load()
	assert.Equal(t, "-", snap.Day)
	assert.Equal(t, 0, snap.RowCount)
}

func TestLoad_UnparsableFileDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l := NewLoader(path)
	snap := l.Load()
	assert.Equal(t, "-", snap.Day)
}

func TestLoad_CachesUntilMtimeChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	body1 := `{"day":"2026-07-31","rows":[{"symbol":"NSE|1","ltp":1000,"first_5m_close":1000,"volume":1}]}`
	require.NoError(t, os.WriteFile(path, []byte(body1), 0o644))

	l := NewLoader(path)
	first := l.Load()
	assert.Equal(t, 1, first.RowCount)

	second := l.Load()
	assert.Equal(t, first.Version, second.Version)
}

func TestIsValid_RejectsNaNAndInf(t *testing.T) {
	assert.False(t, IsValid(math.NaN()))
	assert.False(t, IsValid(math.Inf(1)))
	assert.True(t, IsValid(1.5))
}
