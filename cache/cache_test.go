package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"b5engine/derive"
	"b5engine/factor"
	"b5engine/snapshot"
)

func testSnapshot(version int64) snapshot.Snapshot {
	return snapshot.Snapshot{
		Version: version,
		Rows: []snapshot.Row{
			{Symbol: "NSE|1", Tsym: "TEST", Exchange: "NSE", LTP: 1006, First5mClose: 1000, Volume: 100},
		},
	}
}

func TestGet_MemoizesSameKey(t *testing.T) {
	c := New(derive.Thresholds{}, 300)
	snap := testSnapshot(1)

	e1, err := c.Get(snap, "5m", factor.NameMicro, 1000)
	assert.NoError(t, err)
	e2, err := c.Get(snap, "5m", factor.NameMicro, 1000)
	assert.NoError(t, err)

	assert.Equal(t, e1.All, e2.All)
	assert.Equal(t, int64(1), c.Version())
}

func TestGet_VersionChangePurgesEntries(t *testing.T) {
	c := New(derive.Thresholds{}, 300)
	snap1 := testSnapshot(1)
	c.Get(snap1, "5m", factor.NameMicro, 1000)

	snap2 := testSnapshot(2)
	_, err := c.Get(snap2, "5m", factor.NameMicro, 1010)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), c.Version())

	c.mu.RLock()
	_, stillThere := c.entries[Key{Version: 1, Timeframe: "5m", Factor: factor.NameMicro}.string()]
	c.mu.RUnlock()
	assert.False(t, stillThere)
}

func TestGet_DistinctTimeframeAndFactorAreDistinctKeys(t *testing.T) {
	c := New(derive.Thresholds{}, 300)
	snap := testSnapshot(1)

	c.Get(snap, "5m", factor.NameMicro, 1000)
	c.Get(snap, "1m", factor.NameMicro, 1000)
	c.Get(snap, "5m", factor.NameMini, 1000)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Len(t, c.entries, 3)
}

func TestGet_ConcurrentCallsCollapseViaSingleflight(t *testing.T) {
	c := New(derive.Thresholds{}, 300)
	snap := testSnapshot(1)

	var wg sync.WaitGroup
	results := make([]Entry, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			e, err := c.Get(snap, "5m", factor.NameMicro, 1000)
			assert.NoError(t, err)
			results[idx] = e
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0].All, results[i].All)
	}
}

func TestEngineFor_ReusesEngineAcrossGets(t *testing.T) {
	c := New(derive.Thresholds{}, 300)
	snap1 := testSnapshot(1)
	c.Get(snap1, "5m", factor.NameMicro, 1000)

	c.mu.RLock()
	eng := c.engines[c.engineKey("5m", factor.NameMicro)]
	c.mu.RUnlock()
	assert.NotNil(t, eng)

	snap2 := testSnapshot(2)
	c.Get(snap2, "5m", factor.NameMicro, 1010)

	c.mu.RLock()
	engAfter := c.engines[c.engineKey("5m", factor.NameMicro)]
	c.mu.RUnlock()
	assert.Same(t, eng, engAfter)
}
