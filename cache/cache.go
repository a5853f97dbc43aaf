// Package cache implements the config-keyed derived-row cache:
// memoized derived rows keyed by (snapshot_version, timeframe,
// factor), purged wholesale whenever the snapshot version advances.
package cache

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"b5engine/derive"
	"b5engine/factor"
	"b5engine/metrics"
	"b5engine/snapshot"
)

// Key identifies one cached computation.
type Key struct {
	Version   int64
	Timeframe string
	Factor    factor.Name
}

func (k Key) string() string {
	return fmt.Sprintf("%d|%s|%s", k.Version, k.Timeframe, k.Factor)
}

// Entry is a cached computation result.
type Entry struct {
	All     []derive.Row
	Trigger []derive.Row
}

// Cache holds at most one generation of entries: all entries carry the
// same snapshot version, and a version change purges everything
// before the new entry for that version is inserted.
type Cache struct {
	mu      sync.RWMutex
	version int64
	entries map[string]Entry

	engines map[string]*derive.Engine // one Engine (and its signal state) per (timeframe,factor)

	group singleflight.Group

	thresholds         derive.Thresholds
	jackpotLookbackSec int64
}

func New(thresholds derive.Thresholds, jackpotLookbackSec int64) *Cache {
	return &Cache{
		entries:            make(map[string]Entry),
		engines:            make(map[string]*derive.Engine),
		thresholds:         thresholds,
		jackpotLookbackSec: jackpotLookbackSec,
	}
}

func (c *Cache) engineKey(tf string, f factor.Name) string {
	return tf + "|" + string(f)
}

func (c *Cache) engineFor(tf string, f factor.Name) *derive.Engine {
	key := c.engineKey(tf, f)
	e, ok := c.engines[key]
	if !ok {
		e = derive.NewEngine(tf, f, c.thresholds, c.jackpotLookbackSec)
		c.engines[key] = e
	}
	return e
}

// Get returns the derived rows for (version, timeframe, factor),
// computing and memoizing them if not already cached. Concurrent
// callers requesting the same key collapse into a single computation
// via singleflight.
func (c *Cache) Get(snap snapshot.Snapshot, timeframe string, factorName factor.Name, snapshotTS int64) (Entry, error) {
	k := Key{Version: snap.Version, Timeframe: timeframe, Factor: factorName}

	c.mu.Lock()
	if snap.Version != c.version {
		// Snapshot advanced: purge the whole generation before
		// inserting anything for the new version.
		c.entries = make(map[string]Entry)
		c.version = snap.Version
	}
	if e, ok := c.entries[k.string()]; ok {
		c.mu.Unlock()
		metrics.RecordCacheHit(timeframe, string(factorName))
		return e, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(k.string(), func() (interface{}, error) {
		c.mu.RLock()
		if e, ok := c.entries[k.string()]; ok && snap.Version == c.version {
			c.mu.RUnlock()
			metrics.RecordCacheHit(timeframe, string(factorName))
			return e, nil
		}
		c.mu.RUnlock()

		metrics.RecordCacheMiss(timeframe, string(factorName))

		c.mu.Lock()
		engine := c.engineFor(timeframe, factorName)
		c.mu.Unlock()

		start := time.Now()
		all, trigger := engine.Compute(snap.Rows, snapshotTS)
		metrics.RecordDeriveCycle(timeframe, string(factorName), len(all), time.Since(start).Seconds())
		entry := Entry{All: all, Trigger: trigger}

		c.mu.Lock()
		if snap.Version == c.version {
			c.entries[k.string()] = entry
		}
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Version reports the snapshot version the cache currently holds
// entries for.
func (c *Cache) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
