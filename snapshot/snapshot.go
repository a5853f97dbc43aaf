// Package snapshot loads the periodic market-data snapshot file:
// per-instrument ltp/volume/first-close rows, versioned by the file's
// mtime. A missing or unreadable file degrades to an empty snapshot
// rather than propagating an error.
package snapshot

import (
	"math"
	"os"
	"strings"
	"sync"

	"github.com/valyala/fastjson"

	"b5engine/logger"
)

// Row is a single instrument's base snapshot row.
type Row struct {
	Symbol   string // "EXCHANGE|TOKEN"
	Tsym     string
	Exchange string

	LTP    float64
	Volume float64

	First1mClose  float64
	First5mClose  float64
	First15mClose float64

	FetchDone bool
	UpdatedAt string

	// Passthrough fields carried opaquely from the upstream producer,
	// re-exposed but never interpreted.
	Traderscope map[string]interface{}
}

// Snapshot is the full parsed file.
type Snapshot struct {
	Day       string
	UpdatedAt string
	RowCount  int
	Rows      []Row
	Status    map[string]interface{}

	// Version is the file's mtime in Unix nanoseconds, used by the
	// derived cache to detect staleness.
	Version int64
}

// Empty returns the degraded-input snapshot used for a missing or
// unreadable file.
func Empty() Snapshot {
	return Snapshot{Day: "-", UpdatedAt: "-", RowCount: 0}
}

// Loader reads and caches the last-parsed snapshot, reparsing only when
// the file's mtime changes.
type Loader struct {
	path string

	mu       sync.Mutex
	lastMod  int64
	lastSize int64
	cached   Snapshot
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load returns the current snapshot, reparsing the file if its mtime
// has advanced since the last call.
func (l *Loader) Load() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("snapshot stat %s: %v", l.path, err)
		}
		l.cached = Empty()
		l.lastMod = 0
		return l.cached
	}

	mtime := info.ModTime().UnixNano()
	if mtime == l.lastMod && info.Size() == l.lastSize && l.cached.RowCount > 0 {
		return l.cached
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		logger.Warnf("snapshot read %s: %v", l.path, err)
		l.cached = Empty()
		l.lastMod = 0
		return l.cached
	}

	snap, perr := parse(data)
	if perr != nil {
		logger.Warnf("snapshot parse %s: %v", l.path, perr)
		l.cached = Empty()
		l.lastMod = 0
		return l.cached
	}
	snap.Version = mtime
	l.cached = snap
	l.lastMod = mtime
	l.lastSize = info.Size()
	return l.cached
}

func parse(data []byte) (Snapshot, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Day:       string(v.GetStringBytes("day")),
		UpdatedAt: string(v.GetStringBytes("updated_at")),
	}
	if snap.Day == "" {
		snap.Day = "-"
	}
	if snap.UpdatedAt == "" {
		snap.UpdatedAt = "-"
	}

	if statusV := v.Get("status"); statusV != nil {
		snap.Status = toMap(statusV)
	}

	rowsV := v.GetArray("rows")
	snap.Rows = make([]Row, 0, len(rowsV))
	for _, rv := range rowsV {
		row := parseRow(rv)
		snap.Rows = append(snap.Rows, row)
	}
	snap.RowCount = len(snap.Rows)
	return snap, nil
}

func parseRow(rv *fastjson.Value) Row {
	symbol := string(rv.GetStringBytes("symbol"))
	exchange := ""
	if idx := strings.IndexByte(symbol, '|'); idx >= 0 {
		exchange = symbol[:idx]
	}
	if ex := string(rv.GetStringBytes("exchange")); ex != "" {
		exchange = ex
	}

	row := Row{
		Symbol:        symbol,
		Tsym:          string(rv.GetStringBytes("tsym")),
		Exchange:      exchange,
		LTP:           guardedFloat(rv, "ltp"),
		Volume:        guardedFloat(rv, "volume"),
		First1mClose:  guardedFloat(rv, "first_1m_close"),
		First5mClose:  guardedFloat(rv, "first_5m_close"),
		First15mClose: guardedFloat(rv, "first_15m_close"),
		FetchDone:     rv.GetBool("fetch_done"),
		UpdatedAt:     string(rv.GetStringBytes("updated_at")),
	}

	if ts := rv.Get("traderscope"); ts != nil {
		row.Traderscope = toMap(ts)
	}
	return row
}

// guardedFloat applies the numeric parsing invariant: missing or
// non-finite values become NaN, signalling "null" to every downstream
// consumer, which must skip rather than treat it as zero.
func guardedFloat(v *fastjson.Value, field string) float64 {
	fv := v.Get(field)
	if fv == nil {
		return math.NaN()
	}
	f, err := fv.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return math.NaN()
	}
	return f
}

func toMap(v *fastjson.Value) map[string]interface{} {
	obj, err := v.Object()
	if err != nil {
		return nil
	}
	out := make(map[string]interface{})
	obj.Visit(func(key []byte, val *fastjson.Value) {
		out[string(key)] = valueToInterface(val)
	})
	return out
}

func valueToInterface(v *fastjson.Value) interface{} {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeObject:
		return toMap(v)
	case fastjson.TypeArray:
		arr := v.GetArray()
		out := make([]interface{}, 0, len(arr))
		for _, e := range arr {
			out = append(out, valueToInterface(e))
		}
		return out
	default:
		return nil
	}
}

// IsValid reports whether f is a usable numeric value, i.e. not the
// sentinel NaN guardedFloat returns for a missing or non-finite field.
func IsValid(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
