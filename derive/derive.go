// Package derive implements the derived-row engine and the signal
// state store: for a (timeframe, factor) configuration it turns base
// snapshot rows into enriched per-symbol rows carrying levels, trend,
// confirmation, R:R, volume acceleration, BE5-retest state, jackpot
// flags, probability score and spike flag.
package derive

import (
	"math"
	"sort"
	"strings"

	"b5engine/factor"
	"b5engine/snapshot"
)

const epsilon = 1e-4

type Trend string

const (
	TrendUp Trend = "UP"
	TrendDown Trend = "DOWN"
	TrendSideways Trend = "SIDEWAYS"
)

// Row is the derived row for one symbol under one (timeframe, factor)
// configuration.
type Row struct {
	Symbol string
	Tsym string
	Exchange string

	LTP float64
	Volume float64

	Close float64
	Points float64

	BU [6]float64 // BU[1..5] used, BU[0] unused
	BE [6]float64 // BE[1..5] used, BE[0] unused

	NearName string
	NearValue float64
	NearDiff float64
	NearPct float64

	InRangeUp bool
	InRangeDown bool
	Sideways bool
	Trend Trend

	UpBreakCount int
	DownBreakCount int
	Confirmation int

	RRToBU5 float64

	VolumeDelta float64
	VolumeAccel float64

	BE5TouchedRecent bool

	JackpotBE5Reversal bool
	JackpotRetest bool
	JackpotShort bool

	SpikeFlag bool

	ProbabilityScore int

	SelectedFactor float64
	FactorName factor.Name
	FactorReason string

	FetchDone bool
	UpdatedAt string

	// Traderscope is carried through from the base snapshot row
	// untouched; the engine never inspects it.
	Traderscope map[string]interface{}
}

// symbolState is the retained per-(config,symbol) signal state.
type symbolState struct {
	prevLtp float64
	prevVolume float64
	prevVolDelta float64
	be5TouchTs int64
	be5MinLtp float64
	be5TouchVolume float64
	hasBE5Touch bool
	seen bool
}

// SignalStore holds per-(config,symbol) signal state across
// recomputations. A single store is scoped to one (timeframe,factor)
// configuration; callers keep one SignalStore per configuration they
// run.
type SignalStore struct {
	jackpotTouchLookbackSec int64
	states map[string]*symbolState
}

func NewSignalStore(jackpotTouchLookbackSec int64) *SignalStore {
	return &SignalStore{
		jackpotTouchLookbackSec: jackpotTouchLookbackSec,
		states: make(map[string]*symbolState),
	}
}

func (s *SignalStore) get(symbol string) *symbolState {
	st, ok := s.states[symbol]
	if !ok {
		st = &symbolState{prevLtp: math.NaN(), be5MinLtp: math.NaN()}
		s.states[symbol] = st
	}
	return st
}

// Thresholds carries the configuration values the engine needs that
// are not part of (timeframe, factor) itself.
type Thresholds struct {
	JackpotMinConfirmation int
	JackpotMinRR float64
	MinVolumeAccel float64
	MaxSpikePointsMult float64
}

// Engine computes derived rows for one (timeframe, factor)
// configuration, maintaining its own signal state across calls.
type Engine struct {
	Timeframe string
	FactorName factor.Name
	Thresholds Thresholds
	Signals *SignalStore
}

func NewEngine(timeframe string, factorName factor.Name, th Thresholds, jackpotLookbackSec int64) *Engine {
	return &Engine{
		Timeframe: timeframe,
		FactorName: factorName,
		Thresholds: th,
		Signals: NewSignalStore(jackpotLookbackSec),
	}
}

// Compute runs the derived-row computation over base rows, returning
// allRows (every row passing the numeric guard) and triggerRows (the
// subset with in_range_up && !sideways), both sorted ascending by
// (symbol, tsym). One linear pass over base plus one sort
// (O(N log N)), no quadratic loops.
func (e *Engine) Compute(base []snapshot.Row, snapshotTS int64) (all []Row, trigger []Row) {
	seen := make(map[string]bool, len(base))

	all = make([]Row, 0, len(base))
	for _, b := range base {
		closeVal := closeForTimeframe(b, e.Timeframe)
		seen[b.Symbol] = true
		if !snapshot.IsValid(b.LTP) || !snapshot.IsValid(closeVal) {
			// Numeric guard failure: excluded from output, but the
			// symbol stays eligible in signal state.
			continue
		}

		st := e.Signals.get(b.Symbol)
		row := e.computeRow(b, closeVal, st, snapshotTS)
		e.commit(st, row, b, snapshotTS)
		all = append(all, row)
	}

	e.evict(seen)

	sort.Slice(all, func(i, j int) bool {
		if all[i].Symbol != all[j].Symbol {
			return all[i].Symbol < all[j].Symbol
		}
		return all[i].Tsym < all[j].Tsym
	})

	trigger = make([]Row, 0, len(all))
	for _, r := range all {
		if r.InRangeUp && !r.Sideways {
			trigger = append(trigger, r)
		}
	}
	return all, trigger
}

// resolvedFactorName returns the factor name actually applied to a
// row: the smart selector's choice when configured is "smart", else
// the configured fixed name, promoted to mini on MCX regardless.
func resolvedFactorName(configured factor.Name, exchange string, ltp, closeVal float64, tsym string) factor.Name {
	if strings.ToUpper(strings.TrimSpace(exchange)) == "MCX" {
		return factor.NameMini
	}
	if configured == factor.NameSmart {
		_, name, _ := factor.Select(ltp, closeVal, exchange, tsym)
		return name
	}
	return configured
}

func closeForTimeframe(b snapshot.Row, tf string) float64 {
	switch tf {
	case "1m":
		return b.First1mClose
	case "15m":
		return b.First15mClose
	default:
		return b.First5mClose
	}
}

func (e *Engine) computeRow(b snapshot.Row, closeVal float64, st *symbolState, snapshotTS int64) Row {
	factorValue, factorReason := factor.Resolve(e.FactorName, b.LTP, closeVal, b.Exchange, b.Tsym)
	points := closeVal * factorValue

	row := Row{
		Symbol: b.Symbol,
		Tsym: b.Tsym,
		Exchange: b.Exchange,
		LTP: b.LTP,
		Volume: b.Volume,
		Close: closeVal,
		Points: points,
		SelectedFactor: factorValue,
		FactorReason: factorReason,
		FetchDone: b.FetchDone,
		UpdatedAt: b.UpdatedAt,
		Traderscope: b.Traderscope,
	}
	row.FactorName = resolvedFactorName(e.FactorName, b.Exchange, b.LTP, closeVal, b.Tsym)

	for k := 1; k <= 5; k++ {
		row.BU[k] = closeVal + float64(k)*points
		row.BE[k] = closeVal - float64(k)*points
	}

	row.NearName, row.NearValue = nearestLevel(b.LTP, row)
	row.NearDiff = b.LTP - row.NearValue
	if row.NearValue != 0 {
		row.NearPct = row.NearDiff / row.NearValue * 100
	}

	row.InRangeUp = b.LTP >= row.BU[1] && b.LTP <= row.BU[5]
	row.InRangeDown = b.LTP >= row.BE[5] && b.LTP <= row.BE[1]
	row.Sideways = b.LTP > row.BE[1] && b.LTP < row.BU[1]

	switch {
	case b.LTP >= row.BU[1]:
		row.Trend = TrendUp
	case b.LTP <= row.BE[1]:
		row.Trend = TrendDown
	default:
		row.Trend = TrendSideways
	}

	for k := 1; k <= 5; k++ {
		if b.LTP >= row.BU[k] {
			row.UpBreakCount++
		}
		if b.LTP <= row.BE[k] {
			row.DownBreakCount++
		}
	}
	switch row.Trend {
	case TrendUp:
		row.Confirmation = row.UpBreakCount
	case TrendDown:
		row.Confirmation = row.DownBreakCount
	default:
		row.Confirmation = 0
	}

	row.RRToBU5 = math.Max(0, row.BU[5]-b.LTP) / math.Max(epsilon, b.LTP-row.BU[1])

	row.VolumeDelta = 0
	if st.seen {
		row.VolumeDelta = math.Max(0, b.Volume-st.prevVolume)
	}
	switch {
	case st.seen && st.prevVolDelta > 0:
		row.VolumeAccel = row.VolumeDelta / st.prevVolDelta
	case row.VolumeDelta > 0:
		row.VolumeAccel = 1
	default:
		row.VolumeAccel = 0
	}

	// BE5 retest tracking mutates the state in place and updates
	// immediately rather than waiting for the next call, unlike
	// prevLtp/prevVolume which are deferred to commit.
	if b.LTP <= row.BE[5] {
		st.hasBE5Touch = true
		st.be5TouchTs = snapshotTS
		if math.IsNaN(st.be5MinLtp) || b.LTP < st.be5MinLtp {
			st.be5MinLtp = b.LTP
		}
	}
	recent := st.hasBE5Touch && (snapshotTS-st.be5TouchTs) <= e.Signals.jackpotTouchLookbackSec
	if !recent {
		st.hasBE5Touch = false
		st.be5MinLtp = math.NaN()
	}
	row.BE5TouchedRecent = recent

	justCrossed := st.seen && st.prevLtp < row.BU[1] && b.LTP >= row.BU[1]
	row.JackpotBE5Reversal = recent &&
		!math.IsNaN(st.be5MinLtp) && st.be5MinLtp <= row.BE[5] &&
		b.LTP >= row.BU[1] &&
		(justCrossed || row.NearName == "BU1") &&
		row.Confirmation >= e.Thresholds.JackpotMinConfirmation &&
		row.RRToBU5 >= e.Thresholds.JackpotMinRR &&
		row.VolumeAccel >= e.Thresholds.MinVolumeAccel

	row.JackpotRetest = row.Trend == TrendUp && row.NearName == "BU1" && math.Abs(row.NearPct) <= 0.08
	row.JackpotShort = row.Trend == TrendDown && row.NearName == "BE1" && math.Abs(row.NearPct) <= 0.08

	row.SpikeFlag = points > 0 && st.seen && math.Abs(b.LTP-st.prevLtp) > points*e.Thresholds.MaxSpikePointsMult

	row.ProbabilityScore = probabilityScore(row.Confirmation, row.RRToBU5, row.VolumeAccel, row.BE5TouchedRecent)

	return row
}

func probabilityScore(confirmation int, rr, volAccel float64, be5Recent bool) int {
	score := 45*math.Min(5, float64(confirmation))/5 +
		35*math.Min(5, rr)/5 +
		15*math.Min(3, volAccel)/3
	if be5Recent {
		score += 5
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(math.Round(score))
}

func nearestLevel(ltp float64, row Row) (name string, value float64) {
	type lvl struct {
		name string
		value float64
	}
	levels := [10]lvl{
		{"BE5", row.BE[5]}, {"BE4", row.BE[4]}, {"BE3", row.BE[3]}, {"BE2", row.BE[2]}, {"BE1", row.BE[1]},
		{"BU1", row.BU[1]}, {"BU2", row.BU[2]}, {"BU3", row.BU[3]}, {"BU4", row.BU[4]}, {"BU5", row.BU[5]},
	}
	best := levels[0]
	bestDiff := math.Abs(ltp - best.value)
	for _, l := range levels[1:] {
		d := math.Abs(ltp - l.value)
		if d < bestDiff {
			best = l
			bestDiff = d
		}
	}
	return best.name, best.value
}

// commit writes this row's ltp/volume into signal state as the
// "previous" baseline for the *next* recomputation call; BE5
// touch state is already updated in place by computeRow.
func (e *Engine) commit(st *symbolState, row Row, b snapshot.Row, snapshotTS int64) {
	st.seen = true
	st.prevVolDelta = row.VolumeDelta
	st.prevVolume = b.Volume
	if row.BE5TouchedRecent {
		st.be5TouchVolume = b.Volume
	}
	st.prevLtp = b.LTP
}

// evict drops signal state for any symbol not present in the current
// run.
func (e *Engine) evict(seen map[string]bool) {
	for sym := range e.Signals.states {
		if !seen[sym] {
			delete(e.Signals.states, sym)
		}
	}
}

// IsOption reports whether a tsym/exchange pair represents an option
// instrument, used by the paper-trading engine's quantity policy.
func IsOption(exchange, tsym string) bool {
	exchange = strings.ToUpper(exchange)
	tsym = strings.ToUpper(tsym)
	return exchange == "NFO" || exchange == "BFO" ||
		strings.HasSuffix(tsym, "CE") || strings.HasSuffix(tsym, "PE")
}
