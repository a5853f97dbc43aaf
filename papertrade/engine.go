package papertrade

import (
	"github.com/google/uuid"

	"b5engine/auditlog"
	"b5engine/broker"
	"b5engine/derive"
	"b5engine/logger"
	"b5engine/markettime"
	"b5engine/metrics"
)

// Store is the persistence seam the engine needs. store.Store
// implements this against the paper-trade SQLite database.
type Store interface {
	OpenTrade(symbol string) (*Trade, bool, error)
	SaveTrade(t *Trade) error
	ListOpenTrades() ([]*Trade, error)
	LastExitTS(symbol string) (int64, bool, error)
	CounterForDay(day string) (broker.Counter, error)
	IncrementOrdersPlaced(day string) error
}

// Thresholds carries the entry-filter configuration.
type Thresholds struct {
	CooldownSec int64
	MinConfirmation int
	MinRR float64
	MinProbabilityScore int
	JackpotOnly bool
}

// Engine drives the paper-trading state machine. It is
// single-writer: one goroutine calls Run per snapshot-version change.
type Engine struct {
	Store Store
	Governor *broker.Governor
	Thresholds Thresholds

	lastVersion int64
}

func NewEngine(store Store, governor *broker.Governor, th Thresholds) *Engine {
	return &Engine{Store: store, Governor: governor, Thresholds: th, lastVersion: -1}
}

// Run executes one engine cycle: management pass over all OPEN trades
// (fed the latest ltp/spike_flag from allRows), then the entry filter
// over triggerRows. No-ops if version has not advanced since the last
// call.
func (e *Engine) Run(version int64, allRows []derive.Row, triggerRows []derive.Row, timeframe string, factorName string, nowUnix int64) {
	if version == e.lastVersion {
		return
	}
	e.lastVersion = version

	bySymbol := make(map[string]derive.Row, len(allRows))
	for _, r := range allRows {
		bySymbol[r.Symbol] = r
	}

	e.managePass(bySymbol, nowUnix)
	e.entryPass(triggerRows, timeframe, factorName, nowUnix)
}

func (e *Engine) managePass(bySymbol map[string]derive.Row, nowUnix int64) {
	open, err := e.Store.ListOpenTrades()
	if err != nil {
		logger.Warnf("papertrade: list open trades: %v", err)
		return
	}
	for _, t := range open {
		if row, ok := bySymbol[t.Symbol]; ok {
			ApplyLTP(t, row.LTP, row.SpikeFlag)
		}
		e.manageOne(t, nowUnix)
	}
}

// manageOne applies the management pass to a single open trade; t.LastLTP
// and its spike hint must already be current (see ApplyLTP).
func (e *Engine) manageOne(t *Trade, nowUnix int64) {
	ltp := t.LastLTP
	entry := t.EntryLTP

	if ltp > t.MaxLTP {
		t.MaxLTP = ltp
	}
	if t.MinLTP == 0 || ltp < t.MinLTP {
		t.MinLTP = ltp
	}
	if r := ltp - entry; r > t.Runup {
		t.Runup = r
	}
	if d := entry - ltp; d > t.Drawdown {
		t.Drawdown = d
	}
	if mp := t.MaxLTP - entry; mp > t.MaxProfitPoints {
		t.MaxProfitPoints = mp
	}
	t.PNL = (ltp - entry) * float64(t.Quantity)
	if entry != 0 {
		t.PNLPct = (ltp - entry) / entry * 100
	}

	// Trailing-stop ladder, one-way activation.
	if !t.TSLActive && ltp >= t.TSLTrigger {
		t.TSLActive = true
		t.TSLSLPrice = t.BE[1]
		auditlog.TSLPromoted(t.ID, t.Symbol, map[string]interface{}{"stage": "activate", "ltp": ltp, "sl": t.TSLSLPrice})
	}
	if t.TSLActive && ltp >= t.BU[4] && t.TSLSLPrice < t.BU[1] {
		t.TSLSLPrice = t.BU[1]
		auditlog.TSLPromoted(t.ID, t.Symbol, map[string]interface{}{"stage": "bu4", "ltp": ltp, "sl": t.TSLSLPrice})
	}
	if t.TSLActive && ltp >= t.BU[5] && t.TSLSLPrice < t.BU[2] {
		t.TSLSLPrice = t.BU[2]
		auditlog.TSLPromoted(t.ID, t.Symbol, map[string]interface{}{"stage": "bu5", "ltp": ltp, "sl": t.TSLSLPrice})
	}

	spikeFlag := t.spikeFlagHint

	var closeReason string
	switch {
	case markettime.ShouldAutoClose(t.Exchange):
		closeReason = "market_close_auto"
	case ltp >= t.BU[5]:
		closeReason = "target_bu5"
	case ltp < effectiveSL(t):
		if t.TSLActive {
			closeReason = "trailing_sl"
		} else {
			closeReason = "sl_below_bu1"
		}
	case spikeFlag && ltp < entry:
		closeReason = "spike_protection"
	}

	if closeReason != "" {
		e.closeTrade(t, ltp, closeReason, nowUnix)
	}
	t.UpdatedAt = nowUnix
	if err := e.Store.SaveTrade(t); err != nil {
		logger.Warnf("papertrade: save trade %s: %v", t.ID, err)
	}
}

func effectiveSL(t *Trade) float64 {
	if t.TSLActive {
		return t.TSLSLPrice
	}
	return t.BU[1]
}

func (e *Engine) closeTrade(t *Trade, exitLTP float64, reason string, nowUnix int64) {
	charges := ComputeCharges(t.EntryLTP, exitLTP, t.Quantity, t.Exchange)
	t.ExitLTP = exitLTP
	t.ExitTS = nowUnix
	t.Reason = reason
	t.PNL = (exitLTP - t.EntryLTP) * float64(t.Quantity)
	if t.EntryLTP != 0 {
		t.PNLPct = (exitLTP - t.EntryLTP) / t.EntryLTP * 100
	}
	t.Brokerage = charges.Brokerage
	t.STT = charges.STT
	t.ExchangeFee = charges.ExchangeFee
	t.SEBIFee = charges.SEBIFee
	t.StampDuty = charges.StampDuty
	t.GST = charges.GST
	t.TotalCharges = charges.Total
	t.NetPNL = t.PNL - t.TotalCharges
	t.Status = StatusClosed

	metrics.RecordClose(reason)
	metrics.AddNetPNL(t.NetPNL)
	auditlog.Closed(t.ID, t.Symbol, reason, map[string]interface{}{
		"pnl": t.PNL, "net_pnl": t.NetPNL, "total_charges": t.TotalCharges,
		"brokerage": t.Brokerage, "stt": t.STT, "exchange_charges": t.ExchangeFee,
		"sebi_charges": t.SEBIFee, "stamp_duty": t.StampDuty, "gst": t.GST,
	})
}

// entryPass applies the 9-condition entry filter to each
// trigger row and opens a trade for the first acceptable candidate
// per symbol.
func (e *Engine) entryPass(rows []derive.Row, timeframe, factorName string, nowUnix int64) {
	for _, row := range rows {
		e.tryEnter(row, timeframe, factorName, nowUnix)
	}
}

func (e *Engine) tryEnter(row derive.Row, timeframe, factorName string, nowUnix int64) bool {
	// 1. no open trade + cooldown elapsed.
	if _, open, err := e.Store.OpenTrade(row.Symbol); err != nil {
		logger.Warnf("papertrade: open-trade lookup %s: %v", row.Symbol, err)
		return false
	} else if open {
		return false
	}
	if exitTS, has, err := e.Store.LastExitTS(row.Symbol); err == nil && has && nowUnix < exitTS+e.Thresholds.CooldownSec {
		return false
	}

	// 2. fetch_done, ltp present, in_range_up, !sideways, trend UP.
	if !row.FetchDone || !(row.LTP > 0) || !row.InRangeUp || row.Sideways || row.Trend != derive.TrendUp {
		auditlog.EntryRejected(row.Symbol, "filter_2_shape", nil)
		return false
	}

	// 3. confirmation.
	if row.Confirmation < e.Thresholds.MinConfirmation {
		auditlog.EntryRejected(row.Symbol, "min_confirmation", nil)
		return false
	}

	// 4. R:R.
	if row.RRToBU5 < e.Thresholds.MinRR {
		auditlog.EntryRejected(row.Symbol, "min_rr", nil)
		return false
	}

	// 5. probability score, relaxed on MCX evening session.
	minProb := e.Thresholds.MinProbabilityScore
	if row.Exchange == "MCX" && markettime.IsMCXEveningSession() {
		minProb = 25
	}
	if row.ProbabilityScore < minProb {
		auditlog.EntryRejected(row.Symbol, "min_probability_score", nil)
		return false
	}

	// 6. spike protection.
	if row.SpikeFlag {
		auditlog.EntryRejected(row.Symbol, "spike_flag", nil)
		return false
	}

	// 7. jackpot-only gate.
	if e.Thresholds.JackpotOnly && !row.JackpotBE5Reversal {
		auditlog.EntryRejected(row.Symbol, "jackpot_only", nil)
		return false
	}

	// 8. market open.
	if !markettime.IsMarketOpen(row.Exchange) {
		auditlog.EntryRejected(row.Symbol, "market_closed", nil)
		return false
	}

	// 9. broker-limits governor.
	day := markettime.LocalDay(markettime.Now())
	counter, err := e.Store.CounterForDay(day)
	if err != nil {
		logger.Warnf("papertrade: counter lookup: %v", err)
		return false
	}
	if !e.Governor.IsSafe(counter) {
		auditlog.EntryRejected(row.Symbol, "broker_limits_red", nil)
		return false
	}

	// Entry guard re-check.
	if !(row.LTP > 0) {
		auditlog.EntryRejected(row.Symbol, "missing_levels", nil)
		return false
	}
	if !(row.LTP >= row.BU[1] && row.LTP <= row.BU[5]) {
		auditlog.EntryRejected(row.Symbol, "outside_bu1_bu5", nil)
		return false
	}

	quantity := 1
	if derive.IsOption(row.Exchange, row.Tsym) {
		quantity = 50
	}

	t := &Trade{
		ID:             uuid.NewString(),
		Symbol: row.Symbol,
		Tsym: row.Tsym,
		Exchange: row.Exchange,
		Day: day,
		Timeframe: timeframe,
		Factor: factorName,
		InstrumentType: instrumentType(row.Exchange, row.Tsym),
		ClosePrice: row.Close,
		Points: row.Points,
		BU: row.BU,
		BE: row.BE,
		SLPrice: row.BE[1],
		TPPrice: row.BU[5],
		TSLTrigger: row.BU[3],
		TSLActive: false,
		TSLSLPrice: row.BE[1],
		EntryLTP: row.LTP,
		EntryTS: nowUnix,
		Quantity: quantity,
		Reason: "be5_reversal_guard_entry",
		LastLTP: row.LTP,
		MaxLTP: row.LTP,
		MinLTP: row.LTP,
		Status: StatusOpen,
		UpdatedAt: nowUnix,
		spikeFlagHint: row.SpikeFlag,
	}

	if err := e.Store.SaveTrade(t); err != nil {
		logger.Warnf("papertrade: save new trade %s: %v", row.Symbol, err)
		return false
	}
	if err := e.Store.IncrementOrdersPlaced(day); err != nil {
		logger.Warnf("papertrade: increment orders_placed: %v", err)
	}
	metrics.RecordEntry()
	auditlog.EntryAccepted(t.ID, t.Symbol, map[string]interface{}{
		"entry_ltp": t.EntryLTP, "sl": t.SLPrice, "tp": t.TPPrice, "quantity": t.Quantity,
	})
	return true
}

func instrumentType(exchange, tsym string) string {
	if derive.IsOption(exchange, tsym) {
		return "OPTION"
	}
	return "EQUITY"
}

// ApplyLTP updates a trade's running LastLTP and spike hint ahead of a
// management pass; managePass calls it for every open trade whose
// symbol has a derived row in the current cycle.
func ApplyLTP(t *Trade, ltp float64, spikeFlag bool) {
	t.LastLTP = ltp
	t.spikeFlagHint = spikeFlag
}
