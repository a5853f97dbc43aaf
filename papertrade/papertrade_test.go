package papertrade

import (
	"testing"
	"time"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/stretchr/testify/assert"

	"b5engine/broker"
	"b5engine/derive"
	"b5engine/markettime"
)

type fakeStore struct {
	open              map[string]*Trade
	saved             []*Trade
	lastExit          map[string]int64
	counter           broker.Counter
	ordersIncremented int
}

func newFakeStore() *fakeStore {
	return &fakeStore{open: make(map[string]*Trade), lastExit: make(map[string]int64)}
}

func (f *fakeStore) OpenTrade(symbol string) (*Trade, bool, error) {
	t, ok := f.open[symbol]
	return t, ok, nil
}

func (f *fakeStore) SaveTrade(t *Trade) error {
	f.saved = append(f.saved, t)
	if t.Status == StatusOpen {
		f.open[t.Symbol] = t
	} else {
		delete(f.open, t.Symbol)
		f.lastExit[t.Symbol] = t.ExitTS
	}
	return nil
}

func (f *fakeStore) ListOpenTrades() ([]*Trade, error) {
	out := make([]*Trade, 0, len(f.open))
	for _, t := range f.open {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) LastExitTS(symbol string) (int64, bool, error) {
	ts, ok := f.lastExit[symbol]
	return ts, ok, nil
}

func (f *fakeStore) CounterForDay(day string) (broker.Counter, error) {
	return f.counter, nil
}

func (f *fakeStore) IncrementOrdersPlaced(day string) error {
	f.ordersIncremented++
	return nil
}

func patchNow(t *testing.T, wall time.Time) {
	t.Helper()
	patches := gomonkey.ApplyFunc(markettime.Now, func() time.Time { return wall.In(markettime.IST) })
	t.Cleanup(patches.Reset)
}

func ist(y, m, d, h, mi, s int) time.Time {
	return time.Date(y, time.Month(m), d, h, mi, s, 0, markettime.IST)
}

func goodRow(symbol, tsym, exchange string) derive.Row {
	return derive.Row{
		Symbol:             symbol,
		Tsym:               tsym,
		Exchange:           exchange,
		LTP:                1006,
		Close:              1000,
		Points:             2.611,
		BU:                 [6]float64{0, 1002.611, 1005.222, 1007.833, 1010.444, 1013.055},
		BE:                 [6]float64{0, 997.389, 994.778, 992.167, 989.556, 986.945},
		FetchDone:          true,
		InRangeUp:          true,
		Sideways:           false,
		Trend:              derive.TrendUp,
		Confirmation:       2,
		RRToBU5:            2.0,
		ProbabilityScore:   50,
		SpikeFlag:          false,
		JackpotBE5Reversal: false,
	}
}

func relaxedThresholds() Thresholds {
	return Thresholds{CooldownSec: 0, MinConfirmation: 0, MinRR: 0, MinProbabilityScore: 0, JackpotOnly: false}
}

func safeGovernor() *broker.Governor {
	return broker.New(broker.Limits{MaxOrdersPerDay: 100, MaxOpenPositions: 10})
}

func TestTryEnter_AcceptsQualifyingRow(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	ok := e.tryEnter(goodRow("NSE|1", "INFY", "NSE"), "5m", "micro", 1000)
	assert.True(t, ok)
	assert.Len(t, store.saved, 1)

	tr := store.saved[0]
	assert.Equal(t, StatusOpen, tr.Status)
	assert.Equal(t, 1, tr.Quantity)
	assert.InDelta(t, 997.389, tr.SLPrice, 1e-6)
	assert.InDelta(t, 1013.055, tr.TPPrice, 1e-6)
	assert.InDelta(t, 1007.833, tr.TSLTrigger, 1e-6)
	assert.Equal(t, 1, store.ordersIncremented)
}

func TestTryEnter_OptionGetsQuantity50(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	ok := e.tryEnter(goodRow("NFO|1", "NIFTY24JULCE", "NFO"), "5m", "micro", 1000)
	assert.True(t, ok)
	assert.Equal(t, 50, store.saved[0].Quantity)
	assert.Equal(t, "OPTION", store.saved[0].InstrumentType)
}

func TestTryEnter_RejectsWhenAlreadyOpen(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	store.open["NSE|1"] = &Trade{Symbol: "NSE|1", Status: StatusOpen}
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	ok := e.tryEnter(goodRow("NSE|1", "INFY", "NSE"), "5m", "micro", 1000)
	assert.False(t, ok)
	assert.Empty(t, store.saved)
}

func TestTryEnter_RejectsWithinCooldown(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	store.lastExit["NSE|1"] = 900
	th := relaxedThresholds()
	th.CooldownSec = 200
	e := NewEngine(store, safeGovernor(), th)

	ok := e.tryEnter(goodRow("NSE|1", "INFY", "NSE"), "5m", "micro", 1000)
	assert.False(t, ok)
}

func TestTryEnter_RejectsNotFetchDone(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	row := goodRow("NSE|1", "INFY", "NSE")
	row.FetchDone = false
	ok := e.tryEnter(row, "5m", "micro", 1000)
	assert.False(t, ok)
}

func TestTryEnter_RejectsBelowMinConfirmation(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	th := relaxedThresholds()
	th.MinConfirmation = 3
	e := NewEngine(store, safeGovernor(), th)

	ok := e.tryEnter(goodRow("NSE|1", "INFY", "NSE"), "5m", "micro", 1000)
	assert.False(t, ok)
}

func TestTryEnter_RejectsOnSpikeFlag(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	row := goodRow("NSE|1", "INFY", "NSE")
	row.SpikeFlag = true
	ok := e.tryEnter(row, "5m", "micro", 1000)
	assert.False(t, ok)
}

func TestTryEnter_RejectsJackpotOnlyWithoutReversal(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	th := relaxedThresholds()
	th.JackpotOnly = true
	e := NewEngine(store, safeGovernor(), th)

	ok := e.tryEnter(goodRow("NSE|1", "INFY", "NSE"), "5m", "micro", 1000)
	assert.False(t, ok)
}

func TestTryEnter_RejectsWhenMarketClosed(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 15, 30, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	ok := e.tryEnter(goodRow("NSE|1", "INFY", "NSE"), "5m", "micro", 1000)
	assert.False(t, ok)
}

func TestTryEnter_RejectsWhenBrokerLimitsRed(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	store.counter = broker.Counter{OrdersPlaced: 95, OpenPositions: 1}
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	ok := e.tryEnter(goodRow("NSE|1", "INFY", "NSE"), "5m", "micro", 1000)
	assert.False(t, ok)
}

func openTradeAt(entryLTP float64) *Trade {
	return &Trade{
		ID:         "t1",
		Symbol:     "NSE|1",
		Exchange:   "NSE",
		BU:         [6]float64{0, 1002.611, 1005.222, 1007.833, 1010.444, 1013.055},
		BE:         [6]float64{0, 997.389, 994.778, 992.167, 989.556, 986.945},
		SLPrice:    997.389,
		TPPrice:    1013.055,
		TSLTrigger: 1007.833,
		TSLSLPrice: 997.389,
		EntryLTP:   entryLTP,
		LastLTP:    entryLTP,
		MaxLTP:     entryLTP,
		MinLTP:     entryLTP,
		Quantity:   1,
		Status:     StatusOpen,
	}
}

func TestManageOne_ActivatesTSLAtTrigger(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	tr := openTradeAt(1006)
	ApplyLTP(tr, 1008, false)
	e.manageOne(tr, 1000)

	assert.True(t, tr.TSLActive)
	assert.InDelta(t, 997.389, tr.TSLSLPrice, 1e-6)
	assert.Equal(t, StatusOpen, tr.Status)
}

func TestManageOne_ClosesOnTargetBU5AndPromotesBU2Stage(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	tr := openTradeAt(1006)
	ApplyLTP(tr, 1008, false)
	e.manageOne(tr, 1000)
	assert.True(t, tr.TSLActive)

	ApplyLTP(tr, 1014, false)
	e.manageOne(tr, 1010)

	assert.Equal(t, StatusClosed, tr.Status)
	assert.Equal(t, "target_bu5", tr.Reason)
	assert.InDelta(t, 1005.222, tr.TSLSLPrice, 1e-6)
}

func TestManageOne_ClosesOnTrailingSL(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	tr := openTradeAt(1006)
	ApplyLTP(tr, 1008, false)
	e.manageOne(tr, 1000)
	assert.True(t, tr.TSLActive)

	ApplyLTP(tr, 997, false)
	e.manageOne(tr, 1010)

	assert.Equal(t, StatusClosed, tr.Status)
	assert.Equal(t, "trailing_sl", tr.Reason)
}

func TestManageOne_ClosesOnSLBelowBU1WithoutTSL(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	tr := openTradeAt(1006)
	ApplyLTP(tr, 1000, false)
	e.manageOne(tr, 1000)

	assert.False(t, tr.TSLActive)
	assert.Equal(t, StatusClosed, tr.Status)
	assert.Equal(t, "sl_below_bu1", tr.Reason)
}

func TestManageOne_ClosesOnSpikeProtection(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 10, 0, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	tr := openTradeAt(1006)
	ApplyLTP(tr, 1004, true)
	e.manageOne(tr, 1000)

	assert.Equal(t, StatusClosed, tr.Status)
	assert.Equal(t, "spike_protection", tr.Reason)
}

func TestManageOne_ClosesOnMarketAutoCloseRegardlessOfPrice(t *testing.T) {
	patchNow(t, ist(2026, 7, 31, 15, 29, 0))
	store := newFakeStore()
	e := NewEngine(store, safeGovernor(), relaxedThresholds())

	tr := openTradeAt(1006)
	ApplyLTP(tr, 1006, false)
	e.manageOne(tr, 1000)

	assert.Equal(t, StatusClosed, tr.Status)
	assert.Equal(t, "market_close_auto", tr.Reason)
}

func TestComputeCharges_RoundTripIdentity(t *testing.T) {
	c := ComputeCharges(1000, 1010, 1, "NSE")
	assert.InDelta(t, c.Brokerage+c.STT+c.ExchangeFee+c.SEBIFee+c.StampDuty+c.GST, c.Total, 1e-9)
	assert.Greater(t, c.STT, 0.0)
	assert.LessOrEqual(t, c.Brokerage, 20.0)
}

func TestComputeCharges_NonNSEBSEUsesLowerSTT(t *testing.T) {
	nse := ComputeCharges(1000, 1010, 1, "NSE")
	mcx := ComputeCharges(1000, 1010, 1, "MCX")
	assert.Greater(t, nse.STT, mcx.STT)
}
