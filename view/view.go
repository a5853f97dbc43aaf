// Package view implements the Query/View Layer: read-only
// composition of the current snapshot, derived cache, broker-limits
// and market-time status into the shapes the HTTP API serves.
package view

import (
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"b5engine/broker"
	"b5engine/cache"
	"b5engine/derive"
	"b5engine/factor"
	"b5engine/firstclose"
	"b5engine/markettime"
	"b5engine/papertrade"
	"b5engine/snapshot"
)

// Stats is the dashboard's "stats" block.
type Stats struct {
	FirstCloseRowCount int `json:"first_close_row_count"`
	FirstClosePending int `json:"first_close_pending"`
	FirstCloseAvailable bool `json:"first_close_available"`
	SnapshotFileSize string `json:"snapshot_file_size"`
	SnapshotModTime string `json:"snapshot_mod_time"`
}

// Status composes broker-limits and market-time state for the
// dashboard and trades views.
type Status struct {
	BrokerLimits broker.Snapshot `json:"broker_limits"`
	MarketOpen bool `json:"market_open"`
	ISTTime string `json:"ist_time"`
}

// DashboardParams are the /api/dashboard query parameters.
type DashboardParams struct {
	Timeframe string
	Factor factor.Name
	Query string
	CompleteOnly bool
	TriggerOnly bool
	Limit int
}

// DashboardResponse is the full /api/dashboard payload.
type DashboardResponse struct {
	Day string `json:"day"`
	UpdatedAt string `json:"updated_at"`
	RowCount int `json:"row_count"`
	ScanCount int `json:"scan_count"`
	ReturnedCount int `json:"returned_count"`
	Rows []derive.Row `json:"rows"`
	Stats Stats `json:"stats"`
	Status Status `json:"status"`
}

// Service wires the components the view layer reads from.
type Service struct {
	SnapshotLoader *snapshot.Loader
	Cache *cache.Cache
	FirstClose *firstclose.Reader
	Governor *broker.Governor
	Store TradeLister
	SnapshotPath string
	ExchangeDefault string

	// LiveTimeframe/LiveFactor identify the single configuration the
	// trades view reads derived rows from for its per-symbol analysis
	// block.
	LiveTimeframe string
	LiveFactor    factor.Name
}

// TradeLister is the subset of store.Store the view layer reads.
type TradeLister interface {
	ListOpenOrdered(limit int) ([]*papertrade.Trade, error)
	ListClosed(limit int) ([]*papertrade.Trade, error)
	CounterForDay(day string) (broker.Counter, error)
}

func clampLimit(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// Dashboard builds the dashboard view.
func (s *Service) Dashboard(p DashboardParams) DashboardResponse {
	limit := clampLimit(p.Limit, 5000, 50000)
	snap := s.SnapshotLoader.Load()

	entry, _ := s.Cache.Get(snap, p.Timeframe, p.Factor, nowUnix())

	rows := entry.All
	if p.TriggerOnly {
		rows = entry.Trigger
	}

	filtered := filterRows(rows, p.Query, p.CompleteOnly)
	scanCount := len(filtered)
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	day := markettime.Today()
	counter, _ := s.Store.CounterForDay(day)

	return DashboardResponse{
		Day: snap.Day,
		UpdatedAt: snap.UpdatedAt,
		RowCount: snap.RowCount,
		ScanCount: scanCount,
		ReturnedCount: len(filtered),
		Rows: filtered,
		Stats: s.stats(day, snap),
		Status: Status{
			BrokerLimits: s.Governor.Evaluate(counter),
			MarketOpen: markettime.IsMarketOpen(s.ExchangeDefault),
			ISTTime: markettime.FormatIST(markettime.Now()),
		},
	}
}

func filterRows(rows []derive.Row, q string, completeOnly bool) []derive.Row {
	if q == "" && !completeOnly {
		out := make([]derive.Row, len(rows))
		copy(out, rows)
		return out
	}
	q = strings.ToUpper(q)
	out := make([]derive.Row, 0, len(rows))
	for _, r := range rows {
		if completeOnly && !r.FetchDone {
			continue
		}
		if q != "" && !strings.HasPrefix(strings.ToUpper(r.Symbol), q) && !strings.HasPrefix(strings.ToUpper(r.Tsym), q) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *Service) stats(day string, snap snapshot.Snapshot) Stats {
	var fc firstclose.Stats
	var fileInfo os.FileInfo

	var g errgroup.Group
	g.Go(func() error {
		fc = s.FirstClose.Counts(day)
		return nil
	})
	g.Go(func() error {
		info, err := os.Stat(s.SnapshotPath)
		if err == nil {
			fileInfo = info
		}
		return nil
	})
	_ = g.Wait()

	st := Stats{
		FirstCloseRowCount: fc.RowCountToday,
		FirstClosePending: fc.PendingCount,
		FirstCloseAvailable: fc.Available,
	}
	if fileInfo != nil {
		st.SnapshotFileSize = humanize.Bytes(uint64(fileInfo.Size()))
		st.SnapshotModTime = fileInfo.ModTime().Format("2006-01-02T15:04:05Z07:00")
	}
	return st
}

// TradesParams are the /api/trades query parameters.
type TradesParams struct {
	OpenLimit int
	ClosedLimit int
	Query string
}

// TradesSummary counts open and closed trades; TotalNetPNL and the
// win/loss tallies cover closed trades only.
type TradesSummary struct {
	OpenCount int `json:"open_count"`
	ClosedCount int `json:"closed_count"`
	TotalNetPNL float64 `json:"total_net_pnl"`
	WinCount int `json:"win_count"`
	LossCount int `json:"loss_count"`
}

// GainerLoser is one entry in the top-gainers/losers-by-move list.
type GainerLoser struct {
	Symbol string `json:"symbol"`
	Tsym string `json:"tsym"`
	MovePct float64 `json:"move_pct"`
}

// VolumeLeader is one entry in the volume-leaders list.
type VolumeLeader struct {
	Symbol string `json:"symbol"`
	Tsym string `json:"tsym"`
	Volume float64 `json:"volume"`
}

// Analysis is the "analysis" block.
type Analysis struct {
	TopWinners []*papertrade.Trade `json:"top_winners"`
	TopLosers []*papertrade.Trade `json:"top_losers"`
	VolumeLeaders []VolumeLeader `json:"volume_leaders"`
	TopGainers []GainerLoser `json:"top_gainers"`
	TopLosersMove []GainerLoser `json:"top_losers_move"`
}

// TradesResponse is the full /api/trades payload.
type TradesResponse struct {
	Summary TradesSummary `json:"summary"`
	OpenTrades []*papertrade.Trade `json:"open_trades"`
	RecentClosed []*papertrade.Trade `json:"recent_closed"`
	Analysis Analysis `json:"analysis"`
	Status Status `json:"status"`
}

// Trades builds the trades view.
func (s *Service) Trades(p TradesParams) TradesResponse {
	openLimit := clampLimit(p.OpenLimit, 500, 5000)
	closedLimit := clampLimit(p.ClosedLimit, 1000, 10000)

	open, _ := s.Store.ListOpenOrdered(openLimit)
	closed, _ := s.Store.ListClosed(closedLimit)

	open = filterTrades(open, p.Query)
	closed = filterTrades(closed, p.Query)

	summary := TradesSummary{OpenCount: len(open), ClosedCount: len(closed)}
	for _, t := range closed {
		summary.TotalNetPNL += t.NetPNL
		if t.NetPNL >= 0 {
			summary.WinCount++
		} else {
			summary.LossCount++
		}
	}

	all := make([]*papertrade.Trade, 0, len(open)+len(closed))
	all = append(all, open...)
	all = append(all, closed...)

	winners, losers := topByPNL(all, 10)

	snap := s.SnapshotLoader.Load()
	entry, _ := s.Cache.Get(snap, s.LiveTimeframe, s.LiveFactor, nowUnix())
	volumeLeaders, gainers, losersByMove := perSymbolAnalysis(entry.All, 10)

	day := markettime.Today()
	counter, _ := s.Store.CounterForDay(day)

	return TradesResponse{
		Summary: summary,
		OpenTrades: open,
		RecentClosed: closed,
		Analysis: Analysis{
			TopWinners: winners,
			TopLosers: losers,
			VolumeLeaders: volumeLeaders,
			TopGainers: gainers,
			TopLosersMove: losersByMove,
		},
		Status: Status{
			BrokerLimits: s.Governor.Evaluate(counter),
			MarketOpen: markettime.IsMarketOpen(s.ExchangeDefault),
			ISTTime: markettime.FormatIST(markettime.Now()),
		},
	}
}

func filterTrades(trades []*papertrade.Trade, q string) []*papertrade.Trade {
	if q == "" {
		return trades
	}
	q = strings.ToUpper(q)
	out := make([]*papertrade.Trade, 0, len(trades))
	for _, t := range trades {
		if strings.HasPrefix(strings.ToUpper(t.Symbol), q) || strings.HasPrefix(strings.ToUpper(t.Tsym), q) {
			out = append(out, t)
		}
	}
	return out
}

func pnlOf(t *papertrade.Trade) float64 {
	if t.Status == papertrade.StatusClosed {
		return t.NetPNL
	}
	return t.PNL
}

func topByPNL(trades []*papertrade.Trade, n int) (winners, losers []*papertrade.Trade) {
	sorted := make([]*papertrade.Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return pnlOf(sorted[i]) > pnlOf(sorted[j]) })

	if len(sorted) < n {
		n = len(sorted)
	}
	winners = sorted[:n]

	lsorted := make([]*papertrade.Trade, len(trades))
	copy(lsorted, trades)
	sort.Slice(lsorted, func(i, j int) bool { return pnlOf(lsorted[i]) < pnlOf(lsorted[j]) })
	m := n
	if len(lsorted) < m {
		m = len(lsorted)
	}
	losers = lsorted[:m]
	return
}

// perSymbolAnalysis computes volume leaders and top gainers/losers by
// (ltp-close)/close.
func perSymbolAnalysis(rows []derive.Row, n int) (volumeLeaders []VolumeLeader, gainers, losers []GainerLoser) {
	volSorted := make([]derive.Row, len(rows))
	copy(volSorted, rows)
	sort.Slice(volSorted, func(i, j int) bool { return volSorted[i].Volume > volSorted[j].Volume })
	for i := 0; i < n && i < len(volSorted); i++ {
		r := volSorted[i]
		volumeLeaders = append(volumeLeaders, VolumeLeader{Symbol: r.Symbol, Tsym: r.Tsym, Volume: r.Volume})
	}

	type moved struct {
		derive.Row
		movePct float64
	}
	movedRows := make([]moved, 0, len(rows))
	for _, r := range rows {
		if r.Close == 0 {
			continue
		}
		movedRows = append(movedRows, moved{r, (r.LTP - r.Close) / r.Close * 100})
	}
	sort.Slice(movedRows, func(i, j int) bool { return movedRows[i].movePct > movedRows[j].movePct })
	for i := 0; i < n && i < len(movedRows); i++ {
		m := movedRows[i]
		gainers = append(gainers, GainerLoser{Symbol: m.Symbol, Tsym: m.Tsym, MovePct: m.movePct})
	}
	sort.Slice(movedRows, func(i, j int) bool { return movedRows[i].movePct < movedRows[j].movePct })
	for i := 0; i < n && i < len(movedRows); i++ {
		m := movedRows[i]
		losers = append(losers, GainerLoser{Symbol: m.Symbol, Tsym: m.Tsym, MovePct: m.movePct})
	}
	return
}

func nowUnix() int64 {
	return markettime.Now().Unix()
}

// BrokerSnapshot returns the governor's composed status for day,
// defaulting to the current IST calendar day when day is empty.
func (s *Service) BrokerSnapshot(day string) (broker.Snapshot, error) {
	if day == "" {
		day = markettime.Today()
	}
	counter, err := s.Store.CounterForDay(day)
	if err != nil {
		return broker.Snapshot{}, err
	}
	return s.Governor.Evaluate(counter), nil
}

// ExportTrades returns the trades matching status ("all", "open", or
// "closed") for the export endpoint.
func (s *Service) ExportTrades(status string) ([]*papertrade.Trade, error) {
	switch status {
	case "open":
		return s.Store.ListOpenOrdered(100000)
	case "closed":
		return s.Store.ListClosed(1000000)
	default:
		open, err := s.Store.ListOpenOrdered(100000)
		if err != nil {
			return nil, err
		}
		closed, err := s.Store.ListClosed(1000000)
		if err != nil {
			return nil, err
		}
		out := make([]*papertrade.Trade, 0, len(open)+len(closed))
		out = append(out, open...)
		out = append(out, closed...)
		return out, nil
	}
}
