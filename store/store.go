// Package store implements the persistent paper trade store:
// SQLite-backed CRUD for paper trades and the broker-limits counter,
// with idempotent schema migration.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"b5engine/broker"
	"b5engine/logger"
	"b5engine/papertrade"
)

// Store is the engine's exclusive writer over the paper-trade
// database. It implements papertrade.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the paper-trade database, applies
// the idempotent schema migration, and configures WAL + a 2000ms busy
// timeout.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open paper-trade db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate paper-trade db: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// migrate applies the canonical schema idempotently: CREATE TABLE IF
// NOT EXISTS, then best-effort ALTER TABLE ADD COLUMN for every
// column the canonical schema wants, then indexes. Errors from the
// best-effort ALTERs are discarded — a column that already exists
// reports "duplicate column" and is not a failure.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS paper_trades (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			tsym TEXT NOT NULL DEFAULT '',
			exchange TEXT NOT NULL DEFAULT '',
			day TEXT NOT NULL DEFAULT '',
			timeframe TEXT NOT NULL DEFAULT '',
			factor TEXT NOT NULL DEFAULT '',
			instrument_type TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'OPEN',
			updated_at INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return err
	}

	for _, col := range []string{
		"close_price REAL DEFAULT 0",
		"points REAL DEFAULT 0",
		"bu1 REAL DEFAULT 0", "bu2 REAL DEFAULT 0", "bu3 REAL DEFAULT 0", "bu4 REAL DEFAULT 0", "bu5 REAL DEFAULT 0",
		"be1 REAL DEFAULT 0", "be2 REAL DEFAULT 0", "be3 REAL DEFAULT 0", "be4 REAL DEFAULT 0", "be5 REAL DEFAULT 0",
		"sl_price REAL DEFAULT 0",
		"tp_price REAL DEFAULT 0",
		"tsl_trigger REAL DEFAULT 0",
		"tsl_active INTEGER DEFAULT 0",
		"tsl_sl_price REAL DEFAULT 0",
		"entry_ltp REAL DEFAULT 0",
		"entry_ts INTEGER DEFAULT 0",
		"exit_ltp REAL DEFAULT 0",
		"exit_ts INTEGER DEFAULT 0",
		"quantity INTEGER DEFAULT 0",
		"reason TEXT DEFAULT ''",
		"last_ltp REAL DEFAULT 0",
		"max_ltp REAL DEFAULT 0",
		"min_ltp REAL DEFAULT 0",
		"runup REAL DEFAULT 0",
		"drawdown REAL DEFAULT 0",
		"max_profit_points REAL DEFAULT 0",
		"pnl REAL DEFAULT 0",
		"pnl_pct REAL DEFAULT 0",
		"brokerage REAL DEFAULT 0",
		"stt REAL DEFAULT 0",
		"exchange_charges REAL DEFAULT 0",
		"sebi_charges REAL DEFAULT 0",
		"stamp_duty REAL DEFAULT 0",
		"gst REAL DEFAULT 0",
		"total_charges REAL DEFAULT 0",
		"net_pnl REAL DEFAULT 0",
	} {
		_, _ = s.db.Exec(`ALTER TABLE paper_trades ADD COLUMN ` + col)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_paper_trades_status ON paper_trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_paper_trades_symbol ON paper_trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_paper_trades_day ON paper_trades(day)`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS broker_limits (
			day TEXT PRIMARY KEY,
			orders_placed INTEGER NOT NULL DEFAULT 0,
			open_positions INTEGER NOT NULL DEFAULT 0,
			margin_used REAL NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// OpenTrade returns the single OPEN trade for symbol, if any; at most
// one OPEN trade is ever live per symbol.
func (s *Store) OpenTrade(symbol string) (*papertrade.Trade, bool, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM paper_trades WHERE symbol = ? AND status = 'OPEN' LIMIT 1`, symbol)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open trade query: %w", err)
	}
	return t, true, nil
}

// ListOpenTrades returns every OPEN trade across all symbols.
func (s *Store) ListOpenTrades() ([]*papertrade.Trade, error) {
	rows, err := s.db.Query(`SELECT ` + selectColumns + ` FROM paper_trades WHERE status = 'OPEN'`)
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListClosed returns CLOSED trades ordered by exit_ts desc, capped at limit.
func (s *Store) ListClosed(limit int) ([]*papertrade.Trade, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM paper_trades WHERE status = 'CLOSED' ORDER BY exit_ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list closed trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListOpenOrdered returns OPEN trades ordered by updated_at desc, capped at limit.
func (s *Store) ListOpenOrdered(limit int) ([]*papertrade.Trade, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM paper_trades WHERE status = 'OPEN' ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open ordered: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// LastExitTS returns the most recent exit_ts recorded for symbol; the
// papertrade engine adds its configured cooldown window to this to
// decide whether a new entry is blocked.
func (s *Store) LastExitTS(symbol string) (int64, bool, error) {
	var exitTS sql.NullInt64
	row := s.db.QueryRow(`SELECT exit_ts FROM paper_trades WHERE symbol = ? AND status = 'CLOSED' ORDER BY exit_ts DESC LIMIT 1`, symbol)
	if err := row.Scan(&exitTS); err == sql.ErrNoRows {
		return 0, false, nil
	} else if err != nil {
		return 0, false, fmt.Errorf("cooldown query: %w", err)
	}
	if !exitTS.Valid {
		return 0, false, nil
	}
	return exitTS.Int64, true, nil
}

// SaveTrade inserts or updates t (upsert on id).
func (s *Store) SaveTrade(t *papertrade.Trade) error {
	_, err := s.db.Exec(`
		INSERT INTO paper_trades (
			id, symbol, tsym, exchange, day, timeframe, factor, instrument_type, status, updated_at,
			close_price, points, bu1,bu2,bu3,bu4,bu5, be1,be2,be3,be4,be5,
			sl_price, tp_price, tsl_trigger, tsl_active, tsl_sl_price,
			entry_ltp, entry_ts, exit_ltp, exit_ts, quantity, reason,
			last_ltp, max_ltp, min_ltp, runup, drawdown, max_profit_points,
			pnl, pnl_pct, brokerage, stt, exchange_charges, sebi_charges, stamp_duty, gst, total_charges, net_pnl
		) VALUES (
			?,?,?,?,?,?,?,?,?,?,
			?,?,?,?,?,?,?,?,?,?,?,?,
			?,?,?,?,?,
			?,?,?,?,?,?,
			?,?,?,?,?,?,
			?,?,?,?,?,?,?,?,?,?
		)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, updated_at=excluded.updated_at,
			tsl_active=excluded.tsl_active, tsl_sl_price=excluded.tsl_sl_price,
			exit_ltp=excluded.exit_ltp, exit_ts=excluded.exit_ts, reason=excluded.reason,
			last_ltp=excluded.last_ltp, max_ltp=excluded.max_ltp, min_ltp=excluded.min_ltp,
			runup=excluded.runup, drawdown=excluded.drawdown, max_profit_points=excluded.max_profit_points,
			pnl=excluded.pnl, pnl_pct=excluded.pnl_pct,
			brokerage=excluded.brokerage, stt=excluded.stt, exchange_charges=excluded.exchange_charges,
			sebi_charges=excluded.sebi_charges, stamp_duty=excluded.stamp_duty, gst=excluded.gst,
			total_charges=excluded.total_charges, net_pnl=excluded.net_pnl
	`,
		t.ID, t.Symbol, t.Tsym, t.Exchange, t.Day, t.Timeframe, t.Factor, t.InstrumentType, string(t.Status), t.UpdatedAt,
		t.ClosePrice, t.Points, t.BU[1], t.BU[2], t.BU[3], t.BU[4], t.BU[5], t.BE[1], t.BE[2], t.BE[3], t.BE[4], t.BE[5],
		t.SLPrice, t.TPPrice, t.TSLTrigger, t.TSLActive, t.TSLSLPrice,
		t.EntryLTP, t.EntryTS, t.ExitLTP, t.ExitTS, t.Quantity, t.Reason,
		t.LastLTP, t.MaxLTP, t.MinLTP, t.Runup, t.Drawdown, t.MaxProfitPoints,
		t.PNL, t.PNLPct, t.Brokerage, t.STT, t.ExchangeFee, t.SEBIFee, t.StampDuty, t.GST, t.TotalCharges, t.NetPNL,
	)
	if err != nil {
		// Schema-drift retry: re-run migration once, then degrade.
		logger.Warnf("papertrade save failed, retrying after migration: %v", err)
		if merr := s.migrate(); merr != nil {
			return fmt.Errorf("save trade (after failed migration retry): %w", err)
		}
		return s.saveMinimal(t)
	}
	return nil
}

// saveMinimal degrades to the smallest viable column set, used only
// when a full save has already failed once.
func (s *Store) saveMinimal(t *papertrade.Trade) error {
	_, err := s.db.Exec(`
		INSERT INTO paper_trades (id, symbol, status, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at
	`, t.ID, t.Symbol, string(t.Status), t.UpdatedAt)
	return err
}

// CounterForDay returns the broker-limits counter for day, with
// open_positions and margin_used derived live from paper_trades and
// orders_placed read from broker_limits.
func (s *Store) CounterForDay(day string) (broker.Counter, error) {
	var ordersPlaced int
	row := s.db.QueryRow(`SELECT orders_placed FROM broker_limits WHERE day = ?`, day)
	if err := row.Scan(&ordersPlaced); err != nil && err != sql.ErrNoRows {
		return broker.Counter{}, fmt.Errorf("orders_placed query: %w", err)
	}

	var openPositions int
	var marginUsed sql.NullFloat64
	row = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(entry_ltp*quantity),0) FROM paper_trades WHERE day = ? AND status = 'OPEN'`, day)
	if err := row.Scan(&openPositions, &marginUsed); err != nil {
		return broker.Counter{}, fmt.Errorf("open positions query: %w", err)
	}

	return broker.Counter{
		Day: day,
		OrdersPlaced: ordersPlaced,
		OpenPositions: openPositions,
		MarginUsed: marginUsed.Float64,
	}, nil
}

// IncrementOrdersPlaced increments the monotone orders_placed counter
// for day.
func (s *Store) IncrementOrdersPlaced(day string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO broker_limits (day, orders_placed, open_positions, margin_used, updated_at)
		VALUES (?, 1, 0, 0, ?)
		ON CONFLICT(day) DO UPDATE SET orders_placed = orders_placed + 1, updated_at = excluded.updated_at
	`, day, now)
	return err
}

const selectColumns = `
	id, symbol, tsym, exchange, day, timeframe, factor, instrument_type,
	close_price, points, bu1,bu2,bu3,bu4,bu5, be1,be2,be3,be4,be5,
	sl_price, tp_price, tsl_trigger, tsl_active, tsl_sl_price,
	entry_ltp, entry_ts, exit_ltp, exit_ts, quantity, reason,
	last_ltp, max_ltp, min_ltp, runup, drawdown, max_profit_points,
	pnl, pnl_pct, brokerage, stt, exchange_charges, sebi_charges, stamp_duty, gst, total_charges, net_pnl,
	status, updated_at
`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (*papertrade.Trade, error) {
	var t papertrade.Trade
	var status string
	err := row.Scan(
		&t.ID, &t.Symbol, &t.Tsym, &t.Exchange, &t.Day, &t.Timeframe, &t.Factor, &t.InstrumentType,
		&t.ClosePrice, &t.Points, &t.BU[1], &t.BU[2], &t.BU[3], &t.BU[4], &t.BU[5], &t.BE[1], &t.BE[2], &t.BE[3], &t.BE[4], &t.BE[5],
		&t.SLPrice, &t.TPPrice, &t.TSLTrigger, &t.TSLActive, &t.TSLSLPrice,
		&t.EntryLTP, &t.EntryTS, &t.ExitLTP, &t.ExitTS, &t.Quantity, &t.Reason,
		&t.LastLTP, &t.MaxLTP, &t.MinLTP, &t.Runup, &t.Drawdown, &t.MaxProfitPoints,
		&t.PNL, &t.PNLPct, &t.Brokerage, &t.STT, &t.ExchangeFee, &t.SEBIFee, &t.StampDuty, &t.GST, &t.TotalCharges, &t.NetPNL,
		&status, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = papertrade.Status(status)
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]*papertrade.Trade, error) {
	var out []*papertrade.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
