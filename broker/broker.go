// Package broker implements the Broker-Limits Governor and the
// per-day counter it tracks.
package broker

// Status is the traffic-light verdict the governor reports.
type Status string

const (
	Green Status = "green"
	Yellow Status = "yellow"
	Red Status = "red"
)

// Counter is the per-day broker-limits counter.
type Counter struct {
	Day string
	OrdersPlaced int
	OpenPositions int
	MarginUsed float64
}

// Limits holds the governor's configured thresholds.
type Limits struct {
	MaxOrdersPerDay int
	MaxOpenPositions int
	MaxMarginUsedPct float64 // advisory only, see DESIGN.md Open Question (b)
}

// Snapshot is the governor's composed status for the view layer.
type Snapshot struct {
	Day string `json:"day"`
	OrdersPlaced int `json:"orders_placed"`
	OpenPositions int `json:"open_positions"`
	MarginUsed float64 `json:"margin_used"`
	MarginUsedPct float64 `json:"margin_used_pct"`
	OrdersRemainingPct float64 `json:"orders_remaining_pct"`
	PositionsRemainingPct float64 `json:"positions_remaining_pct"`
	Status Status `json:"status"`
}

// Governor evaluates the per-day counter against configured limits.
// It holds no mutable state of its own — callers supply the current
// counter (read from the paper-trade store) on every call.
type Governor struct {
	Limits Limits
}

func New(limits Limits) *Governor {
	return &Governor{Limits: limits}
}

// Evaluate computes the composed status for a counter.
func (g *Governor) Evaluate(c Counter) Snapshot {
	ordersRemainingPct := remainingPct(c.OrdersPlaced, g.Limits.MaxOrdersPerDay)
	positionsRemainingPct := remainingPct(c.OpenPositions, g.Limits.MaxOpenPositions)

	status := Green
	if ordersRemainingPct < 20 || positionsRemainingPct < 20 {
		status = Red
	} else if ordersRemainingPct < 50 || positionsRemainingPct < 50 {
		status = Yellow
	}

	marginPct := 0.0
	if g.Limits.MaxMarginUsedPct > 0 {
		// Advisory gauge only; never feeds into status or IsSafe.
		marginPct = c.MarginUsed / (g.Limits.MaxMarginUsedPct) * 100
	}

	return Snapshot{
		Day: c.Day,
		OrdersPlaced: c.OrdersPlaced,
		OpenPositions: c.OpenPositions,
		MarginUsed: c.MarginUsed,
		MarginUsedPct: marginPct,
		OrdersRemainingPct: ordersRemainingPct,
		PositionsRemainingPct: positionsRemainingPct,
		Status: status,
	}
}

// IsSafe reports whether new entries are permitted: blocked when
// status is red.
func (g *Governor) IsSafe(c Counter) bool {
	return g.Evaluate(c).Status != Red
}

func remainingPct(used, max int) float64 {
	if max <= 0 {
		return 0
	}
	remaining := max - used
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining) / float64(max) * 100
}
