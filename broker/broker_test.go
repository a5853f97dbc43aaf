package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLimits() Limits {
	return Limits{MaxOrdersPerDay: 100, MaxOpenPositions: 10, MaxMarginUsedPct: 80}
}

func TestEvaluate_Green(t *testing.T) {
	g := New(testLimits())
	snap := g.Evaluate(Counter{Day: "2026-07-31", OrdersPlaced: 10, OpenPositions: 1})
	assert.Equal(t, Green, snap.Status)
	assert.InDelta(t, 90, snap.OrdersRemainingPct, 1e-9)
	assert.InDelta(t, 90, snap.PositionsRemainingPct, 1e-9)
	assert.True(t, g.IsSafe(Counter{OrdersPlaced: 10, OpenPositions: 1}))
}

func TestEvaluate_YellowOnOrders(t *testing.T) {
	g := New(testLimits())
	// 49% remaining on orders -> yellow.
	snap := g.Evaluate(Counter{OrdersPlaced: 51, OpenPositions: 1})
	assert.Equal(t, Yellow, snap.Status)
	assert.True(t, g.IsSafe(Counter{OrdersPlaced: 51, OpenPositions: 1}))
}

func TestEvaluate_YellowOnPositions(t *testing.T) {
	g := New(testLimits())
	// 4/10 positions used -> 60% remaining, still green; 6/10 -> 40% yellow.
	snap := g.Evaluate(Counter{OrdersPlaced: 1, OpenPositions: 6})
	assert.Equal(t, Yellow, snap.Status)
}

func TestEvaluate_RedOnOrders(t *testing.T) {
	g := New(testLimits())
	snap := g.Evaluate(Counter{OrdersPlaced: 81, OpenPositions: 1})
	assert.Equal(t, Red, snap.Status)
	assert.False(t, g.IsSafe(Counter{OrdersPlaced: 81, OpenPositions: 1}))
}

func TestEvaluate_RedOnPositions(t *testing.T) {
	g := New(testLimits())
	snap := g.Evaluate(Counter{OrdersPlaced: 1, OpenPositions: 9})
	assert.Equal(t, Red, snap.Status)
}

func TestEvaluate_BoundaryExactly20PctIsNotRed(t *testing.T) {
	g := New(testLimits())
	// 80 orders placed out of 100 -> exactly 20% remaining, not < 20.
	snap := g.Evaluate(Counter{OrdersPlaced: 80, OpenPositions: 1})
	assert.NotEqual(t, Red, snap.Status)
}

func TestEvaluate_BoundaryExactly50PctIsNotYellow(t *testing.T) {
	g := New(testLimits())
	snap := g.Evaluate(Counter{OrdersPlaced: 50, OpenPositions: 1})
	assert.Equal(t, Green, snap.Status)
}

func TestEvaluate_OverLimitClampsRemainingToZero(t *testing.T) {
	g := New(testLimits())
	snap := g.Evaluate(Counter{OrdersPlaced: 500, OpenPositions: 50})
	assert.InDelta(t, 0, snap.OrdersRemainingPct, 1e-9)
	assert.InDelta(t, 0, snap.PositionsRemainingPct, 1e-9)
	assert.Equal(t, Red, snap.Status)
}

func TestEvaluate_MarginUsedIsAdvisoryOnly(t *testing.T) {
	g := New(testLimits())
	// Margin far over its advisory limit must not push status to red or
	// affect IsSafe, per the governor's advisory-only margin gauge.
	snap := g.Evaluate(Counter{OrdersPlaced: 1, OpenPositions: 1, MarginUsed: 1000})
	assert.Equal(t, Green, snap.Status)
	assert.True(t, g.IsSafe(Counter{OrdersPlaced: 1, OpenPositions: 1, MarginUsed: 1000}))
	assert.InDelta(t, 1250, snap.MarginUsedPct, 1e-9)
}

func TestEvaluate_ZeroLimitsTreatedAsFullyUsed(t *testing.T) {
	g := New(Limits{})
	snap := g.Evaluate(Counter{OrdersPlaced: 0, OpenPositions: 0})
	assert.InDelta(t, 0, snap.OrdersRemainingPct, 1e-9)
	assert.InDelta(t, 0, snap.PositionsRemainingPct, 1e-9)
	assert.Equal(t, Red, snap.Status)
}
