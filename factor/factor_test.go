package factor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelect_MCXAlwaysMini(t *testing.T) {
	v, n, r := Select(100, 90, "MCX", "GOLD")
	assert.Equal(t, Mini, v)
	assert.Equal(t, NameMini, n)
	assert.Equal(t, "mcx_commodity", r)
}

func TestSelect_Index(t *testing.T) {
	v, n, _ := Select(20000, 19000, "NSE", "NIFTY")
	assert.Equal(t, Micro, v)
	assert.Equal(t, NameMicro, n)
}

func TestSelect_EquityModerateVolatility(t *testing.T) {
	// S2 scenario: close=1500, ltp moves across the 5%/8% boundaries.
	_, n, _ := Select(1545, 1500, "NSE", "INFY") // move% = 3.0
	assert.Equal(t, NameMicro, n)

	_, n, _ = Select(1560, 1500, "NSE", "INFY") // move% = 4.0
	assert.Equal(t, NameMicro, n)

	_, n, _ = Select(1600, 1500, "NSE", "INFY") // move% = 6.67
	assert.Equal(t, NameMini, n)

	_, n, _ = Select(1700, 1500, "NSE", "INFY") // move% = 13.33
	assert.Equal(t, NameMega, n)
}

func TestSelect_Option(t *testing.T) {
	_, n, r := Select(102, 100, "NFO", "NIFTY24JULCE") // 2%
	assert.Equal(t, NameMicro, n)
	assert.Equal(t, "normal_option", r)

	_, n, _ = Select(106, 100, "NFO", "NIFTY24JULCE") // 6%
	assert.Equal(t, NameMini, n)

	_, n, _ = Select(111, 100, "NFO", "NIFTY24JULCE") // 11%
	assert.Equal(t, NameMega, n)
}

func TestSelect_Future(t *testing.T) {
	_, n, r := Select(102, 100, "NSE", "INFYFUT")
	assert.Equal(t, NameMicro, n)
	assert.Equal(t, "normal_future", r)

	_, n, _ = Select(104, 100, "NSE", "INFYFUT")
	assert.Equal(t, NameMini, n)
}

func TestResolve_FixedFactorPromotedOnMCX(t *testing.T) {
	v, r := Resolve(NameMega, 100, 90, "MCX", "SILVER")
	assert.Equal(t, Mini, v)
	assert.Equal(t, "mcx_commodity", r)
}

func TestResolve_FixedFactorUsedDirectly(t *testing.T) {
	v, r := Resolve(NameMega, 1545, 1500, "NSE", "INFY")
	assert.Equal(t, Mega, v)
	assert.Equal(t, "fixed_mega", r)
}

func TestResolve_Smart(t *testing.T) {
	v, r := Resolve(NameSmart, 1700, 1500, "NSE", "INFY")
	assert.Equal(t, Mega, v)
	assert.Equal(t, "extreme_volatility_equity", r)
}

func TestNameValue(t *testing.T) {
	v, ok := NameMini.Value()
	assert.True(t, ok)
	assert.Equal(t, Mini, v)

	_, ok = NameSmart.Value()
	assert.False(t, ok)
}
