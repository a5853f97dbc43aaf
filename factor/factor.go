// Package factor implements the Smart Factor Selector: an
// ordered rule chain mapping instrument shape and recent move size to
// one of three fixed ladder factors.
package factor

import (
	"math"
	"regexp"
	"strings"
)

// Fixed factor values.
const (
	Micro = 0.002611
	Mini = 0.0261
	Mega = 0.2611
)

// Name identifies a fixed factor by its configuration name.
type Name string

const (
	NameMicro Name = "micro"
	NameMini Name = "mini"
	NameMega Name = "mega"
	NameSmart Name = "smart"
)

// Value returns the numeric factor for a fixed name; Smart has no
// fixed value and must go through Select.
func (n Name) Value() (float64, bool) {
	switch n {
	case NameMicro:
		return Micro, true
	case NameMini:
		return Mini, true
	case NameMega:
		return Mega, true
	default:
		return 0, false
	}
}

var indexPattern = regexp.MustCompile(`^(NIFTY|BANKNIFTY|FINNIFTY|SENSEX)$`)

// Select runs the ordered rule chain and returns the chosen factor
// value, its config name, and a short machine-readable reason string
// for factor_reason.
func Select(ltp, closeVal float64, exchange, tsym string) (value float64, name Name, reason string) {
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	tsym = strings.ToUpper(strings.TrimSpace(tsym))

	if exchange == "MCX" {
		return Mini, NameMini, "mcx_commodity"
	}

	isIndex := indexPattern.MatchString(tsym)
	isOption := exchange == "NFO" || exchange == "BFO" ||
		strings.HasSuffix(tsym, "CE") || strings.HasSuffix(tsym, "PE")
	isFuture := strings.Contains(tsym, "FUT")

	if isIndex {
		return Micro, NameMicro, "index"
	}

	movePct := math.NaN()
	if closeVal != 0 && !math.IsNaN(ltp) && !math.IsNaN(closeVal) {
		movePct = math.Abs(ltp-closeVal) / math.Abs(closeVal) * 100
	}

	if isOption {
		switch {
		case movePct > 10:
			return Mega, NameMega, "extreme_volatility_option"
		case movePct > 5:
			return Mini, NameMini, "volatile_option"
		default:
			return Micro, NameMicro, "normal_option"
		}
	}

	if isFuture {
		if movePct > 3 {
			return Mini, NameMini, "volatile_future"
		}
		return Micro, NameMicro, "normal_future"
	}

	// Equity.
	switch {
	case movePct > 8:
		return Mega, NameMega, "extreme_volatility_equity"
	case movePct > 5:
		return Mini, NameMini, "volatile_equity"
	default:
		return Micro, NameMicro, "normal_equity"
	}
}

// Resolve turns a configured factor name into a concrete value for a
// given row, running Select for "smart" and promoting any fixed
// factor to mini on MCX ("fixed factor used directly except
// MCX always promoted to mini").
func Resolve(configured Name, ltp, closeVal float64, exchange, tsym string) (value float64, reason string) {
	exchange = strings.ToUpper(strings.TrimSpace(exchange))

	if configured == NameSmart {
		v, _, r := Select(ltp, closeVal, exchange, tsym)
		return v, r
	}

	if exchange == "MCX" {
		return Mini, "mcx_commodity"
	}

	v, ok := configured.Value()
	if !ok {
		v, _, r := Select(ltp, closeVal, exchange, tsym)
		return v, r
	}
	return v, "fixed_" + string(configured)
}
