// Package markettime implements the Asia/Kolkata-aware market-time
// policy: per-exchange auto-close thresholds applied as both an entry
// block and a forced-close trigger.
package markettime

import (
	"fmt"
	"time"
)

// IST is the single timezone every threshold in this package is
// evaluated against. Never compare epoch math to these thresholds —
// always go through Now/TimeOfDay.
var IST *time.Location

func init() {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fixed +05:30 offset, same wall-clock result with no tzdata
		// dependency, used only if the runtime's tzdata is missing.
		loc = time.FixedZone("IST", 5*60*60+30*60)
	}
	IST = loc
}

// closeThreshold is a time-of-day expressed as seconds since midnight.
type closeThreshold int

func tod(h, m, s int) closeThreshold {
	return closeThreshold(h*3600 + m*60 + s)
}

var exchangeCloseThreshold = map[string]closeThreshold{
	"NSE": tod(15, 28, 30),
	"BSE": tod(15, 28, 30),
	"NFO": tod(15, 28, 30),
	"BFO": tod(15, 28, 30),
	"MCX": tod(23, 30, 0),
}

const defaultCloseThreshold = closeThreshold(15*3600 + 28*60 + 30)

// Now is the single clock seam in this package; tests patch it with
// gomonkey to get deterministic IST boundary behavior.
func Now() time.Time {
	return time.Now().In(IST)
}

// TimeOfDaySeconds returns seconds since local midnight in IST.
func TimeOfDaySeconds(t time.Time) int {
	t = t.In(IST)
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// ShouldAutoClose reports whether the current IST time-of-day has
// reached or passed the exchange's close threshold.
func ShouldAutoClose(exchange string) bool {
	return shouldAutoCloseAt(Now(), exchange)
}

func shouldAutoCloseAt(t time.Time, exchange string) bool {
	threshold, ok := exchangeCloseThreshold[normalizeExchange(exchange)]
	if !ok {
		threshold = defaultCloseThreshold
	}
	return closeThreshold(TimeOfDaySeconds(t)) >= threshold
}

// IsMarketOpen is the entry-side complement of ShouldAutoClose: an
// exchange that has reached its close threshold is not open for new
// entries.
func IsMarketOpen(exchange string) bool {
	return !ShouldAutoClose(exchange)
}

// IsMCXEveningSession reports whether it is currently IST >= 17:00,
// the relaxed-probability-threshold window for MCX in the entry
// filter.
func IsMCXEveningSession() bool {
	return TimeOfDaySeconds(Now()) >= int(tod(17, 0, 0))
}

func normalizeExchange(exchange string) string {
	switch exchange {
	case "NSE", "BSE", "NFO", "BFO", "MCX":
		return exchange
	default:
		return exchange
	}
}

// FormatIST renders t (any timezone) as an IST HH:MM:SS string, for
// health-check and dashboard payloads.
func FormatIST(t time.Time) string {
	return t.In(IST).Format("15:04:05")
}

// FormatISTDateTime renders t as an IST RFC3339-ish datetime string.
func FormatISTDateTime(t time.Time) string {
	return t.In(IST).Format(time.RFC3339)
}

// LocalDay returns the local ISO calendar day for t in IST, e.g.
// "2026-07-31".
func LocalDay(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// Today is LocalDay(Now()).
func Today() string {
	return LocalDay(Now())
}

// Describe returns a short human string for logging, e.g. "NSE closes at 15:28:30 IST".
func Describe(exchange string) string {
	threshold, ok := exchangeCloseThreshold[exchange]
	if !ok {
		threshold = defaultCloseThreshold
	}
	h := int(threshold) / 3600
	m := (int(threshold) % 3600) / 60
	s := int(threshold) % 60
	return fmt.Sprintf("%s closes at %02d:%02d:%02d IST", exchange, h, m, s)
}
