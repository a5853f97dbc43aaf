// Package auditlog records the durable paper-trade decision trail:
// one structured entry per entry/exit/TSL-ladder/charge event, kept
// separate from the operational logger so it can be shipped or
// searched independently.
package auditlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu  sync.Mutex
	log = logrus.New()
)

func init() {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)
}

// SetOutput redirects the audit stream, e.g. to a rotating file.
func SetOutput(w *os.File) {
	mu.Lock()
	defer mu.Unlock()
	log.SetOutput(w)
}

// EntryAccepted records a paper trade being opened.
func EntryAccepted(tradeID, symbol string, fields map[string]interface{}) {
	entry(log.WithField("event", "entry_accepted").WithField("trade_id", tradeID).WithField("symbol", symbol), fields)
}

// EntryRejected records a rejected entry attempt and the reason.
func EntryRejected(symbol, reason string, fields map[string]interface{}) {
	entry(log.WithField("event", "entry_rejected").WithField("symbol", symbol).WithField("reason", reason), fields)
}

// TSLPromoted records a trailing-stop ladder promotion.
func TSLPromoted(tradeID, symbol string, fields map[string]interface{}) {
	entry(log.WithField("event", "tsl_promoted").WithField("trade_id", tradeID).WithField("symbol", symbol), fields)
}

// Closed records a trade close, its reason, and its charge breakdown.
func Closed(tradeID, symbol, reason string, fields map[string]interface{}) {
	entry(log.WithField("event", "closed").WithField("trade_id", tradeID).WithField("symbol", symbol).WithField("reason", reason), fields)
}

func entry(e *logrus.Entry, fields map[string]interface{}) {
	e.WithFields(logrus.Fields(fields)).Info()
}
