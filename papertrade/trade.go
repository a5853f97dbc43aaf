// Package papertrade implements the paper trade record, the
// trading engine's entry/management/exit state machine, and
// brokerage charge accounting.
package papertrade

import "math"

type Status string

const (
	StatusOpen Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Trade is a single paper position, persisted by the store package.
type Trade struct {
	ID string
	Symbol string
	Tsym string
	Exchange string
	Day string
	Timeframe string
	Factor string
	InstrumentType string

	ClosePrice float64
	Points float64
	BU [6]float64
	BE [6]float64

	SLPrice float64
	TPPrice float64
	TSLTrigger float64
	TSLActive bool
	TSLSLPrice float64

	EntryLTP float64
	EntryTS int64
	ExitLTP float64
	ExitTS int64
	Quantity int
	Reason string

	LastLTP float64
	MaxLTP float64
	MinLTP float64
	Runup float64
	Drawdown float64
	MaxProfitPoints float64

	PNL float64
	PNLPct float64
	Brokerage float64
	STT float64
	ExchangeFee float64
	SEBIFee float64
	StampDuty float64
	GST float64
	TotalCharges float64
	NetPNL float64

	Status Status
	UpdatedAt int64

	// spikeFlagHint carries the latest snapshot's spike_flag for this
	// symbol into the management pass; set via ApplyLTP, not persisted.
	spikeFlagHint bool
}

// Charges is the charge breakdown.
type Charges struct {
	Brokerage float64
	STT float64
	ExchangeFee float64
	SEBIFee float64
	StampDuty float64
	GST float64
	Total float64
}

// ComputeCharges computes the brokerage/STT/exchange/SEBI/stamp-duty/GST
// breakdown for a round-trip trade.
func ComputeCharges(entry, exit float64, quantity int, exchange string) Charges {
	qty := float64(quantity)
	turnover := (entry + exit) * qty

	brokerage := math.Min(turnover*0.0001, 20.00)

	stt := turnover * 0.0001
	if startsWithNSEorBSE(exchange) {
		stt = turnover * 0.00025
	}

	exchangeFee := turnover * 0.0000325
	sebi := turnover * 0.000001
	stampDuty := entry * qty * 0.00015
	gst := (brokerage + exchangeFee) * 0.18

	total := brokerage + stt + exchangeFee + sebi + stampDuty + gst

	return Charges{
		Brokerage: brokerage,
		STT: stt,
		ExchangeFee: exchangeFee,
		SEBIFee: sebi,
		StampDuty: stampDuty,
		GST: gst,
		Total: total,
	}
}

func startsWithNSEorBSE(exchange string) bool {
	return len(exchange) >= 3 && (exchange[:3] == "NSE" || exchange[:3] == "BSE")
}
