package api

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"

	"b5engine/papertrade"
)

var exportCSVHeader = []string{
	"id", "symbol", "tsym", "exchange", "day", "timeframe", "factor", "status",
	"entry_ltp", "exit_ltp", "quantity", "pnl", "net_pnl", "total_charges", "reason",
}

func writeTradesCSV(path string, trades []*papertrade.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exportCSVHeader); err != nil {
		return err
	}
	for _, t := range trades {
		record := []string{
			t.ID, t.Symbol, t.Tsym, t.Exchange, t.Day, t.Timeframe, t.Factor, string(t.Status),
			strconv.FormatFloat(t.EntryLTP, 'f', 2, 64),
			strconv.FormatFloat(t.ExitLTP, 'f', 2, 64),
			strconv.Itoa(t.Quantity),
			strconv.FormatFloat(t.PNL, 'f', 2, 64),
			strconv.FormatFloat(t.NetPNL, 'f', 2, 64),
			strconv.FormatFloat(t.TotalCharges, 'f', 2, 64),
			t.Reason,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeTradesJSON(path string, trades []*papertrade.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(trades)
}
