package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/HatiCode/demandcast/pkg/api/forecastv1"
	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/models"
)

const (
	formatTable = "table"
	formatCSV   = "csv"
	formatJSON  = "json"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatCSV, formatJSON:
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, csv or json)", format)
	}
}

func writeTrain(w io.Writer, resp forecastv1.TrainResponse) error {
	fmt.Fprintf(w, "Run:   %s\n", resp.RunID)
	fmt.Fprintf(w, "Model: %s\n\n", resp.Model)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CANDIDATE\tMAE\t")
	for _, s := range resp.Scores {
		mark := ""
		if s.Model == resp.Model {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%s\n", s.Model, s.MAE, mark)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, f := range resp.Failures {
		fmt.Fprintf(w, "failed: %s\n", f)
	}
	return nil
}

func writeForecast(w io.Writer, fc models.Forecast, format string) error {
	switch format {
	case formatJSON:
		return writeJSON(w, fc.Rows())
	case formatCSV:
		return fc.WriteCSV(w)
	default:
		return writeTable(w, fc.Records())
	}
}

var indicatorColumns = []string{
	"date", "close", "sma_20", "sma_50", "ema_12", "ema_26", "macd", "signal_line", "rsi",
	"bb_middle", "bb_upper", "bb_lower", "lag_1", "lag_2", "lag_3", "lag_5", "daily_return", "volatility",
}

func writeIndicators(w io.Writer, rows []features.IndicatorRow, format string) error {
	if format == formatJSON {
		return writeJSON(w, rows)
	}

	records := make([][]string, 0, len(rows)+1)
	records = append(records, indicatorColumns)
	for _, r := range rows {
		rec := []string{r.Date.Format(time.DateOnly)}
		for _, v := range []float64{
			r.Close, r.SMA20, r.SMA50, r.EMA12, r.EMA26, r.MACD, r.Signal, r.RSI,
			r.BBMiddle, r.BBUpper, r.BBLower, r.Lag1, r.Lag2, r.Lag3, r.Lag5, r.DailyReturn, r.Volatility,
		} {
			rec = append(rec, strconv.FormatFloat(v, 'f', 4, 64))
		}
		records = append(records, rec)
	}

	if format == formatCSV {
		cw := csv.NewWriter(w)
		return cw.WriteAll(records)
	}
	return writeTable(w, records)
}

func writeTable(w io.Writer, records [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, rec := range records {
		if i == 0 {
			upper := make([]string, len(rec))
			for j, col := range rec {
				upper[j] = strings.ToUpper(col)
			}
			rec = upper
		}
		fmt.Fprintln(tw, strings.Join(rec, "\t"))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
