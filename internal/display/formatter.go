// Package display renders client events for the terminal. It is a pure
// consumer of the event bus; nothing in here feeds back into the session.
package display

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hyperflow/models"
)

const (
	colorReset  = "\x1b[0m"
	colorGreen  = "\x1b[32m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
	colorDim    = "\x1b[2m"
)

// Formatter turns trades and status lines into strings for one of the
// supported output formats: table, csv, json or minimal.
type Formatter struct {
	format  string
	noColor bool
	verbose bool
}

func NewFormatter(format string, noColor, verbose bool) *Formatter {
	return &Formatter{format: format, noColor: noColor, verbose: verbose}
}

func (f *Formatter) paint(color, s string) string {
	if f.noColor {
		return s
	}
	return color + s + colorReset
}

// Header returns the per-format column header, or "" when the format has
// none.
func (f *Formatter) Header() string {
	switch f.format {
	case "table":
		head := fmt.Sprintf("%-12s %-8s %-5s %14s %12s %14s", "TIME", "COIN", "SIDE", "PRICE", "SIZE", "VALUE")
		if f.verbose {
			head += fmt.Sprintf("  %-12s %s", "TID", "HASH")
		}
		return f.paint(colorDim, head)
	case "csv":
		cols := []string{"timestamp", "coin", "side", "price", "size", "value"}
		if f.verbose {
			cols = append(cols, "tid", "hash", "buyer", "seller")
		}
		return strings.Join(cols, ",")
	default:
		return ""
	}
}

// Trade renders one accepted trade in the configured format.
func (f *Formatter) Trade(t *models.Trade) string {
	switch f.format {
	case "csv":
		return f.tradeCSV(t)
	case "json":
		return f.tradeJSON(t)
	case "minimal":
		return fmt.Sprintf("%s %s %.6g %.6g", t.Coin, t.SideFormatted(), t.Price.Float64(), t.Size.Float64())
	default:
		return f.tradeTable(t)
	}
}

func (f *Formatter) tradeTable(t *models.Trade) string {
	side := t.SideFormatted()
	if side == "BUY" {
		side = f.paint(colorGreen, fmt.Sprintf("%-5s", side))
	} else {
		side = f.paint(colorRed, fmt.Sprintf("%-5s", side))
	}

	line := fmt.Sprintf("%-12s %-8s %s %14.4f %12.5f %14.2f",
		t.Timestamp().Format("15:04:05.000"),
		t.Coin,
		side,
		t.Price.Float64(),
		t.Size.Float64(),
		t.Value(),
	)
	if f.verbose {
		line += fmt.Sprintf("  %-12d %s", t.Tid, t.Hash)
	}
	return line
}

func (f *Formatter) tradeCSV(t *models.Trade) string {
	fields := []string{
		t.Timestamp().Format(time.RFC3339Nano),
		t.Coin,
		t.SideFormatted(),
		fmt.Sprintf("%g", t.Price.Float64()),
		fmt.Sprintf("%g", t.Size.Float64()),
		fmt.Sprintf("%.2f", t.Value()),
	}
	if f.verbose {
		buyer, seller := t.BuyerSeller()
		fields = append(fields, fmt.Sprintf("%d", t.Tid), t.Hash, buyer, seller)
	}
	return strings.Join(fields, ",")
}

func (f *Formatter) tradeJSON(t *models.Trade) string {
	rec := struct {
		Timestamp string  `json:"timestamp"`
		Coin      string  `json:"coin"`
		Side      string  `json:"side"`
		Price     float64 `json:"price"`
		Size      float64 `json:"size"`
		Value     float64 `json:"value"`
		Tid       int64   `json:"tid,omitempty"`
		Hash      string  `json:"hash,omitempty"`
	}{
		Timestamp: t.Timestamp().Format(time.RFC3339Nano),
		Coin:      t.Coin,
		Side:      t.SideFormatted(),
		Price:     t.Price.Float64(),
		Size:      t.Size.Float64(),
		Value:     t.Value(),
	}
	if f.verbose {
		rec.Tid = t.Tid
		rec.Hash = t.Hash
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return string(data)
}

// Price renders only the trade price, for the price-only mode.
func (f *Formatter) Price(t *models.Trade) string {
	return fmt.Sprintf("%g", t.Price.Float64())
}

// Status renders a lifecycle line. Only table and minimal formats show
// status lines; machine formats stay data-only.
func (f *Formatter) Status(line string) string {
	switch f.format {
	case "csv", "json":
		return ""
	default:
		return f.paint(colorCyan, line)
	}
}

// Warning renders an attention line, same visibility rules as Status.
func (f *Formatter) Warning(line string) string {
	switch f.format {
	case "csv", "json":
		return ""
	default:
		return f.paint(colorYellow, line)
	}
}
