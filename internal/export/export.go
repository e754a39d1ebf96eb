// internal/export/export.go
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
)

// Format is the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json" in any case; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Options narrows the exported trades. Zero values disable a filter.
type Options struct {
	Format Format
	Since  time.Time
	Until  time.Time
	Token  string
	// OnlyWins keeps CLOSED_PROFIT trades only.
	OnlyWins bool
}

type Summary struct {
	Trades      int             `json:"trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	TotalProfit decimal.Decimal `json:"totalProfit"`
	AvgHold     string          `json:"avgHold"`
}

// Exporter writes closed trades as CSV or JSON.
type Exporter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{logger: logger.Named("export"), now: time.Now}
}

// Write encodes the trades matching opts to w and returns how many were
// written.
func (e *Exporter) Write(w io.Writer, trades []monitor.Trade, opts Options) (int, error) {
	filtered := Filter(trades, opts)
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ClosedAt.Before(filtered[j].ClosedAt)
	})

	var err error
	switch opts.Format {
	case FormatCSV:
		err = writeCSV(w, filtered)
	case FormatJSON, "":
		err = e.writeJSON(w, filtered)
	default:
		err = fmt.Errorf("unsupported format: %s", opts.Format)
	}
	if err != nil {
		return 0, err
	}

	e.logger.Debug("Trades exported",
		zap.Int("count", len(filtered)),
		zap.String("format", string(opts.Format)))
	return len(filtered), nil
}

// Filename suggests a download name for an export taken at t.
func Filename(f Format, t time.Time) string {
	return fmt.Sprintf("trades_%s.%s", t.Format("20060102_150405"), f)
}

func Filter(trades []monitor.Trade, opts Options) []monitor.Trade {
	out := make([]monitor.Trade, 0, len(trades))
	for _, t := range trades {
		if !opts.Since.IsZero() && t.ClosedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && t.ClosedAt.After(opts.Until) {
			continue
		}
		if opts.Token != "" && t.Token != opts.Token {
			continue
		}
		if opts.OnlyWins && !t.Win() {
			continue
		}
		out = append(out, t)
	}
	return out
}

func Summarize(trades []monitor.Trade) Summary {
	s := Summary{Trades: len(trades), TotalProfit: decimal.Zero}
	var held time.Duration
	for _, t := range trades {
		if t.Win() {
			s.Wins++
			s.TotalProfit = s.TotalProfit.Add(t.Profit)
		} else {
			s.Losses++
		}
		held += t.ClosedAt.Sub(t.EntryTime)
	}
	if len(trades) > 0 {
		s.AvgHold = (held / time.Duration(len(trades))).Round(time.Second).String()
	}
	return s
}

func writeCSV(w io.Writer, trades []monitor.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(monitor.CSVHeader()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, t := range trades {
		if err := cw.Write(t.ToCSV()); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (e *Exporter) writeJSON(w io.Writer, trades []monitor.Trade) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	data := struct {
		ExportTime time.Time       `json:"exportTime"`
		TradeCount int             `json:"tradeCount"`
		Trades     []monitor.Trade `json:"trades"`
		Summary    Summary         `json:"summary"`
	}{
		ExportTime: e.now(),
		TradeCount: len(trades),
		Trades:     trades,
		Summary:    Summarize(trades),
	}
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
