package market

import (
	"sort"
	"time"
)

// Dataset holds the aligned inputs for one backtest run: per-instrument bar
// series, instrument metadata, and the benchmark index series whose dates
// define the trading calendar.
type Dataset struct {
	Instruments map[string]*Instrument `json:"instruments"`
	Bars        map[string]Bars        `json:"bars"`
	Benchmark   Bars                   `json:"benchmark"`
	Excluded    map[string]string      `json:"excluded"` // symbol -> load-time exclusion reason
}

// Symbols returns the loaded instrument symbols in deterministic order.
func (d *Dataset) Symbols() []string {
	symbols := make([]string, 0, len(d.Bars))
	for symbol := range d.Bars {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Calendar returns the trading dates of the benchmark series. The backtest
// loop iterates these dates.
func (d *Dataset) Calendar() []time.Time {
	dates := make([]time.Time, len(d.Benchmark))
	for i, b := range d.Benchmark {
		dates[i] = b.Date
	}
	return dates
}

// CalendarBetween returns benchmark trading dates within [start, end].
// Zero bounds are open-ended.
func (d *Dataset) CalendarBetween(start, end time.Time) []time.Time {
	var dates []time.Time
	for _, b := range d.Benchmark {
		if !start.IsZero() && b.Date.Before(start) {
			continue
		}
		if !end.IsZero() && b.Date.After(end) {
			break
		}
		dates = append(dates, b.Date)
	}
	return dates
}

// Instrument returns metadata for a symbol, if known.
func (d *Dataset) Instrument(symbol string) (*Instrument, bool) {
	inst, ok := d.Instruments[symbol]
	return inst, ok
}

// Sector returns the sector of a symbol, or "" when unknown.
func (d *Dataset) Sector(symbol string) string {
	if inst, ok := d.Instruments[symbol]; ok {
		return inst.Sector
	}
	return ""
}

// BarsThrough returns the symbol's bars with dates on or before t. The
// returned slice shares backing storage and must be treated as read-only.
func (d *Dataset) BarsThrough(symbol string, t time.Time) Bars {
	return d.Bars[symbol].Through(t)
}

// BenchmarkThrough returns benchmark bars with dates on or before t.
func (d *Dataset) BenchmarkThrough(t time.Time) Bars {
	return d.Benchmark.Through(t)
}

// CloseOn returns the symbol's close price on exactly date t.
func (d *Dataset) CloseOn(symbol string, t time.Time) (float64, bool) {
	bars := d.Bars[symbol]
	i := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Date.Before(t)
	})
	if i < len(bars) && bars[i].Date.Equal(t) {
		return bars[i].Close, true
	}
	return 0, false
}

// BarOn returns the symbol's bar on exactly date t.
func (d *Dataset) BarOn(symbol string, t time.Time) (Bar, bool) {
	bars := d.Bars[symbol]
	i := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Date.Before(t)
	})
	if i < len(bars) && bars[i].Date.Equal(t) {
		return bars[i], true
	}
	return Bar{}, false
}
