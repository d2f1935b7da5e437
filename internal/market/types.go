package market

import (
	"fmt"
	"sort"
	"time"
)

// Bar represents one daily OHLCV record for an instrument
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Turnover float64   `json:"turnover"` // 成交额
}

// Bars is a date-ordered daily bar series
type Bars []Bar

// Instrument represents instrument metadata and fundamental fields
type Instrument struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	Sector       string    `json:"sector"`
	ListingDate  time.Time `json:"listing_date"`
	PE           float64   `json:"pe"`
	ROE          float64   `json:"roe"`
	ProfitGrowth float64   `json:"profit_growth"`
	DebtRatio    float64   `json:"debt_ratio"`
}

// ListingDays returns the instrument's listing age in calendar days at t.
func (i *Instrument) ListingDays(t time.Time) int {
	if i.ListingDate.IsZero() || t.Before(i.ListingDate) {
		return 0
	}
	return int(t.Sub(i.ListingDate).Hours() / 24)
}

// Validate checks bar ordering and price sanity. Dates must be strictly
// increasing with no duplicates.
func (bs Bars) Validate(symbol string) error {
	for i, b := range bs {
		if b.Close <= 0 || b.High <= 0 || b.Low <= 0 {
			return fmt.Errorf("instrument %s: non-positive price at %s", symbol, b.Date.Format("2006-01-02"))
		}
		if b.High < b.Low {
			return fmt.Errorf("instrument %s: high below low at %s", symbol, b.Date.Format("2006-01-02"))
		}
		if i > 0 && !bs[i-1].Date.Before(b.Date) {
			return fmt.Errorf("instrument %s: dates not strictly increasing at %s", symbol, b.Date.Format("2006-01-02"))
		}
	}
	return nil
}

// Through returns the prefix of bars with dates on or before t.
func (bs Bars) Through(t time.Time) Bars {
	n := sort.Search(len(bs), func(i int) bool {
		return bs[i].Date.After(t)
	})
	return bs[:n]
}

// Tail returns the last n bars, or all bars when fewer exist.
func (bs Bars) Tail(n int) Bars {
	if n >= len(bs) {
		return bs
	}
	return bs[len(bs)-n:]
}

// Last returns the most recent bar.
func (bs Bars) Last() (Bar, bool) {
	if len(bs) == 0 {
		return Bar{}, false
	}
	return bs[len(bs)-1], true
}

// CloseSeries extracts the close price series.
func (bs Bars) CloseSeries() *Series {
	return barSeries(bs, func(b Bar) float64 { return b.Close })
}

// HighSeries extracts the high price series.
func (bs Bars) HighSeries() *Series {
	return barSeries(bs, func(b Bar) float64 { return b.High })
}

// LowSeries extracts the low price series.
func (bs Bars) LowSeries() *Series {
	return barSeries(bs, func(b Bar) float64 { return b.Low })
}

// VolumeSeries extracts the volume series.
func (bs Bars) VolumeSeries() *Series {
	return barSeries(bs, func(b Bar) float64 { return b.Volume })
}

// TurnoverSeries extracts the turnover series.
func (bs Bars) TurnoverSeries() *Series {
	return barSeries(bs, func(b Bar) float64 { return b.Turnover })
}

func barSeries(bs Bars, extract func(Bar) float64) *Series {
	dates := make([]time.Time, len(bs))
	values := make([]float64, len(bs))
	for i, b := range bs {
		dates[i] = b.Date
		values[i] = extract(b)
	}
	return &Series{Dates: dates, Values: values}
}
