package market

import (
	"fmt"
	"sort"
	"time"
)

// Series is an ordered (date, value) sequence for one instrument. Dates are
// strictly increasing with no duplicates.
type Series struct {
	Dates  []time.Time `json:"dates"`
	Values []float64   `json:"values"`
}

// NewSeries builds a validated series from parallel date/value slices.
func NewSeries(dates []time.Time, values []float64) (*Series, error) {
	if len(dates) != len(values) {
		return nil, fmt.Errorf("series: %d dates but %d values", len(dates), len(values))
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i-1].Before(dates[i]) {
			return nil, fmt.Errorf("series: dates not strictly increasing at index %d (%s)", i, dates[i].Format("2006-01-02"))
		}
	}
	return &Series{Dates: dates, Values: values}, nil
}

// Len returns the number of observations.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Values)
}

// At returns the observation at index i.
func (s *Series) At(i int) (time.Time, float64) {
	return s.Dates[i], s.Values[i]
}

// Last returns the most recent observation.
func (s *Series) Last() (time.Time, float64, bool) {
	if s.Len() == 0 {
		return time.Time{}, 0, false
	}
	i := s.Len() - 1
	return s.Dates[i], s.Values[i], true
}

// Through returns the prefix of observations dated on or before t.
func (s *Series) Through(t time.Time) *Series {
	n := sort.Search(s.Len(), func(i int) bool {
		return s.Dates[i].After(t)
	})
	return &Series{Dates: s.Dates[:n], Values: s.Values[:n]}
}

// Tail returns the trailing n observations, or the whole series when fewer
// exist.
func (s *Series) Tail(n int) *Series {
	if n >= s.Len() {
		return s
	}
	start := s.Len() - n
	return &Series{Dates: s.Dates[start:], Values: s.Values[start:]}
}

// Returns derives the simple daily return series. The result has one fewer
// observation, dated at the later day of each pair.
func (s *Series) Returns() *Series {
	if s.Len() < 2 {
		return &Series{}
	}
	dates := make([]time.Time, 0, s.Len()-1)
	values := make([]float64, 0, s.Len()-1)
	for i := 1; i < s.Len(); i++ {
		prev := s.Values[i-1]
		if prev == 0 {
			continue
		}
		dates = append(dates, s.Dates[i])
		values = append(values, s.Values[i]/prev-1)
	}
	return &Series{Dates: dates, Values: values}
}

// InnerJoin aligns two series on their common dates, preserving order.
// Rolling statistics over pairs of series must be computed on the joined
// views, never positionally.
func InnerJoin(a, b *Series) (*Series, *Series) {
	if a.Len() == 0 || b.Len() == 0 {
		return &Series{}, &Series{}
	}

	bIndex := make(map[time.Time]int, b.Len())
	for i, d := range b.Dates {
		bIndex[d] = i
	}

	dates := make([]time.Time, 0, min(a.Len(), b.Len()))
	av := make([]float64, 0, cap(dates))
	bv := make([]float64, 0, cap(dates))
	for i, d := range a.Dates {
		if j, ok := bIndex[d]; ok {
			dates = append(dates, d)
			av = append(av, a.Values[i])
			bv = append(bv, b.Values[j])
		}
	}

	return &Series{Dates: dates, Values: av}, &Series{Dates: dates, Values: bv}
}
