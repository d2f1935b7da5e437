package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbt/internal/config"
	"quantbt/internal/errors"
	"quantbt/internal/testutils"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewSeriesValidation(t *testing.T) {
	_, err := NewSeries(
		[]time.Time{d("2024-01-02"), d("2024-01-03")},
		[]float64{1.0},
	)
	assert.Error(t, err, "mismatched lengths must be rejected")

	_, err = NewSeries(
		[]time.Time{d("2024-01-03"), d("2024-01-02")},
		[]float64{1.0, 2.0},
	)
	assert.Error(t, err, "decreasing dates must be rejected")

	_, err = NewSeries(
		[]time.Time{d("2024-01-02"), d("2024-01-02")},
		[]float64{1.0, 2.0},
	)
	assert.Error(t, err, "duplicate dates must be rejected")

	s, err := NewSeries(
		[]time.Time{d("2024-01-02"), d("2024-01-03")},
		[]float64{1.0, 2.0},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestSeriesReturns(t *testing.T) {
	s := &Series{
		Dates:  []time.Time{d("2024-01-02"), d("2024-01-03"), d("2024-01-04")},
		Values: []float64{100, 110, 99},
	}

	r := s.Returns()
	require.Equal(t, 2, r.Len())
	assert.InDelta(t, 0.10, r.Values[0], 1e-12)
	assert.InDelta(t, -0.10, r.Values[1], 1e-12)
	assert.Equal(t, d("2024-01-03"), r.Dates[0], "return is dated at the later day")
}

func TestSeriesThrough(t *testing.T) {
	s := &Series{
		Dates:  []time.Time{d("2024-01-02"), d("2024-01-03"), d("2024-01-04")},
		Values: []float64{1, 2, 3},
	}

	prefix := s.Through(d("2024-01-03"))
	require.Equal(t, 2, prefix.Len())
	_, last, ok := prefix.Last()
	require.True(t, ok)
	assert.Equal(t, 2.0, last)

	empty := s.Through(d("2023-12-29"))
	assert.Equal(t, 0, empty.Len())
}

func TestInnerJoin(t *testing.T) {
	a := &Series{
		Dates:  []time.Time{d("2024-01-02"), d("2024-01-03"), d("2024-01-05")},
		Values: []float64{1, 2, 3},
	}
	b := &Series{
		Dates:  []time.Time{d("2024-01-03"), d("2024-01-04"), d("2024-01-05")},
		Values: []float64{30, 40, 50},
	}

	ja, jb := InnerJoin(a, b)
	require.Equal(t, 2, ja.Len())
	assert.Equal(t, []float64{2, 3}, ja.Values)
	assert.Equal(t, []float64{30, 50}, jb.Values)
	assert.Equal(t, ja.Dates, jb.Dates)
}

func TestBarsValidate(t *testing.T) {
	ok := Bars{
		{Date: d("2024-01-02"), Open: 10, High: 11, Low: 9, Close: 10.5},
		{Date: d("2024-01-03"), Open: 10.5, High: 12, Low: 10, Close: 11},
	}
	assert.NoError(t, ok.Validate("600000"))

	outOfOrder := Bars{
		{Date: d("2024-01-03"), Open: 10, High: 11, Low: 9, Close: 10.5},
		{Date: d("2024-01-02"), Open: 10.5, High: 12, Low: 10, Close: 11},
	}
	assert.Error(t, outOfOrder.Validate("600000"))

	badPrice := Bars{
		{Date: d("2024-01-02"), Open: 10, High: 11, Low: 9, Close: -1},
	}
	assert.Error(t, badPrice.Validate("600000"))
}

func TestBarsThrough(t *testing.T) {
	bars := Bars{
		{Date: d("2024-01-02"), Close: 1, High: 1, Low: 1},
		{Date: d("2024-01-03"), Close: 2, High: 2, Low: 2},
		{Date: d("2024-01-04"), Close: 3, High: 3, Low: 3},
	}

	prefix := bars.Through(d("2024-01-03"))
	require.Len(t, prefix, 2)
	last, ok := prefix.Last()
	require.True(t, ok)
	assert.Equal(t, 2.0, last.Close)
}

func writeBarCSV(suite *testutils.TestSuite, symbol string, rows string) {
	content := "date,open,high,low,close,volume,turnover\n" + rows
	suite.CreateTempFile(symbol+".csv", content)
}

func TestLoaderCSV(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	instruments := `symbol,name,sector,listing_date,pe,roe,profit_growth,debt_ratio
600000,PuFa Bank,Financials,2010-01-04,8.5,0.11,0.05,0.62
600519,Moutai,Consumer,2012-06-01,32.0,0.28,0.15,0.20
600999,Broken,Industrials,2015-03-02,15.0,0.09,0.02,0.55
`
	instrumentsPath := suite.CreateTempFile("instruments.csv", instruments)

	writeBarCSV(suite, "600000", `2024-01-02,10,10.5,9.8,10.2,1000000,10200000
2024-01-03,10.2,10.8,10.1,10.6,1200000,12720000
`)
	writeBarCSV(suite, "600519", `2024-01-02,1700,1725,1690,1710,300000,513000000
2024-01-03,1710,1740,1705,1735,280000,485800000
`)
	// 600999 has a corrupt file: dates out of order
	writeBarCSV(suite, "600999", `2024-01-03,5,5.2,4.9,5.1,100,510
2024-01-02,5.1,5.3,5.0,5.2,120,624
`)
	writeBarCSV(suite, "000300", `2024-01-02,3500,3520,3480,3510,0,0
2024-01-03,3510,3550,3500,3540,0,0
`)

	loader := NewLoader(config.DataConfig{
		Dir:             suite.TempDir,
		Format:          "csv",
		InstrumentsFile: instrumentsPath,
		Benchmark:       "000300",
	})

	dataset, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"600000", "600519"}, dataset.Symbols())
	assert.Contains(t, dataset.Excluded, "600999", "corrupt instrument must be excluded, not fatal")
	assert.Len(t, dataset.Calendar(), 2)

	inst, ok := dataset.Instrument("600519")
	require.True(t, ok)
	assert.Equal(t, "Consumer", inst.Sector)
	assert.Equal(t, 32.0, inst.PE)

	px, ok := dataset.CloseOn("600000", d("2024-01-03"))
	require.True(t, ok)
	assert.Equal(t, 10.6, px)
}

func TestLoaderBenchmarkCorruptIsFatal(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	instruments := "symbol,name,sector,listing_date,pe,roe,profit_growth\n600000,PuFa Bank,Financials,2010-01-04,8.5,0.11,0.05\n"
	instrumentsPath := suite.CreateTempFile("instruments.csv", instruments)

	writeBarCSV(suite, "600000", "2024-01-02,10,10.5,9.8,10.2,1000000,10200000\n")
	// Benchmark file is missing entirely

	loader := NewLoader(config.DataConfig{
		Dir:             suite.TempDir,
		Format:          "csv",
		InstrumentsFile: instrumentsPath,
		Benchmark:       "000300",
	})

	_, err := loader.Load(context.Background())
	require.Error(t, err)

	appErr := errors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.True(t, appErr.IsFatal(), "benchmark corruption must be fatal")
}

func TestLoaderParquet(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	instruments := "symbol,name,sector,listing_date,pe,roe,profit_growth\n600000,PuFa Bank,Financials,2010-01-04,8.5,0.11,0.05\n"
	instrumentsPath := suite.CreateTempFile("instruments.csv", instruments)

	bars := Bars{
		{Date: d("2024-01-02"), Open: 10, High: 10.5, Low: 9.8, Close: 10.2, Volume: 1000000, Turnover: 10200000},
		{Date: d("2024-01-03"), Open: 10.2, High: 10.8, Low: 10.1, Close: 10.6, Volume: 1200000, Turnover: 12720000},
	}
	require.NoError(t, WriteParquetBars(suite.TempDir, "600000", bars))

	benchmark := Bars{
		{Date: d("2024-01-02"), Open: 3500, High: 3520, Low: 3480, Close: 3510},
		{Date: d("2024-01-03"), Open: 3510, High: 3550, Low: 3500, Close: 3540},
	}
	require.NoError(t, WriteParquetBars(suite.TempDir, "000300", benchmark))

	loader := NewLoader(config.DataConfig{
		Dir:             suite.TempDir,
		Format:          "parquet",
		InstrumentsFile: instrumentsPath,
		Benchmark:       "000300",
	})

	dataset, err := loader.Load(context.Background())
	require.NoError(t, err)

	loaded := dataset.Bars["600000"]
	require.Len(t, loaded, 2)
	assert.Equal(t, d("2024-01-02"), loaded[0].Date)
	assert.Equal(t, 10.6, loaded[1].Close)
}

func TestListingDays(t *testing.T) {
	inst := &Instrument{Symbol: "600000", ListingDate: d("2023-01-02")}

	assert.Equal(t, 366, inst.ListingDays(d("2024-01-03")))
	assert.Equal(t, 0, inst.ListingDays(d("2022-06-01")), "before listing")
}

func BenchmarkInnerJoin(b *testing.B) {
	n := 2000
	dates := make([]time.Time, n)
	values := make([]float64, n)
	base := d("2016-01-04")
	for i := 0; i < n; i++ {
		dates[i] = base.AddDate(0, 0, i)
		values[i] = float64(i)
	}
	a := &Series{Dates: dates, Values: values}
	c := &Series{Dates: dates[n/4:], Values: values[n/4:]}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		InnerJoin(a, c)
	}
}
