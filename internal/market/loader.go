package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"quantbt/internal/config"
	"quantbt/internal/errors"
	"quantbt/internal/logger"
)

const dateLayout = "2006-01-02"

// Loader reads instrument metadata and daily bar files from the data
// directory. One file per instrument, plus the benchmark index file.
type Loader struct {
	cfg config.DataConfig
	log logger.Logger
}

// NewLoader creates a loader for the configured data directory.
func NewLoader(cfg config.DataConfig) *Loader {
	return &Loader{
		cfg: cfg,
		log: logger.WithField("module", "market"),
	}
}

// Load reads the instruments file, every instrument's bar series, and the
// benchmark series. A broken instrument file excludes that instrument and is
// logged; a broken benchmark aborts the load.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	instruments, err := l.loadInstruments()
	if err != nil {
		return nil, err
	}

	dataset := &Dataset{
		Instruments: instruments,
		Bars:        make(map[string]Bars, len(instruments)),
		Excluded:    make(map[string]string),
	}

	// 基准指数损坏时整体失败
	benchmark, err := l.loadBars(l.cfg.Benchmark)
	if err != nil {
		return nil, errors.NewBenchmarkError(fmt.Sprintf("failed to load benchmark %s", l.cfg.Benchmark), err)
	}
	if err := benchmark.Validate(l.cfg.Benchmark); err != nil {
		return nil, errors.NewBenchmarkError("benchmark series is invalid", err)
	}
	dataset.Benchmark = benchmark

	for symbol := range instruments {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		bars, err := l.loadBars(symbol)
		if err != nil {
			// 单个标的损坏只做剔除
			dataset.Excluded[symbol] = err.Error()
			l.log.Warn("Excluding instrument: failed to load bars", "symbol", symbol, "error", err)
			continue
		}
		if err := bars.Validate(symbol); err != nil {
			dataset.Excluded[symbol] = err.Error()
			l.log.Warn("Excluding instrument: invalid bar series", "symbol", symbol, "error", err)
			continue
		}
		dataset.Bars[symbol] = bars
	}

	if len(dataset.Bars) == 0 {
		return nil, errors.NewDataError("", "no instruments could be loaded")
	}

	l.log.Info("Dataset loaded",
		"instruments", len(dataset.Bars),
		"excluded", len(dataset.Excluded),
		"benchmark", l.cfg.Benchmark,
		"calendar_days", len(dataset.Benchmark),
	)

	return dataset, nil
}

// loadInstruments reads the instruments metadata CSV:
// symbol,name,sector,listing_date,pe,roe,profit_growth
func (l *Loader) loadInstruments() (map[string]*Instrument, error) {
	f, err := os.Open(l.cfg.InstrumentsFile)
	if err != nil {
		return nil, errors.NewConfigurationError(fmt.Sprintf("cannot open instruments file: %v", err))
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.NewConfigurationError(fmt.Sprintf("cannot read instruments header: %v", err))
	}
	col := columnIndex(header)

	instruments := make(map[string]*Instrument)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewConfigurationError(fmt.Sprintf("instruments file line %d: %v", line, err))
		}

		symbol := field(record, col, "symbol")
		if symbol == "" {
			continue
		}

		inst := &Instrument{
			Symbol: symbol,
			Name:   field(record, col, "name"),
			Sector: field(record, col, "sector"),
		}
		if raw := field(record, col, "listing_date"); raw != "" {
			d, err := time.Parse(dateLayout, raw)
			if err != nil {
				return nil, errors.NewConfigurationError(fmt.Sprintf("instruments file line %d: bad listing_date %q", line, raw))
			}
			inst.ListingDate = d
		}
		inst.PE = parseFloat(field(record, col, "pe"))
		inst.ROE = parseFloat(field(record, col, "roe"))
		inst.ProfitGrowth = parseFloat(field(record, col, "profit_growth"))
		inst.DebtRatio = parseFloat(field(record, col, "debt_ratio"))

		instruments[symbol] = inst
	}

	if len(instruments) == 0 {
		return nil, errors.NewConfigurationError("instruments file contains no instruments")
	}

	return instruments, nil
}

// loadBars reads one symbol's daily bars in the configured format.
func (l *Loader) loadBars(symbol string) (Bars, error) {
	switch l.cfg.Format {
	case "parquet":
		return l.loadParquetBars(symbol)
	default:
		return l.loadCSVBars(symbol)
	}
}

// loadCSVBars parses <dir>/<symbol>.csv with columns
// date,open,high,low,close,volume[,turnover].
func (l *Loader) loadCSVBars(symbol string) (Bars, error) {
	path := filepath.Join(l.cfg.Dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := columnIndex(header)

	var bars Bars
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := time.Parse(dateLayout, field(record, col, "date"))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad date %q", line, field(record, col, "date"))
		}

		bar := Bar{
			Date:     date,
			Open:     parseFloat(field(record, col, "open")),
			High:     parseFloat(field(record, col, "high")),
			Low:      parseFloat(field(record, col, "low")),
			Close:    parseFloat(field(record, col, "close")),
			Volume:   parseFloat(field(record, col, "volume")),
			Turnover: parseFloat(field(record, col, "turnover")),
		}
		if bar.Turnover == 0 {
			bar.Turnover = bar.Close * bar.Volume
		}
		bars = append(bars, bar)
	}

	return bars, nil
}

// BarRecord is the Parquet on-disk schema for daily bars.
type BarRecord struct {
	Date     int64   `parquet:"date,timestamp(millisecond)"` // Unix ms
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	Volume   float64 `parquet:"volume"`
	Turnover float64 `parquet:"turnover"`
}

// loadParquetBars reads <dir>/<symbol>.parquet.
func (l *Loader) loadParquetBars(symbol string) (Bars, error) {
	path := filepath.Join(l.cfg.Dir, symbol+".parquet")
	records, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		return nil, err
	}

	bars := make(Bars, 0, len(records))
	for _, r := range records {
		bar := Bar{
			Date:     time.UnixMilli(r.Date).UTC(),
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			Volume:   r.Volume,
			Turnover: r.Turnover,
		}
		if bar.Turnover == 0 {
			bar.Turnover = bar.Close * bar.Volume
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// WriteParquetBars writes a bar series to <dir>/<symbol>.parquet. Used by
// data preparation tooling and tests.
func WriteParquetBars(dir, symbol string, bars Bars) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = BarRecord{
			Date:     b.Date.UnixMilli(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
			Turnover: b.Turnover,
		}
	}
	return parquet.WriteFile(filepath.Join(dir, symbol+".parquet"), records)
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return col
}

func field(record []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
