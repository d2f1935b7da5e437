package backtest

import (
	"sort"
	"time"

	"quantbt/internal/market"
)

const (
	// quantityEpsilon以下的剩余数量视为已清仓
	quantityEpsilon = 1e-9
	// cashEpsilon吸收满仓买入时的浮点残差
	cashEpsilon = 1e-6
)

// Position is one open holding with its cost basis and post-entry peak.
type Position struct {
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"` // 加仓时按数量加权的平均成本
	EntryDate  time.Time `json:"entry_date"`
	HighWater  float64   `json:"high_water"` // 入场后最高收盘价
	Sector     string    `json:"sector"`
}

// Portfolio tracks cash and open positions through a simulation. All
// mutation happens on the run's goroutine; the methods are not safe for
// concurrent use.
type Portfolio struct {
	cash      float64
	positions map[string]*Position
	marks     map[string]float64 // symbol -> 最近一次用于估值的收盘价
}

// NewPortfolio returns a portfolio holding only cash.
func NewPortfolio(initialCapital float64) *Portfolio {
	return &Portfolio{
		cash:      initialCapital,
		positions: make(map[string]*Position),
		marks:     make(map[string]float64),
	}
}

// Cash returns the uninvested balance.
func (p *Portfolio) Cash() float64 {
	return p.cash
}

// NumPositions returns the count of open positions.
func (p *Portfolio) NumPositions() int {
	return len(p.positions)
}

// Symbols returns held symbols in deterministic order.
func (p *Portfolio) Symbols() []string {
	symbols := make([]string, 0, len(p.positions))
	for symbol := range p.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Position returns the open position for a symbol, if any.
func (p *Portfolio) Position(symbol string) (*Position, bool) {
	pos, ok := p.positions[symbol]
	return pos, ok
}

// LastClose returns the close the symbol was last marked at.
func (p *Portfolio) LastClose(symbol string) (float64, bool) {
	mark, ok := p.marks[symbol]
	return mark, ok
}

// Mark revalues every position at the date-t close and advances each
// position's high-water mark. Halted instruments (no bar at t) keep their
// previous mark. Returns the total positions value.
func (p *Portfolio) Mark(ds *market.Dataset, t time.Time) float64 {
	total := 0.0
	for _, symbol := range p.Symbols() {
		pos := p.positions[symbol]
		if close, ok := ds.CloseOn(symbol, t); ok {
			p.marks[symbol] = close
			if close > pos.HighWater {
				pos.HighWater = close
			}
		}
		total += pos.Quantity * p.marks[symbol]
	}
	return total
}

// PositionsValue returns the marked value of all positions.
func (p *Portfolio) PositionsValue() float64 {
	total := 0.0
	for _, symbol := range p.Symbols() {
		total += p.positions[symbol].Quantity * p.marks[symbol]
	}
	return total
}

// Equity returns cash plus marked positions value.
func (p *Portfolio) Equity() float64 {
	return p.cash + p.PositionsValue()
}

// Weights returns each position's fraction of current equity.
func (p *Portfolio) Weights() map[string]float64 {
	equity := p.Equity()
	weights := make(map[string]float64, len(p.positions))
	if equity <= 0 {
		return weights
	}
	for _, symbol := range p.Symbols() {
		weights[symbol] = p.positions[symbol].Quantity * p.marks[symbol] / equity
	}
	return weights
}

// Buy debits cash and opens or tops up a position. Top-ups blend the
// entry price by quantity so realized pnl later compares against average
// cost. The debit already includes commission and slippage.
func (p *Portfolio) Buy(symbol, sector string, t time.Time, qty, price, debit float64) {
	p.cash -= debit
	if p.cash < 0 && p.cash > -cashEpsilon {
		p.cash = 0
	}
	pos, ok := p.positions[symbol]
	if !ok {
		p.positions[symbol] = &Position{
			Symbol:     symbol,
			Quantity:   qty,
			EntryPrice: price,
			EntryDate:  t,
			HighWater:  price,
			Sector:     sector,
		}
		p.marks[symbol] = price
		return
	}
	pos.EntryPrice = (pos.EntryPrice*pos.Quantity + price*qty) / (pos.Quantity + qty)
	pos.Quantity += qty
	p.marks[symbol] = price
}

// Sell credits the net proceeds and reduces or removes the position.
// Returns the realized pnl against average cost and its fraction of the
// cost basis.
func (p *Portfolio) Sell(symbol string, qty, credit float64) (pnl, pnlPct float64) {
	pos, ok := p.positions[symbol]
	if !ok {
		return 0, 0
	}
	if qty > pos.Quantity {
		qty = pos.Quantity
	}
	p.cash += credit
	basis := qty * pos.EntryPrice
	pnl = credit - basis
	if basis > 0 {
		pnlPct = pnl / basis
	}
	pos.Quantity -= qty
	if pos.Quantity <= quantityEpsilon {
		delete(p.positions, symbol)
		delete(p.marks, symbol)
	}
	return pnl, pnlPct
}
