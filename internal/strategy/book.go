// Package strategy holds the worker's trading brain: the position book the
// worker reconciles from fill reports and the decision engine that turns
// composite analyzer signals into order requests.
package strategy

import (
	"sync"

	"tradeagent/internal/schema"
)

// PositionBook tracks the worker's open positions, keyed by market and
// ticker. It is fed the initial snapshot during the account phase and then
// kept current by applying fill reports.
type PositionBook struct {
	mu        sync.Mutex
	positions []schema.Position
}

// NewPositionBook returns an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{}
}

// SetPositions replaces the book contents with a snapshot.
func (b *PositionBook) SetPositions(positions []schema.Position) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = append(b.positions[:0], positions...)
}

// Find returns the open position for a market and ticker, if any.
func (b *PositionBook) Find(market schema.Market, ticker string) (schema.Position, bool) {
	if b == nil {
		return schema.Position{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := b.index(market, ticker); i >= 0 {
		return b.positions[i], true
	}
	return schema.Position{}, false
}

// Positions returns a copy of all open positions.
func (b *PositionBook) Positions() []schema.Position {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schema.Position, len(b.positions))
	copy(out, b.positions)
	return out
}

// ApplyFill folds one executed fill into the book and returns the realized
// profit it produced. Fees always count against the result. A fill against
// an existing position realizes price movement on the closed portion; a fill
// that flips the sign closes the old position and opens the residual at the
// fill price.
func (b *PositionBook) ApplyFill(f schema.Fill) float64 {
	if b == nil || f.Status != schema.FillStatusExecuted {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pnl := -f.Fee
	i := b.index(f.Market, f.Ticker)
	if i < 0 {
		b.positions = append(b.positions, schema.Position{
			Market:      f.Market,
			Ticker:      f.Ticker,
			Value:       f.Value,
			BaseValue:   f.BaseValue,
			OpenPrice:   f.Price,
			RealizedPnL: pnl,
			CreatedTS:   f.TS,
		})
		return pnl
	}

	pos := b.positions[i]
	if schema.OppositeSign(f.Value, pos.Value) {
		// closing trade: a short fill against a long position gains when
		// price rose above the open, hence the negated fill value
		pnl += -f.Value * (f.Price - pos.OpenPrice)
	}

	newValue := pos.Value + f.Value
	switch {
	case newValue == 0:
		b.positions = append(b.positions[:i], b.positions[i+1:]...)
	case schema.OppositeSign(newValue, pos.Value):
		// flipped through zero: the overshoot opens a fresh position seeded
		// with what the closing leg realized
		b.positions[i] = schema.Position{
			Market:      f.Market,
			Ticker:      f.Ticker,
			Value:       newValue,
			BaseValue:   newValue * f.Price,
			OpenPrice:   f.Price,
			RealizedPnL: pnl,
			CreatedTS:   f.TS,
		}
	default:
		pos.Value = newValue
		pos.BaseValue += f.BaseValue
		pos.RealizedPnL += pnl
		b.positions[i] = pos
	}
	return pnl
}

// index is called with the lock held.
func (b *PositionBook) index(market schema.Market, ticker string) int {
	for i, p := range b.positions {
		if p.Market == market && p.Ticker == ticker {
			return i
		}
	}
	return -1
}
