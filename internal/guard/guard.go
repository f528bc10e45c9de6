// Package guard implements the trading circuit breaker: a cached allowance
// recomputed from windowed ledger statistics after every settled fill.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradeagent/internal/ledger"
	"tradeagent/pkg/exception"
)

// Limits configure the breaker. A zero Window means "all history".
type Limits struct {
	// MaxDrawdownLimit trips the gate when the windowed relative drawdown
	// reaches or exceeds it. Zero disables the check.
	MaxDrawdownLimit float64 `yaml:"max_drawdown_limit"`
	// LossStreakLimit trips the gate at this many consecutive losses.
	// Zero disables the check.
	LossStreakLimit int `yaml:"loss_streak_limit"`
	// Window is the trailing period the statistics are computed over.
	Window time.Duration `yaml:"window"`
}

type state struct {
	maxDrawdown float64
	lossStreak  int
	allowed     bool
	reason      string
}

// MoneyGuard gates order dispatch. Allowed and DisallowanceReason are pure
// reads of cached state; only Refresh touches the ledger.
type MoneyGuard struct {
	limits Limits
	ledger ledger.Ledger

	mu sync.RWMutex
	st state
}

// New builds a guard that allows trading until the first Refresh says
// otherwise.
func New(limits Limits, l ledger.Ledger) (*MoneyGuard, error) {
	if l == nil {
		return nil, exception.ErrInvalidArgument
	}
	return &MoneyGuard{
		limits: limits,
		ledger: l,
		st:     state{allowed: true},
	}, nil
}

// Allowed reports whether trading is currently permitted. Never blocks.
func (g *MoneyGuard) Allowed() bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.st.allowed
}

// DisallowanceReason returns the operator-facing reason when the gate is
// closed, empty otherwise.
func (g *MoneyGuard) DisallowanceReason() string {
	if g == nil {
		return "guard not constructed"
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.st.reason
}

// Refresh requeries the ledger and replaces the cached allowance. Called
// after every settled fill is appended.
func (g *MoneyGuard) Refresh(ctx context.Context) error {
	if g == nil {
		return exception.ErrNilInstance
	}
	fromTS := int64(0)
	if g.limits.Window > 0 {
		fromTS = time.Now().Add(-g.limits.Window).UnixMilli()
	}

	dd, err := g.ledger.MaxDrawdown(ctx, fromTS)
	if err != nil {
		return err
	}
	streak, err := g.ledger.LossStreakLength(ctx, fromTS)
	if err != nil {
		return err
	}

	next := state{maxDrawdown: dd, lossStreak: streak, allowed: true}
	switch {
	case g.limits.MaxDrawdownLimit > 0 && dd >= g.limits.MaxDrawdownLimit:
		next.allowed = false
		next.reason = fmt.Sprintf("max drawdown %.4f reached limit %.4f", dd, g.limits.MaxDrawdownLimit)
	case g.limits.LossStreakLimit > 0 && streak >= g.limits.LossStreakLimit:
		next.allowed = false
		next.reason = fmt.Sprintf("loss streak %d reached limit %d", streak, g.limits.LossStreakLimit)
	}

	g.mu.Lock()
	g.st = next
	g.mu.Unlock()
	return nil
}

// Snapshot returns the cached metrics for diagnostics.
func (g *MoneyGuard) Snapshot() (maxDrawdown float64, lossStreak int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.st.maxDrawdown, g.st.lossStreak
}
