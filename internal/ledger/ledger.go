// Package ledger persists settled trades and answers the windowed aggregate
// queries the risk gate is built on. Two backends share one contract: an
// embedded sqlite file for single-host deployments and postgres for shared
// ones.
package ledger

import (
	"context"

	"tradeagent/internal/schema"
)

// Ledger is the append-only trade log. Aggregates take a fromTS lower bound
// in unix milliseconds; rows older than the bound never influence a result.
type Ledger interface {
	// Append stores one settled trade.
	Append(ctx context.Context, trade schema.Trade) error
	// MaxDrawdown returns the largest relative decline of the cumulative
	// PnL curve from its running peak, over trades at or after fromTS.
	MaxDrawdown(ctx context.Context, fromTS int64) (float64, error)
	// LossStreakLength returns the length of the unbroken run of losing
	// trades ending at the most recent trade at or after fromTS.
	LossStreakLength(ctx context.Context, fromTS int64) (int, error)
	// LastRecordTS returns the newest trade's timestamp, zero when empty.
	LastRecordTS(ctx context.Context) (int64, error)
	// TotalPnL sums realized PnL over trades at or after fromTS.
	TotalPnL(ctx context.Context, fromTS int64) (float64, error)
	Close() error
}
