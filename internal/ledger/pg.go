package ledger

import (
	"context"

	"tradeagent/internal/schema"
	"tradeagent/pkg/conn"
	"tradeagent/pkg/exception"
)

// Postgres is the shared backend, used when several supervisors report into
// one ledger.
type Postgres struct {
	client *conn.Client
}

// NewPostgres connects and migrates the trades table.
func NewPostgres(opt conn.Option) (*Postgres, error) {
	client, err := conn.New(opt)
	if err != nil {
		return nil, err
	}
	l := &Postgres{client: client}
	if err := l.migrate(context.Background()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return l, nil
}

func (l *Postgres) migrate(ctx context.Context) error {
	return l.client.DB().WithContext(ctx).Exec(`
CREATE TABLE IF NOT EXISTS trades (
  id BIGSERIAL PRIMARY KEY,
  ts BIGINT NOT NULL,
  market SMALLINT NOT NULL,
  ticker TEXT NOT NULL,
  value DOUBLE PRECISION NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  side SMALLINT NOT NULL,
  fee DOUBLE PRECISION NOT NULL,
  pnl DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
`).Error
}

func (l *Postgres) Append(ctx context.Context, t schema.Trade) error {
	if l == nil {
		return exception.ErrNilInstance
	}
	return l.client.DB().WithContext(ctx).Exec(`
		INSERT INTO trades(ts, market, ticker, value, price, side, fee, pnl)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.TS, t.Market, t.Ticker, t.Value, t.Price, t.Side, t.Fee, t.PnL).Error
}

func (l *Postgres) MaxDrawdown(ctx context.Context, fromTS int64) (float64, error) {
	var dd float64
	err := l.client.DB().WithContext(ctx).Raw(`
		WITH curve AS (
		  SELECT id, SUM(pnl) OVER (ORDER BY ts, id) AS equity
		  FROM trades WHERE ts >= $1
		),
		peaks AS (
		  SELECT equity, MAX(equity) OVER (ORDER BY id) AS peak FROM curve
		)
		SELECT COALESCE(MAX(CASE WHEN peak > 0 THEN (peak - equity) / peak ELSE 0 END), 0)
		FROM peaks
	`, fromTS).Scan(&dd).Error
	return dd, err
}

func (l *Postgres) LossStreakLength(ctx context.Context, fromTS int64) (int, error) {
	var n int
	err := l.client.DB().WithContext(ctx).Raw(`
		SELECT COUNT(*) FROM trades
		WHERE ts >= $1
		  AND id > COALESCE((SELECT MAX(id) FROM trades WHERE ts >= $1 AND pnl >= 0), 0)
	`, fromTS).Scan(&n).Error
	return n, err
}

func (l *Postgres) LastRecordTS(ctx context.Context) (int64, error) {
	var ts int64
	err := l.client.DB().WithContext(ctx).Raw(`SELECT COALESCE(MAX(ts), 0) FROM trades`).Scan(&ts).Error
	return ts, err
}

func (l *Postgres) TotalPnL(ctx context.Context, fromTS int64) (float64, error) {
	var sum float64
	err := l.client.DB().WithContext(ctx).Raw(`SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE ts >= $1`, fromTS).Scan(&sum).Error
	return sum, err
}

func (l *Postgres) Close() error { return l.client.Close() }

var _ Ledger = (*Postgres)(nil)
