package ledger

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"tradeagent/internal/schema"
)

// Sqlite is the embedded single-file backend. One connection keeps writes
// serialized, which is all the trading path needs.
type Sqlite struct {
	db *sql.DB
}

// NewSqlite opens or creates the ledger file and migrates the schema.
func NewSqlite(path string) (*Sqlite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	l := &Sqlite{db: db}
	if err := l.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Sqlite) migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS trades (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts INTEGER NOT NULL,
  market INTEGER NOT NULL,
  ticker TEXT NOT NULL,
  value REAL NOT NULL,
  price REAL NOT NULL,
  side INTEGER NOT NULL,
  fee REAL NOT NULL,
  pnl REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
`)
	return err
}

func (l *Sqlite) Append(ctx context.Context, t schema.Trade) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO trades(ts, market, ticker, value, price, side, fee, pnl)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TS, t.Market, t.Ticker, t.Value, t.Price, t.Side, t.Fee, t.PnL)
	return err
}

func (l *Sqlite) MaxDrawdown(ctx context.Context, fromTS int64) (float64, error) {
	var dd float64
	err := l.db.QueryRowContext(ctx, `
		WITH curve AS (
		  SELECT id, SUM(pnl) OVER (ORDER BY ts, id) AS equity
		  FROM trades WHERE ts >= ?
		),
		peaks AS (
		  SELECT equity, MAX(equity) OVER (ORDER BY id) AS peak FROM curve
		)
		SELECT COALESCE(MAX(CASE WHEN peak > 0 THEN (peak - equity) / peak ELSE 0 END), 0)
		FROM peaks
	`, fromTS).Scan(&dd)
	return dd, err
}

func (l *Sqlite) LossStreakLength(ctx context.Context, fromTS int64) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE ts >= ?1
		  AND id > COALESCE((SELECT MAX(id) FROM trades WHERE ts >= ?1 AND pnl >= 0), 0)
	`, fromTS).Scan(&n)
	return n, err
}

func (l *Sqlite) LastRecordTS(ctx context.Context) (int64, error) {
	var ts int64
	err := l.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(ts), 0) FROM trades`).Scan(&ts)
	return ts, err
}

func (l *Sqlite) TotalPnL(ctx context.Context, fromTS int64) (float64, error) {
	var sum float64
	err := l.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE ts >= ?`, fromTS).Scan(&sum)
	return sum, err
}

func (l *Sqlite) Close() error { return l.db.Close() }

var _ Ledger = (*Sqlite)(nil)
