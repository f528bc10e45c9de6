package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeagent/internal/schema"
)

const sampleConfig = `
agent:
  name: btc-spot-1
  binary: ./bin/tradeagent-worker
  warmup_duration: 12h
  stop_grace: 5s
market: spot
symbol: BTCUSDT
strategy:
  signal_threshold: 2
  trade_size_limit: 500
  allow_complex: true
  position_size_limit: 2000
  stop_loss_pct: 0.02
analyzers:
  - kind: sma_cross
    timeframe: 5
    fast_period: 7
    slow_period: 25
  - kind: momentum
    timeframe: 15
    lookback: 12
    threshold: 0.01
guard:
  max_drawdown_limit: 0.2
  loss_streak_limit: 4
  window: 168h
ledger:
  backend: sqlite
  path: /var/lib/tradeagent/trades.db
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSample(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "btc-spot-1", cfg.Agent.Name)
	assert.Equal(t, time.Duration(cfg.Agent.WarmupDuration), 12*time.Hour)
	assert.Equal(t, time.Duration(cfg.Agent.StopGrace), 5*time.Second)
	assert.Equal(t, schema.MarketSpot, cfg.SchemaMarket())
	assert.Len(t, cfg.Analyzers, 2)
	assert.Equal(t, 4, cfg.Guard.LossStreakLimit)
	assert.Equal(t, 7*24*time.Hour, cfg.Guard.Limits().Window)
	assert.Equal(t, "/var/lib/tradeagent/trades.db", cfg.Ledger.Path)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
agent:
  name: x
market: future
symbol: ETHUSDT
strategy:
  signal_threshold: 1
  trade_size_limit: 100
analyzers:
  - kind: momentum
    timeframe: 5
    lookback: 3
    threshold: 0.01
`))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.NotEmpty(t, cfg.Ledger.Path)
	assert.Equal(t, "/tmp/tradeagent-x.sock", cfg.Agent.SocketPath)
	assert.Equal(t, schema.MarketFuture, cfg.SchemaMarket())
	assert.Positive(t, time.Duration(cfg.Agent.StopGrace))
}

func TestLoadRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown field":       sampleConfig + "\nmystery: 1\n",
		"missing name":        "market: spot\nsymbol: BTCUSDT\n",
		"bad market":          "agent: {name: x}\nmarket: sideways\nsymbol: B\n",
		"no analyzers":        "agent: {name: x}\nmarket: spot\nsymbol: B\nstrategy: {signal_threshold: 1, trade_size_limit: 1}\n",
		"bad analyzer":        "agent: {name: x}\nmarket: spot\nsymbol: B\nstrategy: {signal_threshold: 1, trade_size_limit: 1}\nanalyzers: [{kind: vibes, timeframe: 5}]\n",
		"bad duration":        "agent: {name: x, stop_grace: soon}\nmarket: spot\nsymbol: B\n",
		"bad ledger backend":  "agent: {name: x}\nmarket: spot\nsymbol: B\nstrategy: {signal_threshold: 1, trade_size_limit: 1}\nanalyzers: [{kind: momentum, timeframe: 5, lookback: 3, threshold: 0.01}]\nledger: {backend: papyrus}\n",
		"postgres incomplete": "agent: {name: x}\nmarket: spot\nsymbol: B\nstrategy: {signal_threshold: 1, trade_size_limit: 1}\nanalyzers: [{kind: momentum, timeframe: 5, lookback: 3, threshold: 0.01}]\nledger: {backend: postgres}\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}
