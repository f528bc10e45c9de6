// Package config loads and validates the service configuration from a yaml
// file shared by the supervisor and the worker binary.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"tradeagent/internal/analyzer"
	"tradeagent/internal/connector"
	"tradeagent/internal/guard"
	"tradeagent/internal/schema"
	"tradeagent/internal/strategy"
	"tradeagent/pkg/exception"
)

// Config is the root document.
type Config struct {
	// Agent names this worker; shared memory segments and the control
	// socket derive from it, so it must be unique per host.
	Agent AgentConfig `yaml:"agent"`

	Market    string            `yaml:"market"`
	Symbol    string            `yaml:"symbol"`
	Strategy  strategy.Config   `yaml:"strategy"`
	Analyzers []analyzer.Config `yaml:"analyzers"`
	Guard     GuardConfig       `yaml:"guard"`
	Ledger    LedgerConfig      `yaml:"ledger"`

	Bybit      connector.BybitConfig `yaml:"bybit"`
	BybitWSURL string                `yaml:"bybit_ws_url"`

	Telegram  TelegramConfig  `yaml:"telegram"`
	Profiling ProfilingConfig `yaml:"profiling"`

	// path remembers where the document was loaded from so the supervisor
	// can hand the same file to the worker binary.
	path string
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Duration parses yaml scalars like "90m" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// GuardConfig configures the risk circuit breaker.
type GuardConfig struct {
	MaxDrawdownLimit float64  `yaml:"max_drawdown_limit"`
	LossStreakLimit  int      `yaml:"loss_streak_limit"`
	Window           Duration `yaml:"window"`
}

// Limits converts to the guard package's form.
func (g GuardConfig) Limits() guard.Limits {
	return guard.Limits{
		MaxDrawdownLimit: g.MaxDrawdownLimit,
		LossStreakLimit:  g.LossStreakLimit,
		Window:           time.Duration(g.Window),
	}
}

// AgentConfig describes the worker process.
type AgentConfig struct {
	Name string `yaml:"name"`
	// Binary is the worker executable the supervisor spawns.
	Binary string `yaml:"binary"`
	// SocketPath carries the control channel; empty derives a path under
	// the default runtime directory.
	SocketPath string `yaml:"socket_path"`
	// WarmupDuration is how much history each timeframe replays.
	WarmupDuration Duration `yaml:"warmup_duration"`
	// StopGrace bounds each stage of the two-stage shutdown.
	StopGrace Duration `yaml:"stop_grace"`
}

// LedgerConfig selects the trade log backend.
type LedgerConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `yaml:"backend"`
	// Path is the sqlite file location.
	Path string `yaml:"path"`

	// postgres settings
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// TelegramConfig enables operator notifications when both fields are set.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// ProfilingConfig enables continuous profiling when an address is set.
type ProfilingConfig struct {
	ServerAddress string `yaml:"server_address"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.path = path
	return &cfg, nil
}

// Validate applies defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Agent.Name == "" {
		return fmt.Errorf("config: %w: agent.name required", exception.ErrInvalidArgument)
	}
	if c.Symbol == "" {
		return fmt.Errorf("config: %w: symbol required", exception.ErrInvalidArgument)
	}
	switch c.Market {
	case "spot", "future":
	default:
		return fmt.Errorf("config: %w: market must be spot or future, got %q", exception.ErrInvalidArgument, c.Market)
	}
	if len(c.Analyzers) == 0 {
		return fmt.Errorf("config: %w: at least one analyzer required", exception.ErrInvalidArgument)
	}
	if _, err := analyzer.BuildAll(c.Analyzers); err != nil {
		return err
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("config: strategy: %w", err)
	}

	switch c.Ledger.Backend {
	case "", "sqlite":
		c.Ledger.Backend = "sqlite"
		if c.Ledger.Path == "" {
			c.Ledger.Path = "data/trades.db"
		}
	case "postgres":
		if c.Ledger.Database == "" || c.Ledger.User == "" {
			return fmt.Errorf("config: %w: postgres ledger needs user and database", exception.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("config: %w: unknown ledger backend %q", exception.ErrInvalidArgument, c.Ledger.Backend)
	}

	if c.Agent.Binary == "" {
		c.Agent.Binary = "tradeagent-worker"
	}
	if c.Agent.SocketPath == "" {
		c.Agent.SocketPath = fmt.Sprintf("/tmp/tradeagent-%s.sock", c.Agent.Name)
	}
	if c.Agent.WarmupDuration <= 0 {
		c.Agent.WarmupDuration = Duration(24 * time.Hour)
	}
	if c.Agent.StopGrace <= 0 {
		c.Agent.StopGrace = Duration(10 * time.Second)
	}
	return nil
}

// SchemaMarket maps the configured market name onto the wire enum.
func (c *Config) SchemaMarket() schema.Market {
	if c.Market == "future" {
		return schema.MarketFuture
	}
	return schema.MarketSpot
}
