package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"tradeagent/internal/config"
	"tradeagent/internal/connector"
	"tradeagent/internal/ledger"
	"tradeagent/internal/notify"
	"tradeagent/internal/supervisor"
	"tradeagent/pkg/conn"
)

func main() {
	if err := run(); err != nil {
		log.Printf("tradeagent: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the yaml config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if cfg.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tradeagent." + cfg.Agent.Name,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	led, err := openLedger(cfg)
	if err != nil {
		return err
	}

	notifier := notify.NewDispatcher(buildTransport(cfg), 64)

	svc, err := supervisor.New(cfg,
		connector.NewBybit(cfg.Bybit),
		connector.NewBybitStream(cfg.BybitWSURL),
		led,
		notifier,
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}

func openLedger(cfg *config.Config) (ledger.Ledger, error) {
	if cfg.Ledger.Backend == "postgres" {
		return ledger.NewPostgres(conn.Option{
			Host:     cfg.Ledger.Host,
			Port:     cfg.Ledger.Port,
			User:     cfg.Ledger.User,
			Password: cfg.Ledger.Password,
			Database: cfg.Ledger.Database,
		})
	}
	return ledger.NewSqlite(cfg.Ledger.Path)
}

// buildTransport picks telegram when both credentials are present, falling
// back to log output so notices are never silently lost.
func buildTransport(cfg *config.Config) notify.Transport {
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		t, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err == nil {
			return t
		}
		logs.Errorf("telegram transport unavailable: %s", err)
	}
	return notify.Stdout{}
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
