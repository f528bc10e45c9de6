package main

import (
	"flag"
	"log"
	"os"
	"time"

	"tradeagent/internal/analyzer"
	"tradeagent/internal/config"
	"tradeagent/internal/control"
	"tradeagent/internal/schema"
	"tradeagent/internal/worker"
)

const (
	dialAttempts = 20
	dialBackoff  = 250 * time.Millisecond
)

func main() {
	if err := run(); err != nil {
		log.Printf("worker: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the yaml config")
	socketPath := flag.String("socket", "", "control socket path (default: derived from config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	socket := *socketPath
	if socket == "" {
		socket = cfg.Agent.SocketPath
	}

	analyzers, err := analyzer.BuildAll(cfg.Analyzers)
	if err != nil {
		return err
	}

	// the supervisor listens before spawning us, but give a slow host some
	// slack anyway
	conn, err := control.Dial(socket, dialAttempts, dialBackoff)
	if err != nil {
		return err
	}

	rt, err := worker.NewRuntime(worker.Config{
		AgentID:  schema.GenAgentID(cfg.Agent.Name),
		Strategy: cfg.Strategy,
	}, control.NewChannel(conn), analyzers)
	if err != nil {
		return err
	}
	return rt.Run()
}
