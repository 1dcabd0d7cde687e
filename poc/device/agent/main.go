package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/margo/wiotp-client/poc/device/agent/types"
	"github.com/margo/wiotp-client/sdk/logging"
)

func main() {
	configPath := flag.String(
		"config",
		"poc/device/agent/config/config.yaml",
		"Path to the YAML configuration file for the device agent",
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nManaged device agent\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := types.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	agent, err := NewAgent(cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to create agent", "error", err)
	}

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Start(ctx); err != nil {
		logger.Errorw("Failed to start agent", "error", err)
		stopAgent(agent)
		os.Exit(1)
	}

	<-ctx.Done()
	stopAgent(agent)
}

func stopAgent(agent *Agent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	agent.Stop(ctx)
}
