// Command agent runs a managed gateway with one attached device.
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

	"github.com/go-playground/validator/v10"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/dm"
	"github.com/margo/wiotp-client/sdk/logging"
)

const (
	defaultInterval = 15 * time.Second
	stopTimeout     = 30 * time.Second
)

var validate = validator.New()

func parseFlags(args []string) (Options, error) {
	fs := flag.NewFlagSet("gateway-agent", flag.ContinueOnError)
	o := Options{}
	fs.StringVar(&o.ConfigPath, "config", "poc/gateway/agent/config/gateway.yaml", "Path to the gateway client configuration file")
	fs.StringVar(&o.DeviceType, "deviceType", "sensor", "Type of the attached device")
	fs.StringVar(&o.DeviceID, "deviceId", "", "Id of the attached device")
	fs.DurationVar(&o.Interval, "interval", defaultInterval, "Interval between relayed device events")
	fs.StringVar(&o.LogLevel, "logLevel", "info", "Log level (error, warn, info, debug)")
	fs.IntVar(&o.Lifetime, "lifetime", 0, "Managed lifetime in seconds, 0 for no expiry")
	fs.StringVar(&o.SerialNumber, "serialNumber", "", "Serial number reported for the gateway")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if err := validate.Struct(o); err != nil {
		return o, fmt.Errorf("invalid options: %w", err)
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(opts.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	gw, err := dm.NewManagedGateway(cfg, client.WithLogger(logger))
	if err != nil {
		logger.Fatalw("Failed to create gateway client", "error", err)
	}
	agent := NewGatewayAgent(gw, opts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Start(ctx); err != nil {
		logger.Errorw("Failed to start gateway agent", "error", err)
		stopAgent(agent)
		os.Exit(1)
	}

	agent.Run(ctx)
	stopAgent(agent)
}

func stopAgent(agent *GatewayAgent) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	agent.Stop(ctx)
}
