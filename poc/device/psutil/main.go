// Command psutil publishes system utilization as device events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/device"
	"github.com/margo/wiotp-client/sdk/logging"
	"github.com/margo/wiotp-client/sdk/utils"
)

const (
	eventID           = "psutil"
	setIntervalCmd    = "setInterval"
	quickstartTypeID  = "iotpsutil"
	quickstartPort    = "1883"
	defaultInterval   = 10 * time.Second
	minInterval       = time.Second
	quickstartViewURL = "https://quickstart.internetofthings.ibmcloud.com/#/device/%s/sensor/"
)

type options struct {
	configPath string
	useEnv     bool
	quickstart bool
	interval   time.Duration
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Path to the client configuration file")
	flag.BoolVar(&o.useEnv, "useEnv", false, "Read the client configuration from WIOTP_ environment variables")
	flag.BoolVar(&o.quickstart, "quickstart", false, "Connect to the quickstart sandbox with a generated device id")
	flag.DurationVar(&o.interval, "interval", defaultInterval, "Publish interval")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [--config <file> | --useEnv | --quickstart]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nPublishes cpu, memory, network and disk utilization\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	return o
}

func checkOptions(o options) error {
	if o.interval < minInterval {
		return fmt.Errorf("--interval must be at least %s, got %s", minInterval, o.interval)
	}
	return nil
}

func clientConfig(o options) (*config.Config, error) {
	switch {
	case o.quickstart:
		cfg := config.New()
		for name, value := range map[string]string{
			"identity.orgId":    config.QuickstartOrgID,
			"identity.typeId":   quickstartTypeID,
			"identity.deviceId": utils.GenerateDeviceID(),
			"options.mqtt.port": quickstartPort,
		} {
			if err := cfg.SetProperty(name, value); err != nil {
				return nil, err
			}
		}
		return cfg, nil
	case o.useEnv:
		cfg := config.New()
		if err := cfg.ReadEnvironment(); err != nil {
			return nil, err
		}
		return cfg, nil
	case o.configPath != "":
		return config.Load(o.configPath)
	}
	return nil, fmt.Errorf("one of --config, --useEnv or --quickstart is required")
}

var validate = validator.New()

// intervalCommand is the setInterval command payload.
type intervalCommand struct {
	Interval int `json:"interval" validate:"gte=1"`
}

func main() {
	o := parseFlags()
	if err := checkOptions(o); err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	cfg, err := clientConfig(o)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Options.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	dev, err := device.New(cfg, client.WithLogger(logger))
	if err != nil {
		logger.Fatalw("Failed to create device client", "error", err)
	}
	defer dev.Destroy()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dev.Connect(ctx); err != nil {
		logger.Fatalw("Failed to connect", "broker", dev.BrokerURL(), "error", err)
	}
	if cfg.IsQuickstart() {
		logger.Infow("View the live data of this device", "url", fmt.Sprintf(quickstartViewURL, cfg.Identity.DeviceID))
	}

	var interval atomic.Int64
	interval.Store(int64(o.interval))
	if !cfg.IsQuickstart() {
		err := dev.HandleCommand(ctx, func(msg client.Message) {
			onSetInterval(logger, &interval, msg)
		}, setIntervalCmd, "json")
		if err != nil {
			logger.Warnw("Failed to subscribe to commands", "command", setIntervalCmd, "error", err)
		}
	}

	hostname, _ := os.Hostname()
	run(ctx, logger, dev, NewCollector(hostname), &interval)

	if err := dev.Disconnect(); err != nil {
		logger.Warnw("Failed to disconnect", "error", err)
	}
}

type eventSender interface {
	SendEvent(ctx context.Context, eventID string, data []byte, format string, qos client.QoS) error
}

func run(ctx context.Context, logger *zap.SugaredLogger, sender eventSender, collector *Collector, interval *atomic.Int64) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Publish loop stopped")
			return
		case <-timer.C:
			if err := publish(ctx, sender, collector); err != nil {
				logger.Warnw("Failed to publish psutil event", "error", err)
			}
			timer.Reset(time.Duration(interval.Load()))
		}
	}
}

func publish(ctx context.Context, sender eventSender, collector *Collector) error {
	ev, err := collector.Sample(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return sender.SendEvent(ctx, eventID, data, "json", client.QoS0)
}

func onSetInterval(logger *zap.SugaredLogger, interval *atomic.Int64, msg client.Message) {
	var cmd intervalCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		logger.Warnw("Ignoring malformed command", "command", msg.Name, "error", err)
		return
	}
	if err := validate.Struct(cmd); err != nil {
		logger.Warnw("Ignoring invalid command", "command", msg.Name, "error", err)
		return
	}
	d := time.Duration(cmd.Interval) * time.Second
	interval.Store(int64(d))
	logger.Infow("Publish interval changed", "interval", d)
}
