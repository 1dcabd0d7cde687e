// Command monitor watches the devices of an organization and serves what it
// sees as Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/application"
	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/logging"
	"github.com/margo/wiotp-client/sdk/metrics"
)

var validate = validator.New()

type options struct {
	configPath string
	useEnv     bool
	listen     string
	typeID     string
	command    string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Path to the application configuration file")
	flag.BoolVar(&o.useEnv, "useEnv", false, "Read the configuration from WIOTP_ environment variables")
	flag.StringVar(&o.listen, "listen", ":9090", "Address serving /metrics")
	flag.StringVar(&o.typeID, "typeId", "", "Only watch devices of this type")
	flag.StringVar(&o.command, "command", "", "Send a command once connected, as type/id/command[=json payload]")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [--config <file> | --useEnv] [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nDevice traffic monitor\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	return o
}

func clientConfig(o options) (*config.Config, error) {
	if o.useEnv {
		cfg := config.New()
		if err := cfg.ReadEnvironment(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if o.configPath == "" {
		return nil, errors.New("one of --config or --useEnv is required")
	}
	return config.Load(o.configPath)
}

func main() {
	o := parseFlags()

	cfg, err := clientConfig(o)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	var cmd *commandSpec
	if o.command != "" {
		spec, err := parseCommand(o.command)
		if err != nil {
			log.Fatal(err)
		}
		cmd = &spec
	}

	logger, err := logging.New(cfg.Options.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	clientMetrics, err := metrics.NewClientMetrics(reg, "wiotp")
	if err != nil {
		logger.Fatalw("Failed to register client metrics", "error", err)
	}
	monitor, err := NewMonitor(reg, logger)
	if err != nil {
		logger.Fatalw("Failed to register monitor metrics", "error", err)
	}

	app, err := application.New(cfg, client.WithLogger(logger), client.WithMetrics(clientMetrics))
	if err != nil {
		logger.Fatalw("Failed to create application client", "error", err)
	}
	defer app.Destroy()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.ConnectWithRetry(ctx); err != nil {
		logger.Fatalw("Failed to connect", "broker", app.BrokerURL(), "error", err)
	}
	if err := watch(ctx, app, monitor, o.typeID); err != nil {
		logger.Fatalw("Failed to subscribe", "error", err)
	}
	if cmd != nil {
		if err := sendCommand(ctx, app, *cmd); err != nil {
			logger.Errorw("Failed to send command", "command", cmd.CommandID, "error", err)
		} else {
			logger.Infow("Command sent", "typeId", cmd.TypeID, "deviceId", cmd.DeviceID, "command", cmd.CommandID)
		}
	}

	serve(ctx, logger, o.listen, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	if err := app.Disconnect(); err != nil {
		logger.Warnw("Failed to disconnect", "error", err)
	}
}

// watch subscribes the monitor to the events and connection status of
// every device of typeID, or of all devices when typeID is empty.
func watch(ctx context.Context, app *application.Application, m *Monitor, typeID string) error {
	if err := app.SetEventHandler(m.OnEvent, typeID, "", "", ""); err != nil {
		return err
	}
	if err := app.SubscribeToEvents(ctx, typeID, "", "", ""); err != nil {
		return err
	}
	if err := app.SetDeviceMonitoringHandler(m.OnDeviceStatus, typeID, ""); err != nil {
		return err
	}
	return app.SubscribeToDeviceMonitoringMessages(ctx, typeID, "")
}

func serve(ctx context.Context, logger *zap.SugaredLogger, addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("Failed to stop metrics server", "error", err)
		}
	}()

	logger.Infow("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("Metrics server failed", "error", err)
	}
}
