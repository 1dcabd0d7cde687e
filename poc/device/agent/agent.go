package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kr/pretty"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/poc/device/agent/database"
	"github.com/margo/wiotp-client/poc/device/agent/types"
	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/dm"
	"github.com/margo/wiotp-client/sdk/utils"
	"github.com/margo/wiotp-client/shared-lib/pointers"
)

const agentName = "margo-device-agent"

// 1. Device registration with device management (manage)
// 2. Device actions: reboot, factory reset, firmware download and update
// 3. Action status reporting
// 4. Health events and diagnostics
type Agent struct {
	log            *zap.SugaredLogger
	config         types.Config
	device         *dm.ManagedDevice
	database       database.DatabaseIfc
	onboarding     OnboardingManager
	executor       *ActionExecutor
	statusReporter StatusReporterIfc
	monitor        HealthMonitorIfc
	monitoring     bool
}

func NewAgent(cfg *types.Config, log *zap.SugaredLogger, opts ...client.Option) (*Agent, error) {
	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}

	opts = append([]client.Option{client.WithLogger(log)}, opts...)
	device, err := dm.NewManagedDevice(clientCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create managed device: %w", err)
	}

	db := database.NewDatabase(cfg.DataDir, log)
	if err := device.SetAttributes(restoredAttributes(cfg, db)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set device attributes: %w", err)
	}

	downloader := dm.NewFirmwareDownloader(device.Manager, filepath.Join(cfg.FirmwareDir, "downloads"), dm.FirmwareOptions{
		Progress: func(downloaded, total int64) {
			log.Debugw("Firmware download progress", "downloaded", downloaded, "total", total)
		},
	})

	a := &Agent{
		log:            log,
		config:         *cfg,
		device:         device,
		database:       db,
		onboarding:     NewOnboardingManager(device, log),
		statusReporter: NewStatusReporter(db, device, log),
		monitor:        NewHealthMonitor(device, db, cfg.EventInterval, cfg.Health, log),
	}
	a.executor = NewActionExecutor(db, downloader, device.Attributes, filepath.Join(cfg.FirmwareDir, "installed"), log)
	a.executor.restart = a.restart
	a.executor.reset = a.factoryReset
	return a, nil
}

// factoryAttributes are the attributes the device reports out of the box.
func factoryAttributes(cfg *types.Config) dm.Attributes {
	return dm.Attributes{
		Lifetime:        cfg.Lifetime,
		DeviceActions:   true,
		FirmwareActions: true,
		DeviceInfo:      cfg.DeviceInfo.ToDM(),
		Metadata:        map[string]interface{}{"agent": agentName},
	}
}

// restoredAttributes adds the firmware installed by an earlier run.
func restoredAttributes(cfg *types.Config, db database.DatabaseIfc) dm.Attributes {
	attrs := factoryAttributes(cfg)
	fw := db.GetFirmware()
	installedAt := pointers.DerefOr(fw.InstalledAt, time.Time{})
	if fw.Version != "" && !installedAt.IsZero() {
		attrs.DeviceInfo.FwVersion = fw.Version
		attrs.Firmware.Version = fw.Version
		attrs.Firmware.UpdatedDateTime = installedAt.UTC().Format(time.RFC3339)
	}
	return attrs
}

func (a *Agent) Start(ctx context.Context) error {
	a.log.Info("Starting Agent")

	for _, t := range []dm.ActionType{dm.ActionReboot, dm.ActionFactoryReset, dm.ActionFirmwareDownload, dm.ActionFirmwareUpdate} {
		if err := a.device.SetActionHandler(t, a.executor.Accept); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", t, err)
		}
	}
	if err := a.device.SetActionHandler(dm.ActionUpdate, a.onAttributesUpdated); err != nil {
		return fmt.Errorf("failed to register update handler: %w", err)
	}

	a.statusReporter.Start()
	a.executor.Start()

	if err := a.device.ConnectWithRetry(ctx); err != nil {
		return types.ManageError(types.OperationConnecting, err, true)
	}
	if err := a.onboarding.KeepTryingManageIfFailed(ctx); err != nil {
		return err
	}

	a.monitor.Start()
	a.monitoring = true

	attrs := a.device.Attributes()
	image, err := installedImage(a.database)
	if err != nil {
		image = "none"
	}
	a.log.Infow("Agent started successfully",
		"clientId", a.device.ClientID(),
		"fwVersion", attrs.DeviceInfo.FwVersion,
		"installedImage", image,
		"lifetime", attrs.Lifetime,
		"eventInterval", a.config.EventInterval,
		"cpuThreshold", a.config.Health.CPUPercent,
		"memoryThreshold", a.config.Health.MemoryPercent,
	)
	return nil
}

// Stop unmanages the device and disconnects.
func (a *Agent) Stop(ctx context.Context) error {
	a.log.Info("Stopping Agent")

	if a.monitoring {
		a.monitor.Stop()
		a.monitoring = false
	}
	a.executor.Stop()
	a.statusReporter.Stop()

	if a.device.IsConnected() {
		if err := a.onboarding.Unmanage(ctx); err != nil {
			a.log.Warnw("Failed to unmanage the device", "error", err)
		}
	}
	if err := a.device.Destroy(); err != nil {
		a.log.Warnw("Failed to release the client", "error", err)
	}
	a.database.Close()

	a.log.Info("Agent stopped")
	return nil
}

func (a *Agent) onAttributesUpdated(act dm.Action) {
	a.log.Infow("Device attributes updated by the platform", "reqId", act.ReqID, "fields", pretty.Sprint(act.Fields))
}

// restart simulates a reboot by dropping the session and managing the
// device again.
func (a *Agent) restart(ctx context.Context) error {
	if err := a.device.Disconnect(); err != nil {
		return err
	}
	if err := a.device.ConnectWithRetry(ctx); err != nil {
		return err
	}
	return a.onboarding.KeepTryingManageIfFailed(ctx)
}

func (a *Agent) factoryReset(ctx context.Context, reqID string) error {
	a.database.Reset()
	if err := os.RemoveAll(a.config.FirmwareDir); err != nil {
		return fmt.Errorf("failed to remove firmware images: %w", err)
	}
	if err := a.device.SetAttributes(factoryAttributes(&a.config)); err != nil {
		return err
	}
	if err := a.device.ClearErrorCodes(ctx, utils.GenerateReqID()); err != nil {
		return err
	}
	if err := a.device.ClearLog(ctx, utils.GenerateReqID()); err != nil {
		return err
	}
	a.log.Infow("Factory reset complete", "reqId", reqID)
	return nil
}
