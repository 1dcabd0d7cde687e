package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/dm"
	"github.com/margo/wiotp-client/sdk/utils"
)

const (
	readingEvent = "reading"
	ackEvent     = "commandAck"
)

// Options are the gateway agent settings taken from the command line.
type Options struct {
	ConfigPath   string        `validate:"required,file"`
	DeviceType   string        `validate:"required"`
	DeviceID     string        `validate:"required"`
	Interval     time.Duration `validate:"gte=1s"`
	LogLevel     string        `validate:"oneof=error warn info debug"`
	Lifetime     int           `validate:"gte=0"`
	SerialNumber string
}

type deviceEventSender interface {
	SendDeviceEvent(ctx context.Context, typeID, deviceID, eventID string, data []byte, format string, qos client.QoS) error
}

type reading struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// GatewayAgent manages a gateway and one attached device and relays the
// device readings through the gateway.
type GatewayAgent struct {
	log     *zap.SugaredLogger
	opts    Options
	gateway *dm.ManagedGateway
	sender  deviceEventSender
	read    func(ctx context.Context) (reading, error)
}

func NewGatewayAgent(gw *dm.ManagedGateway, opts Options, log *zap.SugaredLogger) *GatewayAgent {
	return &GatewayAgent{
		log:     log,
		opts:    opts,
		gateway: gw,
		sender:  gw,
		read:    readLoad,
	}
}

func readLoad(ctx context.Context) (reading, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return reading{}, fmt.Errorf("failed to read load average: %w", err)
	}
	return reading{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}, nil
}

func (ga *GatewayAgent) Start(ctx context.Context) error {
	gw := ga.gateway

	if err := gw.SetAttributes(dm.Attributes{
		Lifetime:      ga.opts.Lifetime,
		DeviceActions: true,
		DeviceInfo:    dm.DeviceInfo{SerialNumber: ga.opts.SerialNumber, DeviceClass: "gateway"},
	}); err != nil {
		return err
	}
	if err := gw.SetActionHandler(dm.ActionReboot, ga.onReboot); err != nil {
		return err
	}
	if err := gw.SetCommandHandler(ga.onCommand); err != nil {
		return err
	}

	if err := gw.ConnectWithRetry(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := gw.Manage(ctx); err != nil {
		return fmt.Errorf("failed to manage the gateway: %w", err)
	}
	ga.log.Infow("Gateway is managed", "typeId", gw.TypeID(), "deviceId", gw.DeviceID())

	if err := gw.ManageDevice(ctx, ga.opts.DeviceType, ga.opts.DeviceID, dm.Attributes{
		Lifetime:      ga.opts.Lifetime,
		DeviceActions: true,
		DeviceInfo:    dm.DeviceInfo{DeviceClass: "sensor"},
	}); err != nil {
		return fmt.Errorf("failed to manage attached device: %w", err)
	}
	if err := gw.SubscribeToDeviceCommands(ctx, ga.opts.DeviceType, ga.opts.DeviceID, "+", "json"); err != nil {
		return fmt.Errorf("failed to subscribe to device commands: %w", err)
	}

	ga.log.Infow("Attached device is managed", "typeId", ga.opts.DeviceType, "deviceId", ga.opts.DeviceID)
	return nil
}

// Run relays a reading of the attached device every interval until ctx
// ends.
func (ga *GatewayAgent) Run(ctx context.Context) {
	ticker := time.NewTicker(ga.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ga.relay(ctx); err != nil {
				ga.log.Warnw("Failed to relay device event", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (ga *GatewayAgent) relay(ctx context.Context) error {
	r, err := ga.read(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(map[string]reading{"d": r})
	if err != nil {
		return err
	}
	return ga.sender.SendDeviceEvent(ctx, ga.opts.DeviceType, ga.opts.DeviceID, readingEvent, data, "json", client.QoS0)
}

// onCommand acknowledges a command with an event from the device it was
// addressed to.
func (ga *GatewayAgent) onCommand(msg client.Message) {
	ga.log.Infow("Command received", "typeId", msg.TypeID, "deviceId", msg.DeviceID, "command", msg.Name, "payload", string(msg.Payload))

	typeID, deviceID := msg.TypeID, msg.DeviceID
	if typeID == "" {
		typeID, deviceID = ga.gateway.TypeID(), ga.gateway.DeviceID()
	}
	data, err := json.Marshal(map[string]interface{}{
		"d": map[string]string{"command": msg.Name, "status": "received"},
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ga.sender.SendDeviceEvent(ctx, typeID, deviceID, ackEvent, data, "json", client.QoS0); err != nil {
		ga.log.Warnw("Failed to acknowledge command", "command", msg.Name, "error", err)
	}
}

// onReboot accepts reboot actions for the gateway and the attached device.
// The reboot itself is simulated.
func (ga *GatewayAgent) onReboot(a dm.Action) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Respond(ctx, dm.RCRebootInitiated, ""); err != nil {
		ga.log.Errorw("Failed to accept reboot", "typeId", a.TypeID, "deviceId", a.DeviceID, "error", err)
		return
	}
	ga.log.Infow("Reboot accepted", "reqId", a.ReqID, "typeId", a.TypeID, "deviceId", a.DeviceID)
}

// Stop unmanages the attached device and the gateway, then disconnects.
func (ga *GatewayAgent) Stop(ctx context.Context) {
	gw := ga.gateway
	if gw.IsConnected() {
		for _, key := range gw.ManagedDevices() {
			ga.log.Debugw("Unmanaging attached device", "device", key)
		}
		if err := gw.UnmanageDevice(ctx, ga.opts.DeviceType, ga.opts.DeviceID, utils.GenerateReqID()); err != nil {
			ga.log.Warnw("Failed to unmanage attached device", "error", err)
		}
		if gw.IsManaged() {
			if err := gw.Unmanage(ctx, utils.GenerateReqID()); err != nil {
				ga.log.Warnw("Failed to unmanage the gateway", "error", err)
			}
		}
	}
	if err := gw.Destroy(); err != nil {
		ga.log.Warnw("Failed to release the client", "error", err)
	}
}
