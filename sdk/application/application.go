// Package application implements the application client. Applications see
// the whole organization: they send events and commands for any device and
// subscribe to device traffic and connection status.
package application

import (
	"context"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/rc"
)

const wildcard = "+"

type Application struct {
	*client.Client
}

func New(cfg *config.Config, opts ...client.Option) (*Application, error) {
	return newApplication(cfg, config.Application, opts...)
}

// NewScalable creates an application that shares its subscriptions with
// every other instance using the same app id.
func NewScalable(cfg *config.Config, opts ...client.Option) (*Application, error) {
	return newApplication(cfg, config.ScalableApplication, opts...)
}

func newApplication(cfg *config.Config, clientType config.ClientType, opts ...client.Option) (*Application, error) {
	c, err := client.New(cfg, clientType, opts...)
	if err != nil {
		return nil, err
	}
	return &Application{Client: c}, nil
}

func orAny(ids ...string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id
		if id == "" {
			out[i] = wildcard
		}
	}
	return out
}

func nullArgs(op rc.Operation) error {
	return rc.Errorf(rc.ComponentApplication, op, rc.ArgsNullValue, "type id, device id, name and format are required")
}

// SendEvent publishes an event as if it came from the given device.
func (a *Application) SendEvent(ctx context.Context, typeID, deviceID, eventID string, data []byte, format string, qos client.QoS) error {
	if typeID == "" || deviceID == "" || eventID == "" || format == "" {
		return nullArgs(rc.OperationPublish)
	}
	return a.Publish(ctx, client.DeviceEventTopic(typeID, deviceID, eventID, format), data, qos)
}

// SendCommand sends a command to a device.
func (a *Application) SendCommand(ctx context.Context, typeID, deviceID, commandID string, data []byte, format string, qos client.QoS) error {
	if typeID == "" || deviceID == "" || commandID == "" || format == "" {
		return nullArgs(rc.OperationPublish)
	}
	if a.Config().IsQuickstart() {
		return rc.Errorf(rc.ComponentApplication, rc.OperationPublish, rc.QuickstartNotSupported,
			"commands cannot be sent in quickstart")
	}
	return a.Publish(ctx, client.DeviceCommandTopic(typeID, deviceID, commandID, format), data, qos)
}

func eventFilter(typeID, deviceID, eventID, format string) string {
	p := orAny(typeID, deviceID, eventID, format)
	return client.DeviceEventTopic(p[0], p[1], p[2], p[3])
}

func commandFilter(typeID, deviceID, commandID, format string) string {
	p := orAny(typeID, deviceID, commandID, format)
	return client.DeviceCommandTopic(p[0], p[1], p[2], p[3])
}

func monitorFilter(typeID, deviceID string) string {
	p := orAny(typeID, deviceID)
	return client.MonitorTopic(p[0], p[1])
}

func appMonitorFilter(appID string) string {
	return client.AppMonitorTopic(orAny(appID)[0])
}

// SetEventHandler registers h for device events matching the arguments.
// Empty arguments match anything.
func (a *Application) SetEventHandler(h client.CallbackHandler, typeID, deviceID, eventID, format string) error {
	return a.SetHandler(client.KindEvent, eventFilter(typeID, deviceID, eventID, format), h)
}

func (a *Application) SubscribeToEvents(ctx context.Context, typeID, deviceID, eventID, format string) error {
	return a.Subscribe(ctx, eventFilter(typeID, deviceID, eventID, format), client.QoS0)
}

func (a *Application) UnsubscribeFromEvents(ctx context.Context, typeID, deviceID, eventID, format string) error {
	return a.Unsubscribe(ctx, eventFilter(typeID, deviceID, eventID, format))
}

// SetCommandHandler registers h for commands sent to devices, as seen by
// the application.
func (a *Application) SetCommandHandler(h client.CallbackHandler, typeID, deviceID, commandID, format string) error {
	return a.SetHandler(client.KindCommand, commandFilter(typeID, deviceID, commandID, format), h)
}

func (a *Application) SubscribeToCommands(ctx context.Context, typeID, deviceID, commandID, format string) error {
	return a.Subscribe(ctx, commandFilter(typeID, deviceID, commandID, format), client.QoS0)
}

func (a *Application) UnsubscribeFromCommands(ctx context.Context, typeID, deviceID, commandID, format string) error {
	return a.Unsubscribe(ctx, commandFilter(typeID, deviceID, commandID, format))
}

// SetDeviceMonitoringHandler registers h for device connection status
// messages.
func (a *Application) SetDeviceMonitoringHandler(h client.CallbackHandler, typeID, deviceID string) error {
	return a.SetHandler(client.KindDeviceMonitoring, monitorFilter(typeID, deviceID), h)
}

func (a *Application) SubscribeToDeviceMonitoringMessages(ctx context.Context, typeID, deviceID string) error {
	return a.Subscribe(ctx, monitorFilter(typeID, deviceID), client.QoS0)
}

func (a *Application) UnsubscribeFromDeviceMonitoringMessages(ctx context.Context, typeID, deviceID string) error {
	return a.Unsubscribe(ctx, monitorFilter(typeID, deviceID))
}

// SetAppMonitoringHandler registers h for application connection status
// messages.
func (a *Application) SetAppMonitoringHandler(h client.CallbackHandler, appID string) error {
	return a.SetHandler(client.KindAppMonitoring, appMonitorFilter(appID), h)
}

func (a *Application) SubscribeToAppMonitoringMessages(ctx context.Context, appID string) error {
	return a.Subscribe(ctx, appMonitorFilter(appID), client.QoS0)
}

func (a *Application) UnsubscribeFromAppMonitoringMessages(ctx context.Context, appID string) error {
	return a.Unsubscribe(ctx, appMonitorFilter(appID))
}
