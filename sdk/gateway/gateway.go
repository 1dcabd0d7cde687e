// Package gateway implements the gateway client. A gateway publishes and
// subscribes for itself and on behalf of the devices attached to it.
package gateway

import (
	"context"
	"strings"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/rc"
)

type Gateway struct {
	*client.Client
}

func New(cfg *config.Config, opts ...client.Option) (*Gateway, error) {
	c, err := client.New(cfg, config.Gateway, opts...)
	if err != nil {
		return nil, err
	}
	return &Gateway{Client: c}, nil
}

// Wrap builds a Gateway around an existing client core.
func Wrap(c *client.Client) *Gateway {
	return &Gateway{Client: c}
}

func (g *Gateway) TypeID() string   { return g.Config().Identity.TypeID }
func (g *Gateway) DeviceID() string { return g.Config().Identity.DeviceID }

func nullArgs(op rc.Operation, what string) error {
	return rc.Errorf(rc.ComponentGateway, op, rc.ArgsNullValue, "%s required", what)
}

// SendEvent publishes an event of the gateway itself.
func (g *Gateway) SendEvent(ctx context.Context, eventID string, data []byte, format string, qos client.QoS) error {
	return g.SendDeviceEvent(ctx, g.TypeID(), g.DeviceID(), eventID, data, format, qos)
}

// SendDeviceEvent publishes an event on behalf of an attached device.
func (g *Gateway) SendDeviceEvent(ctx context.Context, typeID, deviceID, eventID string, data []byte, format string, qos client.QoS) error {
	if typeID == "" || deviceID == "" {
		return nullArgs(rc.OperationPublish, "type id and device id are")
	}
	if eventID == "" || format == "" {
		return nullArgs(rc.OperationPublish, "event id and format are")
	}
	if !qos.Valid() {
		return rc.Errorf(rc.ComponentGateway, rc.OperationPublish, rc.ArgsInvalidValue, "invalid qos %d", qos)
	}
	return g.Publish(ctx, client.DeviceEventTopic(typeID, deviceID, eventID, format), data, qos)
}

// SetCommandHandler installs h for every command, of the gateway or of an
// attached device, without a more specific handler.
func (g *Gateway) SetCommandHandler(h client.CallbackHandler) error {
	return g.SetHandler(client.KindCommand, "", h)
}

// SubscribeToCommands subscribes to commands sent to the gateway itself.
func (g *Gateway) SubscribeToCommands(ctx context.Context, commandID, format string) error {
	if commandID == "" || format == "" {
		return nullArgs(rc.OperationSubscribe, "command id and format are")
	}
	return g.Subscribe(ctx, client.CommandTopic(commandID, format), client.QoS0)
}

// HandleCommand registers h for one named gateway command and subscribes
// to it.
func (g *Gateway) HandleCommand(ctx context.Context, h client.CallbackHandler, commandID, format string) error {
	if h == nil {
		return nullArgs(rc.OperationSetHandler, "command handler is")
	}
	if commandID == "" || format == "" {
		return nullArgs(rc.OperationSetHandler, "command id and format are")
	}
	if strings.ContainsAny(commandID, "+#") {
		return rc.Errorf(rc.ComponentGateway, rc.OperationSetHandler, rc.ArgsInvalidValue,
			"command id %q must not be a wildcard", commandID)
	}
	return g.Handle(ctx, client.KindCommand, client.CommandTopic(commandID, format), client.QoS0, h)
}

func (g *Gateway) UnsubscribeFromCommands(ctx context.Context, commandID, format string) error {
	if commandID == "" || format == "" {
		return nullArgs(rc.OperationUnsubscribe, "command id and format are")
	}
	return g.Unsubscribe(ctx, client.CommandTopic(commandID, format))
}

// SubscribeToDeviceCommands subscribes to commands addressed to an attached
// device. Any argument may be "+".
func (g *Gateway) SubscribeToDeviceCommands(ctx context.Context, typeID, deviceID, commandID, format string) error {
	if typeID == "" || deviceID == "" || commandID == "" || format == "" {
		return nullArgs(rc.OperationSubscribe, "type id, device id, command id and format are")
	}
	return g.Subscribe(ctx, client.DeviceCommandTopic(typeID, deviceID, commandID, format), client.QoS0)
}

func (g *Gateway) UnsubscribeFromDeviceCommands(ctx context.Context, typeID, deviceID, commandID, format string) error {
	if typeID == "" || deviceID == "" || commandID == "" || format == "" {
		return nullArgs(rc.OperationUnsubscribe, "type id, device id, command id and format are")
	}
	return g.Unsubscribe(ctx, client.DeviceCommandTopic(typeID, deviceID, commandID, format))
}

// SetNotificationHandler installs h for error notifications the platform
// sends about the gateway or its devices.
func (g *Gateway) SetNotificationHandler(h client.CallbackHandler) error {
	return g.SetHandler(client.KindNotification, "", h)
}

func (g *Gateway) SubscribeToNotifications(ctx context.Context, typeID, deviceID string) error {
	if typeID == "" || deviceID == "" {
		return nullArgs(rc.OperationSubscribe, "type id and device id are")
	}
	return g.Subscribe(ctx, client.NotifyTopic(typeID, deviceID), client.QoS0)
}

func (g *Gateway) UnsubscribeFromNotifications(ctx context.Context, typeID, deviceID string) error {
	if typeID == "" || deviceID == "" {
		return nullArgs(rc.OperationUnsubscribe, "type id and device id are")
	}
	return g.Unsubscribe(ctx, client.NotifyTopic(typeID, deviceID))
}

func (g *Gateway) SetMonitoringMessageHandler(h client.CallbackHandler) error {
	return g.SetHandler(client.KindDeviceMonitoring, "", h)
}

func (g *Gateway) SubscribeToMonitoringMessages(ctx context.Context, typeID, deviceID string) error {
	if typeID == "" || deviceID == "" {
		return nullArgs(rc.OperationSubscribe, "type id and device id are")
	}
	return g.Subscribe(ctx, client.MonitorTopic(typeID, deviceID), client.QoS0)
}

func (g *Gateway) UnsubscribeFromMonitoringMessages(ctx context.Context, typeID, deviceID string) error {
	if typeID == "" || deviceID == "" {
		return nullArgs(rc.OperationUnsubscribe, "type id and device id are")
	}
	return g.Unsubscribe(ctx, client.MonitorTopic(typeID, deviceID))
}
