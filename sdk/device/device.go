// Package device implements the device client: it publishes its own events
// and receives commands addressed to it.
package device

import (
	"context"
	"strings"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/rc"
)

type Device struct {
	*client.Client
}

func New(cfg *config.Config, opts ...client.Option) (*Device, error) {
	c, err := client.New(cfg, config.Device, opts...)
	if err != nil {
		return nil, err
	}
	return &Device{Client: c}, nil
}

// Wrap builds a Device around an existing client core. Managed devices use
// it to share one connection.
func Wrap(c *client.Client) *Device {
	return &Device{Client: c}
}

// SendEvent publishes data as event eventID in the given format.
func (d *Device) SendEvent(ctx context.Context, eventID string, data []byte, format string, qos client.QoS) error {
	if eventID == "" || format == "" {
		return rc.Errorf(rc.ComponentDevice, rc.OperationPublish, rc.ArgsNullValue, "event id and format are required")
	}
	if !qos.Valid() {
		return rc.Errorf(rc.ComponentDevice, rc.OperationPublish, rc.ArgsInvalidValue, "invalid qos %d", qos)
	}
	return d.Publish(ctx, client.EventTopic(eventID, format), data, qos)
}

// SetCommandHandler installs h for every command without a more specific
// handler.
func (d *Device) SetCommandHandler(h client.CallbackHandler) error {
	return d.SetHandler(client.KindCommand, "", h)
}

// SubscribeToCommands subscribes to commandID in format. Either may be the
// "+" wildcard.
func (d *Device) SubscribeToCommands(ctx context.Context, commandID, format string) error {
	if err := d.checkCommandArgs(commandID, format); err != nil {
		return err
	}
	return d.Subscribe(ctx, client.CommandTopic(commandID, format), client.QoS0)
}

// HandleCommand registers h for one named command and subscribes to it.
func (d *Device) HandleCommand(ctx context.Context, h client.CallbackHandler, commandID, format string) error {
	if h == nil {
		return rc.Errorf(rc.ComponentDevice, rc.OperationSetHandler, rc.ArgsNullValue, "command handler is nil")
	}
	if err := d.checkCommandArgs(commandID, format); err != nil {
		return err
	}
	if strings.ContainsAny(commandID, "+#") {
		return rc.Errorf(rc.ComponentDevice, rc.OperationSetHandler, rc.ArgsInvalidValue,
			"command id %q must not be a wildcard", commandID)
	}
	return d.Handle(ctx, client.KindCommand, client.CommandTopic(commandID, format), client.QoS0, h)
}

func (d *Device) UnsubscribeFromCommands(ctx context.Context, commandID, format string) error {
	if commandID == "" || format == "" {
		return rc.Errorf(rc.ComponentDevice, rc.OperationUnsubscribe, rc.ArgsNullValue, "command id and format are required")
	}
	return d.Unsubscribe(ctx, client.CommandTopic(commandID, format))
}

func (d *Device) checkCommandArgs(commandID, format string) error {
	if commandID == "" || format == "" {
		return rc.Errorf(rc.ComponentDevice, rc.OperationSubscribe, rc.ArgsNullValue, "command id and format are required")
	}
	if d.Config().IsQuickstart() {
		return rc.Errorf(rc.ComponentDevice, rc.OperationSubscribe, rc.QuickstartNotSupported,
			"commands are not available in quickstart")
	}
	return nil
}
