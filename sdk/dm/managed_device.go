package dm

import (
	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/device"
)

// ManagedDevice is a device that also accepts device management actions.
type ManagedDevice struct {
	*device.Device
	*Manager
}

func NewManagedDevice(cfg *config.Config, opts ...client.Option) (*ManagedDevice, error) {
	c, err := client.New(cfg, config.ManagedDevice, opts...)
	if err != nil {
		return nil, err
	}

	m := newManager(c, cfg.Identity.TypeID, cfg.Identity.DeviceID,
		client.DeviceTopicRoot+"/", client.DMTopicRoot+"/", newHandlerSet())
	c.SetDMHandler(m.handleMessage)

	return &ManagedDevice{Device: device.Wrap(c), Manager: m}, nil
}
