package dm

import (
	"context"
	"strings"
	"sync"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/gateway"
	"github.com/margo/wiotp-client/sdk/rc"
	"github.com/margo/wiotp-client/sdk/transport"
)

// ManagedGateway is a gateway that manages itself and the devices attached
// to it. Action handlers are shared: actions for attached devices arrive
// with their TypeID and DeviceID set.
type ManagedGateway struct {
	*gateway.Gateway
	*Manager

	mu      sync.RWMutex
	devices map[string]*Manager
}

func NewManagedGateway(cfg *config.Config, opts ...client.Option) (*ManagedGateway, error) {
	c, err := client.New(cfg, config.ManagedGateway, opts...)
	if err != nil {
		return nil, err
	}

	typeID, deviceID := cfg.Identity.TypeID, cfg.Identity.DeviceID
	pub, sub := devicePrefixes(typeID, deviceID)
	g := &ManagedGateway{
		Gateway: gateway.Wrap(c),
		Manager: newManager(c, typeID, deviceID, pub, sub, newHandlerSet()),
		devices: make(map[string]*Manager),
	}
	c.SetDMHandler(g.route)
	return g, nil
}

func deviceKey(typeID, deviceID string) string {
	return typeID + "/" + deviceID
}

func (g *ManagedGateway) TypeID() string   { return g.Gateway.TypeID() }
func (g *ManagedGateway) DeviceID() string { return g.Gateway.DeviceID() }

// route hands iotdm-1/type/T/id/I/... messages to the manager of device T/I.
func (g *ManagedGateway) route(msg transport.Message) {
	parts := strings.SplitN(msg.Topic, "/", 6)
	if len(parts) < 6 || parts[1] != "type" || parts[3] != "id" {
		g.Manager.log.Warnw("Unsupported device management topic", "topic", msg.Topic)
		return
	}
	m := g.DeviceManager(parts[2], parts[4])
	if m == nil {
		g.Manager.log.Warnw("Device management message for an unmanaged device", "topic", msg.Topic)
		return
	}
	m.handleMessage(msg)
}

// DeviceManager returns the manager of an attached device, the gateway's own
// manager for the gateway identity, or nil.
func (g *ManagedGateway) DeviceManager(typeID, deviceID string) *Manager {
	if typeID == g.TypeID() && deviceID == g.DeviceID() {
		return g.Manager
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.devices[deviceKey(typeID, deviceID)]
}

func (g *ManagedGateway) attached(op rc.Operation, typeID, deviceID string) (*Manager, error) {
	if typeID == "" || deviceID == "" {
		return nil, rc.Errorf(rc.ComponentDM, op, rc.ArgsNullValue, "type id and device id are required")
	}
	m := g.DeviceManager(typeID, deviceID)
	if m == nil {
		return nil, rc.Errorf(rc.ComponentDM, op, rc.NotFound, "device %s/%s is not managed", typeID, deviceID)
	}
	return m, nil
}

// ManageDevice registers an attached device as managed through this gateway.
func (g *ManagedGateway) ManageDevice(ctx context.Context, typeID, deviceID string, attrs Attributes) error {
	if typeID == "" || deviceID == "" {
		return rc.Errorf(rc.ComponentDM, rc.OperationManage, rc.ArgsNullValue, "type id and device id are required")
	}
	if typeID == g.TypeID() && deviceID == g.DeviceID() {
		return rc.Errorf(rc.ComponentDM, rc.OperationManage, rc.ArgsInvalidValue, "use Manage for the gateway itself")
	}

	key := deviceKey(typeID, deviceID)
	g.mu.Lock()
	m, existed := g.devices[key]
	if !existed {
		pub, sub := devicePrefixes(typeID, deviceID)
		m = newManager(g.Client, typeID, deviceID, pub, sub, g.Manager.handlers)
		m.SetResponseTimeout(g.Manager.timeout())
		g.devices[key] = m
	}
	g.mu.Unlock()

	if err := m.SetAttributes(attrs); err != nil {
		g.forget(key, existed)
		return err
	}
	if err := m.Manage(ctx); err != nil {
		if !existed {
			if uerr := g.Unsubscribe(ctx, m.subRoot+"#"); uerr != nil {
				g.Manager.log.Debugw("Failed to unsubscribe from device actions", "typeId", typeID, "deviceId", deviceID, "error", uerr)
			}
		}
		g.forget(key, existed)
		return err
	}
	return nil
}

func (g *ManagedGateway) forget(key string, keep bool) {
	if keep {
		return
	}
	g.mu.Lock()
	delete(g.devices, key)
	g.mu.Unlock()
}

// UnmanageDevice stops device management of an attached device.
func (g *ManagedGateway) UnmanageDevice(ctx context.Context, typeID, deviceID, reqID string) error {
	m, err := g.attached(rc.OperationUnmanage, typeID, deviceID)
	if err != nil {
		return err
	}
	if err := m.Unmanage(ctx, reqID); err != nil {
		return err
	}

	if m != g.Manager {
		g.mu.Lock()
		delete(g.devices, deviceKey(typeID, deviceID))
		g.mu.Unlock()
		if err := g.Unsubscribe(ctx, m.subRoot+"#"); err != nil {
			g.Manager.log.Warnw("Failed to unsubscribe from device actions", "typeId", typeID, "deviceId", deviceID, "error", err)
		}
	}
	return nil
}

func (g *ManagedGateway) DeviceActionResponse(ctx context.Context, typeID, deviceID, reqID string, code int, message string) error {
	m, err := g.attached(rc.OperationResponse, typeID, deviceID)
	if err != nil {
		return err
	}
	return m.ActionResponse(ctx, reqID, code, message)
}

func (g *ManagedGateway) AddDeviceErrorCode(ctx context.Context, typeID, deviceID, reqID string, code int) error {
	m, err := g.attached(rc.OperationDiagnostics, typeID, deviceID)
	if err != nil {
		return err
	}
	return m.AddErrorCode(ctx, reqID, code)
}

func (g *ManagedGateway) ClearDeviceErrorCodes(ctx context.Context, typeID, deviceID, reqID string) error {
	m, err := g.attached(rc.OperationDiagnostics, typeID, deviceID)
	if err != nil {
		return err
	}
	return m.ClearErrorCodes(ctx, reqID)
}

func (g *ManagedGateway) AddDeviceLogEntry(ctx context.Context, typeID, deviceID, reqID string, entry LogEntry) error {
	m, err := g.attached(rc.OperationDiagnostics, typeID, deviceID)
	if err != nil {
		return err
	}
	return m.AddLogEntry(ctx, reqID, entry)
}

func (g *ManagedGateway) ClearDeviceLog(ctx context.Context, typeID, deviceID, reqID string) error {
	m, err := g.attached(rc.OperationDiagnostics, typeID, deviceID)
	if err != nil {
		return err
	}
	return m.ClearLog(ctx, reqID)
}

// ManagedDevices lists the attached devices managed through the gateway as
// type/id pairs.
func (g *ManagedGateway) ManagedDevices() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.devices))
	for key, m := range g.devices {
		if m.IsManaged() {
			out = append(out, key)
		}
	}
	return out
}
