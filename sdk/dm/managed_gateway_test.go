package dm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/rc"
	"github.com/margo/wiotp-client/sdk/transport"
	"github.com/margo/wiotp-client/sdk/transport/transporttest"
)

func newManagedGateway(t *testing.T) (*ManagedGateway, *transporttest.Fake) {
	t.Helper()
	fake := transporttest.New()
	g, err := NewManagedGateway(testConfig("gwtype", "gw01"), testOptions(fake)...)
	require.NoError(t, err)
	require.NoError(t, g.Connect(context.Background()))
	g.SetResponseTimeout(time.Second)
	answer(fake, RCResponseSuccess, topicManage, topicUnmanage)
	return g, fake
}

func TestManagedGatewayManagesItself(t *testing.T) {
	g, fake := newManagedGateway(t)
	assert.Equal(t, config.ManagedGateway, g.ClientType())
	assert.Equal(t, "gwtype", g.TypeID())
	assert.Equal(t, "gw01", g.DeviceID())

	require.NoError(t, g.Manage(context.Background()))
	assert.True(t, g.IsManaged())
	assert.Contains(t, fake.Subscriptions(), "iotdm-1/type/gwtype/id/gw01/#")
	assert.Equal(t, 1, countOn(fake, "iotdevice-1/type/gwtype/id/gw01/mgmt/manage"))

	deliverAction(fake, "iotdm-1/type/gwtype/id/gw01/mgmt/initiate/device/reboot", "r1")
	resp, _ := lastOn(t, fake, "iotdevice-1/type/gwtype/id/gw01/response")
	assert.Equal(t, RCRebootNotSupported, resp.RC)

	require.NoError(t, g.AddErrorCode(context.Background(), "e1", 7))
	assert.Equal(t, 1, countOn(fake, "iotdevice-1/type/gwtype/id/gw01/add/diag/errorCodes"))

	require.NoError(t, g.SendEvent(context.Background(), "status", []byte(`{}`), "json", client.QoS0))
	assert.Equal(t, 1, countOn(fake, "iot-2/type/gwtype/id/gw01/evt/status/fmt/json"))
}

func TestManagedGatewayAttachedDevices(t *testing.T) {
	g, fake := newManagedGateway(t)
	ctx := context.Background()

	var rec recorder
	require.NoError(t, g.SetActionHandler(ActionReboot, rec.handle))

	attrs := Attributes{Lifetime: 0, DeviceActions: true, DeviceInfo: DeviceInfo{Model: "thermo"}}
	require.NoError(t, g.ManageDevice(ctx, "sensor", "s1", attrs))
	assert.Equal(t, []string{"sensor/s1"}, g.ManagedDevices())
	assert.Contains(t, fake.Subscriptions(), "iotdm-1/type/sensor/id/s1/#")

	_, p := lastOn(t, fake, "iotdevice-1/type/sensor/id/s1/mgmt/manage")
	assert.Contains(t, string(p.Payload), `"model":"thermo"`)

	m := g.DeviceManager("sensor", "s1")
	require.NotNil(t, m)
	assert.Equal(t, "thermo", m.Attributes().DeviceInfo.Model)
	assert.Nil(t, g.DeviceManager("sensor", "s2"))
	assert.Same(t, g.Manager, g.DeviceManager("gwtype", "gw01"))

	deliverAction(fake, "iotdm-1/type/sensor/id/s1/mgmt/initiate/device/reboot", "r7")
	actions := rec.all()
	require.Len(t, actions, 1)
	assert.Equal(t, "sensor", actions[0].TypeID)
	assert.Equal(t, "s1", actions[0].DeviceID)

	require.NoError(t, actions[0].Respond(ctx, RCRebootInitiated, ""))
	resp, _ := lastOn(t, fake, "iotdevice-1/type/sensor/id/s1/response")
	assert.Equal(t, RCRebootInitiated, resp.RC)
	assert.Equal(t, "r7", resp.ReqID)

	require.NoError(t, g.DeviceActionResponse(ctx, "sensor", "s1", "r8", RCRebootFailed, "busy"))
	resp, _ = lastOn(t, fake, "iotdevice-1/type/sensor/id/s1/response")
	assert.Equal(t, "busy", resp.Message)

	require.NoError(t, g.AddDeviceErrorCode(ctx, "sensor", "s1", "e1", 12))
	require.NoError(t, g.ClearDeviceErrorCodes(ctx, "sensor", "s1", "e2"))
	require.NoError(t, g.AddDeviceLogEntry(ctx, "sensor", "s1", "l1", LogEntry{Message: "hot"}))
	require.NoError(t, g.ClearDeviceLog(ctx, "sensor", "s1", "l2"))
	assert.Equal(t, 1, countOn(fake, "iotdevice-1/type/sensor/id/s1/add/diag/errorCodes"))
	assert.Equal(t, 1, countOn(fake, "iotdevice-1/type/sensor/id/s1/add/diag/log"))

	require.NoError(t, g.UnmanageDevice(ctx, "sensor", "s1", ""))
	assert.Empty(t, g.ManagedDevices())
	assert.NotContains(t, fake.Subscriptions(), "iotdm-1/type/sensor/id/s1/#")
	assert.Nil(t, g.DeviceManager("sensor", "s1"))
}

func TestManagedGatewayErrors(t *testing.T) {
	g, fake := newManagedGateway(t)
	ctx := context.Background()

	assert.Equal(t, rc.ArgsNullValue, rc.Of(g.ManageDevice(ctx, "", "s1", Attributes{})))
	assert.Equal(t, rc.ArgsInvalidValue, rc.Of(g.ManageDevice(ctx, "gwtype", "gw01", Attributes{})))
	assert.Equal(t, rc.ParamInvalidValue, rc.Of(g.ManageDevice(ctx, "sensor", "s1", Attributes{Lifetime: -1})))
	assert.Nil(t, g.DeviceManager("sensor", "s1"), "failed manage leaves no manager behind")

	assert.Equal(t, rc.NotFound, rc.Of(g.UnmanageDevice(ctx, "sensor", "s9", "")))
	assert.Equal(t, rc.NotFound, rc.Of(g.DeviceActionResponse(ctx, "sensor", "s9", "r", 200, "")))
	assert.Equal(t, rc.ArgsNullValue, rc.Of(g.AddDeviceErrorCode(ctx, "sensor", "", "r", 1)))

	answer(fake, 500, topicManage)
	assert.Equal(t, rc.DMActionFailed, rc.Of(g.ManageDevice(ctx, "sensor", "s1", Attributes{})))
	assert.Nil(t, g.DeviceManager("sensor", "s1"))

	assert.NotContains(t, fake.Subscriptions(), "iotdm-1/type/sensor/id/s1/#")

	before := len(fake.Published())
	assert.NotPanics(t, func() {
		g.route(transport.Message{Topic: "iotdm-1/type/sensor/id/ghost/mgmt/initiate/device/reboot", Payload: []byte(`{"reqId":"x"}`)})
		g.route(transport.Message{Topic: "iotdm-1/response", Payload: []byte(`{"reqId":"x"}`)})
	})
	assert.Len(t, fake.Published(), before)
}
