package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/rc"
	"github.com/margo/wiotp-client/sdk/transport/transporttest"
)

func gatewayConfig() *config.Config {
	cfg := config.New()
	cfg.Identity = config.Identity{OrgID: "abc123", TypeID: "gwtype", DeviceID: "gw01"}
	cfg.Auth.Token = "secret"
	return cfg
}

func newGateway(t *testing.T) (*Gateway, *transporttest.Fake) {
	t.Helper()
	fake := transporttest.New()
	g, err := New(gatewayConfig(),
		client.WithTransportFactory(fake.Factory()),
		client.WithSubscribeWait(50*time.Millisecond),
	)
	require.NoError(t, err)
	require.NoError(t, g.Connect(context.Background()))
	return g, fake
}

func TestNew(t *testing.T) {
	g, fake := newGateway(t)
	assert.Equal(t, "g:abc123:gwtype:gw01", g.ClientID())
	assert.Equal(t, "use-token-auth", fake.Config.Username)

	qs := gatewayConfig()
	qs.Identity.OrgID = config.QuickstartOrgID
	_, err := New(qs)
	assert.Equal(t, rc.QuickstartNotSupported, rc.Of(err))
}

func TestSendEvents(t *testing.T) {
	g, fake := newGateway(t)
	ctx := context.Background()

	require.NoError(t, g.SendEvent(ctx, "status", []byte(`{}`), "json", client.QoS1))
	require.NoError(t, g.SendDeviceEvent(ctx, "sensor", "s1", "temp", []byte(`{"t":1}`), "json", client.QoS0))

	pubs := fake.Published()
	require.Len(t, pubs, 2)
	assert.Equal(t, "iot-2/type/gwtype/id/gw01/evt/status/fmt/json", pubs[0].Topic)
	assert.Equal(t, byte(1), pubs[0].QoS)
	assert.Equal(t, "iot-2/type/sensor/id/s1/evt/temp/fmt/json", pubs[1].Topic)

	assert.Equal(t, rc.ArgsNullValue, rc.Of(g.SendDeviceEvent(ctx, "", "s1", "e", nil, "json", client.QoS0)))
	assert.Equal(t, rc.ArgsNullValue, rc.Of(g.SendDeviceEvent(ctx, "sensor", "s1", "", nil, "json", client.QoS0)))
	assert.Equal(t, rc.ArgsInvalidValue, rc.Of(g.SendDeviceEvent(ctx, "sensor", "s1", "e", nil, "json", client.QoS(3))))
}

func TestCommands(t *testing.T) {
	g, fake := newGateway(t)
	ctx := context.Background()

	var got []client.Message
	require.NoError(t, g.SetCommandHandler(func(m client.Message) { got = append(got, m) }))
	require.NoError(t, g.SubscribeToCommands(ctx, "+", "json"))
	require.NoError(t, g.SubscribeToDeviceCommands(ctx, "sensor", "+", "+", "+"))

	assert.Equal(t, []string{
		"iot-2/cmd/+/fmt/json",
		"iot-2/type/sensor/id/+/cmd/+/fmt/+",
	}, fake.Subscriptions())

	fake.Deliver("iot-2/cmd/restart/fmt/json", nil)
	fake.Deliver("iot-2/type/sensor/id/s7/cmd/blink/fmt/text", []byte("1"))

	require.Len(t, got, 2)
	assert.Equal(t, "restart", got[0].Name)
	assert.Empty(t, got[0].DeviceID)
	assert.Equal(t, "sensor", got[1].TypeID)
	assert.Equal(t, "s7", got[1].DeviceID)
	assert.Equal(t, "blink", got[1].Name)

	var restarts int
	require.NoError(t, g.HandleCommand(ctx, func(client.Message) { restarts++ }, "restart", "json"))
	fake.Deliver("iot-2/cmd/restart/fmt/json", nil)
	assert.Equal(t, 2, restarts, "delivered through both matching subscriptions")
	assert.Len(t, got, 2)

	require.NoError(t, g.UnsubscribeFromDeviceCommands(ctx, "sensor", "+", "+", "+"))
	require.NoError(t, g.UnsubscribeFromCommands(ctx, "+", "json"))
	assert.Equal(t, []string{"iot-2/cmd/restart/fmt/json"}, fake.Subscriptions())

	assert.Equal(t, rc.ArgsInvalidValue, rc.Of(g.HandleCommand(ctx, func(client.Message) {}, "#", "json")))
	assert.Equal(t, rc.ArgsNullValue, rc.Of(g.SubscribeToDeviceCommands(ctx, "", "d", "c", "json")))
}

func TestNotificationsAndMonitoring(t *testing.T) {
	g, fake := newGateway(t)
	ctx := context.Background()

	var notes, mons []client.Message
	require.NoError(t, g.SetNotificationHandler(func(m client.Message) { notes = append(notes, m) }))
	require.NoError(t, g.SetMonitoringMessageHandler(func(m client.Message) { mons = append(mons, m) }))
	require.NoError(t, g.SubscribeToNotifications(ctx, "+", "+"))
	require.NoError(t, g.SubscribeToMonitoringMessages(ctx, "sensor", "s1"))

	fake.Deliver("iot-2/type/sensor/id/s1/notify", []byte(`{"Reason":"bad topic"}`))
	fake.Deliver("iot-2/type/sensor/id/s1/mon", []byte(`{"Action":"Disconnect"}`))

	require.Len(t, notes, 1)
	assert.Equal(t, client.KindNotification, notes[0].Kind)
	require.Len(t, mons, 1)
	assert.Equal(t, "s1", mons[0].DeviceID)

	require.NoError(t, g.UnsubscribeFromNotifications(ctx, "+", "+"))
	require.NoError(t, g.UnsubscribeFromMonitoringMessages(ctx, "sensor", "s1"))
	assert.Empty(t, fake.Subscriptions())

	assert.Equal(t, rc.ArgsNullValue, rc.Of(g.SubscribeToNotifications(ctx, "sensor", "")))
	assert.Equal(t, rc.ArgsNullValue, rc.Of(g.UnsubscribeFromMonitoringMessages(ctx, "", "s1")))
}
