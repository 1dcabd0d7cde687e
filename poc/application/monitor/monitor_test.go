package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/client"
)

func newTestMonitor(t *testing.T) (*Monitor, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewMonitor(reg, zap.NewNop().Sugar())
	require.NoError(t, err)
	return m, reg
}

func TestOnEventCounts(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.OnEvent(client.Message{Kind: client.KindEvent, TypeID: "sensor", DeviceID: "s1", Name: "reading", Payload: []byte(`{"d":1}`)})
	m.OnEvent(client.Message{Kind: client.KindEvent, TypeID: "sensor", DeviceID: "s2", Name: "reading", Payload: []byte(`{}`)})
	m.OnEvent(client.Message{Kind: client.KindEvent, TypeID: "edge", DeviceID: "e1", Name: "status"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("sensor", "reading")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("edge", "status")))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.bytes.WithLabelValues("sensor")))
}

func TestOnDeviceStatus(t *testing.T) {
	m, _ := newTestMonitor(t)
	status := func(payload string) client.Message {
		return client.Message{Kind: client.KindDeviceMonitoring, TypeID: "sensor", DeviceID: "s1", Payload: []byte(payload)}
	}

	m.OnDeviceStatus(status(`{"Action":"Connect","ClientID":"d:org:sensor:s1"}`))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.online.WithLabelValues("sensor", "s1")))

	m.OnDeviceStatus(status(`{"Action":"Disconnect","Reason":"The connection has completed normally."}`))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.online.WithLabelValues("sensor", "s1")))

	m.OnDeviceStatus(status(`not json`))
	m.OnDeviceStatus(status(`{"Action":"Wander"}`))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changes.WithLabelValues("connect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changes.WithLabelValues("disconnect")))
}

func TestDuplicateRegistration(t *testing.T) {
	_, reg := newTestMonitor(t)
	_, err := NewMonitor(reg, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	m, reg := newTestMonitor(t)
	m.OnEvent(client.Message{TypeID: "sensor", Name: "reading"})

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `wiotp_monitor_device_events_total{event="reading",type_id="sensor"} 1`)
}

func TestParseCommand(t *testing.T) {
	spec, err := parseCommand(`sensor/s1/blink={"times":3}`)
	require.NoError(t, err)
	assert.Equal(t, commandSpec{TypeID: "sensor", DeviceID: "s1", CommandID: "blink", Payload: `{"times":3}`}, spec)

	spec, err = parseCommand("sensor/s1/reset")
	require.NoError(t, err)
	assert.Equal(t, "{}", spec.Payload)

	for _, bad := range []string{"sensor/s1", "sensor//blink", "sensor/s1/blink={", "a/b/c/d"} {
		_, err := parseCommand(bad)
		assert.Error(t, err, bad)
	}
}

type recordedCommand struct {
	topic   string
	payload string
	qos     client.QoS
}

type fakeSender struct{ sent []recordedCommand }

func (f *fakeSender) SendCommand(_ context.Context, typeID, deviceID, commandID string, data []byte, format string, qos client.QoS) error {
	f.sent = append(f.sent, recordedCommand{client.DeviceCommandTopic(typeID, deviceID, commandID, format), string(data), qos})
	return nil
}

func TestSendCommand(t *testing.T) {
	sender := &fakeSender{}
	spec, err := parseCommand(`sensor/s1/blink={"times":3}`)
	require.NoError(t, err)

	require.NoError(t, sendCommand(context.Background(), sender, spec))
	assert.Equal(t, []recordedCommand{{"iot-2/type/sensor/id/s1/cmd/blink/fmt/json", `{"times":3}`, client.QoS1}}, sender.sent)
}
