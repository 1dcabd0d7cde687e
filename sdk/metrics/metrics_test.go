package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewClientMetrics(reg, "wiotp")
	require.NoError(t, err)

	m.Published("Device", "event")
	m.Published("Device", "event")
	m.Received("Device", "command")
	m.PublishFailed("Device")
	m.Reconnecting("Device")
	m.SetConnected("Device", true)
	m.ActionReceived("Reboot")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("Device", "event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("Device", "command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures.WithLabelValues("Device")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconnects.WithLabelValues("Device")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connected.WithLabelValues("Device")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsReceived.WithLabelValues("Reboot")))

	m.SetConnected("Device", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Connected.WithLabelValues("Device")))

	_, err = NewClientMetrics(reg, "wiotp")
	assert.Error(t, err, "duplicate registration must fail")
}

func TestNilClientMetrics(t *testing.T) {
	var m *ClientMetrics
	assert.NotPanics(t, func() {
		m.Published("Device", "event")
		m.Received("Device", "event")
		m.PublishFailed("Device")
		m.Reconnecting("Device")
		m.SetConnected("Device", true)
		m.ActionReceived("Reboot")
	})
}
