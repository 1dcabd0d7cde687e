package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicBuilders(t *testing.T) {
	assert.Equal(t, "iot-2/evt/temp/fmt/json", EventTopic("temp", "json"))
	assert.Equal(t, "iot-2/cmd/reboot/fmt/text", CommandTopic("reboot", "text"))
	assert.Equal(t, "iot-2/type/t1/id/d1/evt/temp/fmt/json", DeviceEventTopic("t1", "d1", "temp", "json"))
	assert.Equal(t, "iot-2/type/t1/id/d1/cmd/blink/fmt/json", DeviceCommandTopic("t1", "d1", "blink", "json"))
	assert.Equal(t, "iot-2/type/+/id/+/notify", NotifyTopic("+", "+"))
	assert.Equal(t, "iot-2/type/t1/id/d1/mon", MonitorTopic("t1", "d1"))
	assert.Equal(t, "iot-2/app/app1/mon", AppMonitorTopic("app1"))
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  Message
	}{
		{
			topic: "iot-2/cmd/reboot/fmt/json",
			want:  Message{Kind: KindCommand, Name: "reboot", Format: "json"},
		},
		{
			topic: "iot-2/evt/status/fmt/text",
			want:  Message{Kind: KindEvent, Name: "status", Format: "text"},
		},
		{
			topic: "iot-2/type/t1/id/d1/evt/temp/fmt/json",
			want:  Message{Kind: KindEvent, TypeID: "t1", DeviceID: "d1", Name: "temp", Format: "json"},
		},
		{
			topic: "iot-2/type/t1/id/d1/cmd/blink/fmt/bin",
			want:  Message{Kind: KindCommand, TypeID: "t1", DeviceID: "d1", Name: "blink", Format: "bin"},
		},
		{
			topic: "iot-2/type/t1/id/d1/notify",
			want:  Message{Kind: KindNotification, TypeID: "t1", DeviceID: "d1"},
		},
		{
			topic: "iot-2/type/t1/id/d1/mon",
			want:  Message{Kind: KindDeviceMonitoring, TypeID: "t1", DeviceID: "d1"},
		},
		{
			topic: "iot-2/app/app1/mon",
			want:  Message{Kind: KindAppMonitoring, AppID: "app1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := ParseTopic(tt.topic)
			require.NoError(t, err)
			tt.want.Topic = tt.topic
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTopicRejects(t *testing.T) {
	for _, topic := range []string{
		"",
		"iot-2",
		"iotdm-1/response",
		"iot-2/cmd/reboot",
		"iot-2/type/t1/id/d1/evt/temp",
		"iot-2/type/t1/id/d1/status",
		"other/evt/e/fmt/json",
	} {
		_, err := ParseTopic(topic)
		assert.Error(t, err, topic)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "event", KindEvent.String())
	assert.Equal(t, "command", KindCommand.String())
	assert.Equal(t, "appMonitoring", KindAppMonitoring.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestQoS(t *testing.T) {
	assert.True(t, QoS0.Valid())
	assert.True(t, QoS2.Valid())
	assert.False(t, QoS(3).Valid())
}

func TestHandlerTable(t *testing.T) {
	table := newHandlerTable()
	var hits []string
	mk := func(name string) CallbackHandler { return func(Message) { hits = append(hits, name) } }

	table.set(KindEvent, "", mk("global"))
	table.set(KindEvent, "iot-2/type/+/id/+/evt/+/fmt/+", mk("all"))
	table.set(KindEvent, "iot-2/type/t1/id/+/evt/+/fmt/+", mk("t1"))

	table.lookup(KindEvent, "iot-2/type/t1/id/d/evt/e/fmt/json")(Message{})
	table.lookup(KindEvent, "iot-2/type/t2/id/d/evt/e/fmt/json")(Message{})
	table.lookup(KindEvent, "iot-2/evt/e/fmt/json")(Message{})
	assert.Equal(t, []string{"t1", "all", "global"}, hits)

	assert.Nil(t, table.lookup(KindCommand, "iot-2/cmd/c/fmt/json"))

	// re-registering moves the entry to the front of the search
	table.set(KindEvent, "iot-2/type/+/id/+/evt/+/fmt/+", mk("all2"))
	hits = nil
	table.lookup(KindEvent, "iot-2/type/t1/id/d/evt/e/fmt/json")(Message{})
	assert.Equal(t, []string{"all2"}, hits)

	assert.True(t, table.remove(KindEvent, ""))
	assert.False(t, table.remove(KindEvent, ""))
	assert.False(t, table.remove(KindEvent, "nope"))
	assert.Nil(t, table.lookup(KindEvent, "iot-2/evt/e/fmt/json"))
}
