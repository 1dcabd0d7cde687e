package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"iot-2/cmd/reboot/fmt/json", "iot-2/cmd/reboot/fmt/json", true},
		{"iot-2/cmd/+/fmt/+", "iot-2/cmd/reboot/fmt/json", true},
		{"iot-2/cmd/+/fmt/+", "iot-2/cmd/reboot/fmt", false},
		{"iot-2/type/+/id/+/evt/+/fmt/+", "iot-2/type/t/id/d/evt/e/fmt/json", true},
		{"iot-2/type/+/id/+/evt/+/fmt/+", "iot-2/type/t/id/d/cmd/e/fmt/json", false},
		{"iotdm-1/#", "iotdm-1/mgmt/initiate/device/reboot", true},
		{"iotdm-1/#", "iotdm-1", true},
		{"iotdm-1/#/x", "iotdm-1/a/x", false},
		{"iotdm-1/response", "iotdm-1/observe", false},
		{"a/b", "a/b/c", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.filter, tt.topic))
		})
	}
}
