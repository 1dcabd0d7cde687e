package client

import (
	"fmt"
	"strings"
)

// Kind classifies inbound messages by topic shape.
type Kind int

const (
	KindUnknown Kind = iota
	KindEvent
	KindCommand
	KindNotification
	KindDeviceMonitoring
	KindAppMonitoring
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindCommand:
		return "command"
	case KindNotification:
		return "notification"
	case KindDeviceMonitoring:
		return "deviceMonitoring"
	case KindAppMonitoring:
		return "appMonitoring"
	}
	return "unknown"
}

const (
	topicRoot = "iot-2"
	// DMTopicRoot prefixes every device management action sent by the platform.
	DMTopicRoot = "iotdm-1"
	// DeviceTopicRoot prefixes every device management request sent by a device.
	DeviceTopicRoot = "iotdevice-1"
)

// Message is a parsed inbound publication handed to callback handlers.
type Message struct {
	Kind     Kind
	TypeID   string
	DeviceID string
	AppID    string
	// Name is the event or command id.
	Name    string
	Format  string
	Payload []byte
	Topic   string
}

// EventTopic is the topic a device publishes its own events on.
func EventTopic(eventID, format string) string {
	return fmt.Sprintf("iot-2/evt/%s/fmt/%s", eventID, format)
}

// CommandTopic is the topic a device receives its own commands on.
func CommandTopic(commandID, format string) string {
	return fmt.Sprintf("iot-2/cmd/%s/fmt/%s", commandID, format)
}

// DeviceEventTopic addresses events of a specific device.
func DeviceEventTopic(typeID, deviceID, eventID, format string) string {
	return fmt.Sprintf("iot-2/type/%s/id/%s/evt/%s/fmt/%s", typeID, deviceID, eventID, format)
}

// DeviceCommandTopic addresses commands of a specific device.
func DeviceCommandTopic(typeID, deviceID, commandID, format string) string {
	return fmt.Sprintf("iot-2/type/%s/id/%s/cmd/%s/fmt/%s", typeID, deviceID, commandID, format)
}

func NotifyTopic(typeID, deviceID string) string {
	return fmt.Sprintf("iot-2/type/%s/id/%s/notify", typeID, deviceID)
}

func MonitorTopic(typeID, deviceID string) string {
	return fmt.Sprintf("iot-2/type/%s/id/%s/mon", typeID, deviceID)
}

func AppMonitorTopic(appID string) string {
	return fmt.Sprintf("iot-2/app/%s/mon", appID)
}

// ParseTopic classifies an iot-2 topic and extracts its identifiers.
func ParseTopic(topic string) (Message, error) {
	p := strings.Split(topic, "/")
	m := Message{Topic: topic}

	if len(p) < 3 || p[0] != topicRoot {
		return m, fmt.Errorf("unrecognised topic %q", topic)
	}

	switch {
	// iot-2/cmd/C/fmt/F
	case len(p) == 5 && p[1] == "cmd" && p[3] == "fmt":
		m.Kind, m.Name, m.Format = KindCommand, p[2], p[4]
		return m, nil

	// iot-2/evt/E/fmt/F
	case len(p) == 5 && p[1] == "evt" && p[3] == "fmt":
		m.Kind, m.Name, m.Format = KindEvent, p[2], p[4]
		return m, nil

	// iot-2/app/A/mon
	case len(p) == 4 && p[1] == "app" && p[3] == "mon":
		m.Kind, m.AppID = KindAppMonitoring, p[2]
		return m, nil

	case len(p) >= 6 && p[1] == "type" && p[3] == "id":
		m.TypeID, m.DeviceID = p[2], p[4]
		switch {
		case len(p) == 6 && p[5] == "notify":
			m.Kind = KindNotification
			return m, nil
		case len(p) == 6 && p[5] == "mon":
			m.Kind = KindDeviceMonitoring
			return m, nil
		case len(p) == 9 && p[7] == "fmt" && (p[5] == "evt" || p[5] == "cmd"):
			m.Kind = KindEvent
			if p[5] == "cmd" {
				m.Kind = KindCommand
			}
			m.Name, m.Format = p[6], p[8]
			return m, nil
		}
	}
	return Message{Topic: topic}, fmt.Errorf("unrecognised topic %q", topic)
}
