package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/client"
)

const metricsNamespace = "wiotp_monitor"

// deviceStatus is the connection status message published for a device.
type deviceStatus struct {
	Action   string `json:"Action"`
	Time     string `json:"Time"`
	ClientID string `json:"ClientID"`
	Reason   string `json:"Reason,omitempty"`
}

// Monitor turns the device traffic of an organization into metrics.
type Monitor struct {
	log *zap.SugaredLogger

	events  *prometheus.CounterVec
	bytes   *prometheus.CounterVec
	online  *prometheus.GaugeVec
	changes *prometheus.CounterVec
}

func NewMonitor(reg prometheus.Registerer, log *zap.SugaredLogger) (*Monitor, error) {
	m := &Monitor{
		log: log,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "device_events_total",
			Help:      "Device events seen, by device type and event id",
		}, []string{"type_id", "event"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "device_event_bytes_total",
			Help:      "Payload bytes of device events, by device type",
		}, []string{"type_id"}),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "device_online",
			Help:      "1 while the device holds a session with the platform",
		}, []string{"type_id", "device_id"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "device_status_changes_total",
			Help:      "Device connect and disconnect notices, by action",
		}, []string{"action"}),
	}
	for _, c := range []prometheus.Collector{m.events, m.bytes, m.online, m.changes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Monitor) OnEvent(msg client.Message) {
	m.events.WithLabelValues(msg.TypeID, msg.Name).Inc()
	m.bytes.WithLabelValues(msg.TypeID).Add(float64(len(msg.Payload)))
	m.log.Debugw("Device event", "typeId", msg.TypeID, "deviceId", msg.DeviceID, "event", msg.Name, "format", msg.Format)
}

func (m *Monitor) OnDeviceStatus(msg client.Message) {
	var status deviceStatus
	if err := json.Unmarshal(msg.Payload, &status); err != nil {
		m.log.Warnw("Ignoring malformed status message", "topic", msg.Topic, "error", err)
		return
	}

	action := strings.ToLower(status.Action)
	switch action {
	case "connect":
		m.online.WithLabelValues(msg.TypeID, msg.DeviceID).Set(1)
	case "disconnect":
		m.online.WithLabelValues(msg.TypeID, msg.DeviceID).Set(0)
	default:
		m.log.Debugw("Unknown status action", "action", status.Action, "topic", msg.Topic)
		return
	}
	m.changes.WithLabelValues(action).Inc()
	m.log.Infow("Device status changed", "typeId", msg.TypeID, "deviceId", msg.DeviceID, "action", status.Action, "reason", status.Reason)
}

// commandSpec is a command given on the command line as
// type/id/command=payload.
type commandSpec struct {
	TypeID    string `validate:"required"`
	DeviceID  string `validate:"required"`
	CommandID string `validate:"required"`
	Payload   string `validate:"required,json"`
}

func parseCommand(s string) (commandSpec, error) {
	target, payload, found := strings.Cut(s, "=")
	if !found {
		payload = "{}"
	}
	parts := strings.Split(target, "/")
	if len(parts) != 3 {
		return commandSpec{}, fmt.Errorf("command %q is not type/id/command[=payload]", s)
	}
	spec := commandSpec{TypeID: parts[0], DeviceID: parts[1], CommandID: parts[2], Payload: payload}
	if err := validate.Struct(spec); err != nil {
		return commandSpec{}, fmt.Errorf("invalid command %q: %w", s, err)
	}
	return spec, nil
}

type commandSender interface {
	SendCommand(ctx context.Context, typeID, deviceID, commandID string, data []byte, format string, qos client.QoS) error
}

func sendCommand(ctx context.Context, sender commandSender, spec commandSpec) error {
	return sender.SendCommand(ctx, spec.TypeID, spec.DeviceID, spec.CommandID, []byte(spec.Payload), "json", client.QoS1)
}
