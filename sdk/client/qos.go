package client

import (
	"time"
)

// QoS is the MQTT delivery guarantee of a publish or subscription.
type QoS byte

const (
	QoS0 QoS = 0 // at most once
	QoS1 QoS = 1 // at least once
	QoS2 QoS = 2 // exactly once
)

func (q QoS) Valid() bool {
	return q <= QoS2
}

// ReconnectDelay is the wait before reconnect attempt n (zero based): every
// 3 seconds for the first 10 attempts, every minute for the next 10, then
// every 10 minutes.
func ReconnectDelay(attempt int) time.Duration {
	switch {
	case attempt < 10:
		return 3 * time.Second
	case attempt < 20:
		return time.Minute
	}
	return 10 * time.Minute
}
