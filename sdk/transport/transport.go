package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned by transports that cannot perform an operation,
// e.g. subscriptions over HTTP.
var ErrNotSupported = errors.New("operation not supported by transport")

// Transport defines the common interface for all transport protocols
type Transport interface {
	// Connect opens the session with the platform
	Connect(ctx context.Context) error

	// Disconnect closes the session, waiting up to quiesce for in-flight work
	Disconnect(quiesce time.Duration)

	IsConnected() bool

	// Publish sends payload to topic
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error

	// Subscribe registers handler for every message matching filter
	Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error

	Unsubscribe(ctx context.Context, filters ...string) error

	// Protocol returns the transport protocol type
	Protocol() ProtocolType
}

// Message is an inbound publication.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type MessageHandler func(Message)

type ProtocolType string

const (
	MQTT  ProtocolType = "mqtt"
	HTTP1 ProtocolType = "http1.1"
)
