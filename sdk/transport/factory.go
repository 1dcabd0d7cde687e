package transport

import (
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/logging"
)

type Config struct {
	Protocol ProtocolType
	// BrokerURL is tcp://, ssl://, ws:// or wss:// for MQTT and the API base
	// URL for HTTP.
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLS       *tls.Config

	KeepAlive      time.Duration
	CleanSession   bool
	ConnectTimeout time.Duration

	// HTTP publishing addresses device events by type and id, and uses the
	// application API when Application is set.
	TypeID      string
	DeviceID    string
	Application bool

	OnConnect        func()
	OnConnectionLost func(err error)

	Logger       *zap.SugaredLogger
	TraceLevel   string
	TraceHandler logging.Handler
}

// Factory creates a transport. Clients take a Factory so tests can swap in
// an in-memory implementation.
type Factory func(config Config) (Transport, error)

func NewTransport(config Config) (Transport, error) {
	if config.Logger == nil {
		config.Logger = logging.Nop()
	}
	switch config.Protocol {
	case MQTT, "":
		return NewMQTTTransport(config), nil
	case HTTP1:
		return NewHTTP1Transport(config), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", config.Protocol)
	}
}
