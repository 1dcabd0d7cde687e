package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/metrics"
	"github.com/margo/wiotp-client/sdk/transport"
)

type Option func(*Client)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTransportFactory replaces the transport constructor, mainly for tests.
func WithTransportFactory(factory transport.Factory) Option {
	return func(c *Client) {
		c.factory = factory
	}
}

func WithMetrics(m *metrics.ClientMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithProtocol selects MQTT (default) or the publish-only HTTP API.
func WithProtocol(p transport.ProtocolType) Option {
	return func(c *Client) {
		c.protocol = p
	}
}

// WithBackoff overrides ReconnectDelay.
func WithBackoff(backoff func(attempt int) time.Duration) Option {
	return func(c *Client) {
		c.backoff = backoff
	}
}

// WithSubscribeWait bounds how long Subscribe waits for a connection.
func WithSubscribeWait(d time.Duration) Option {
	return func(c *Client) {
		c.subscribeWait = d
	}
}

// WithoutAutoReconnect stops the client from reconnecting after a lost
// connection.
func WithoutAutoReconnect() Option {
	return func(c *Client) {
		c.autoReconnect = false
	}
}

// AsManaged turns a device or gateway client into its managed variant.
func AsManaged() Option {
	return func(c *Client) {
		c.clientType = c.clientType.Managed()
	}
}
