package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/logging"
	"github.com/margo/wiotp-client/sdk/metrics"
	"github.com/margo/wiotp-client/sdk/rc"
	"github.com/margo/wiotp-client/sdk/transport"
	"github.com/margo/wiotp-client/shared-lib/crypto"
)

const (
	tokenAuthUsername    = "use-token-auth"
	defaultSubscribeWait = 10 * time.Second
	disconnectQuiesce    = 250 * time.Millisecond
	connectedPoll        = 100 * time.Millisecond
)

// CallbackHandler receives parsed events, commands, notifications and
// monitoring messages.
type CallbackHandler func(Message)

// EventCallback reports the outcome of every publish.
type EventCallback func(topic string, err error)

type subscription struct {
	filter string
	qos    QoS
}

// Client is the connection core shared by devices, gateways and
// applications. It owns the transport, subscriptions and handler table.
type Client struct {
	cfg        *config.Config
	clientType config.ClientType
	clientID   string
	brokerURL  string
	tlsConfig  *tls.Config
	username   string
	password   string

	log           *zap.SugaredLogger
	factory       transport.Factory
	protocol      transport.ProtocolType
	metrics       *metrics.ClientMetrics
	backoff       func(attempt int) time.Duration
	subscribeWait time.Duration
	autoReconnect bool

	mu            sync.RWMutex
	tr            transport.Transport
	subs          []subscription
	handlers      handlerTable
	dmHandler     transport.MessageHandler
	eventCallback EventCallback
	traceHandler  logging.Handler
	destroyed     bool

	lifeCtx      context.Context
	lifeCancel   context.CancelFunc
	reconnecting atomic.Bool
}

// New validates cfg for clientType and prepares a client. No network I/O
// happens until Connect.
func New(cfg *config.Config, clientType config.ClientType, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, rc.Errorf(rc.ComponentClient, rc.OperationCreate, rc.InvalidHandle, "configuration is nil")
	}

	c := &Client{
		cfg:           cfg,
		clientType:    clientType,
		log:           logging.Nop(),
		factory:       transport.NewTransport,
		protocol:      transport.MQTT,
		backoff:       ReconnectDelay,
		subscribeWait: defaultSubscribeWait,
		autoReconnect: true,
		handlers:      newHandlerTable(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if !c.clientType.Valid() {
		return nil, rc.Errorf(rc.ComponentClient, rc.OperationCreate, rc.ParamInvalidValue, "invalid client type %d", clientType)
	}
	if err := cfg.Validate(c.clientType); err != nil {
		return nil, err
	}

	c.clientID = ClientID(cfg, c.clientType)
	c.brokerURL = BrokerURL(cfg, c.protocol)
	c.username, c.password = credentials(cfg, c.clientType)

	if needsTLS(c.brokerURL) {
		caFile := cfg.Options.MQTT.CAFile
		validate := cfg.Options.MQTT.ValidateServerCert
		if c.protocol == transport.HTTP1 {
			caFile = cfg.Options.HTTP.CAFile
			validate = cfg.Options.HTTP.ValidateServerCert
		}
		tlsConfig, err := crypto.NewTLSConfig(crypto.TLSOptions{
			CAFile:             caFile,
			CertFile:           cfg.Auth.KeyStore,
			KeyFile:            cfg.Auth.PrivateKey,
			KeyPassword:        cfg.Auth.PrivateKeyPassword,
			ValidateServerCert: validate,
		})
		if err != nil {
			return nil, rc.New(rc.ComponentClient, rc.OperationCreate, rc.CertCallback, err)
		}
		c.tlsConfig = tlsConfig
	}

	c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())

	c.log.Infow("Client created",
		"clientType", c.clientType.String(),
		"clientId", c.clientID,
		"broker", c.brokerURL,
		"protocol", c.protocol,
	)
	return c, nil
}

// ClientID derives the MQTT client identifier for cfg.
func ClientID(cfg *config.Config, clientType config.ClientType) string {
	id := cfg.Identity
	switch {
	case clientType.IsDevice():
		return fmt.Sprintf("d:%s:%s:%s", id.OrgID, id.TypeID, id.DeviceID)
	case clientType.IsGateway():
		return fmt.Sprintf("g:%s:%s:%s", id.OrgID, id.TypeID, id.DeviceID)
	case clientType == config.ScalableApplication || (clientType == config.Application && cfg.Options.MQTT.SharedSubscription):
		return fmt.Sprintf("A:%s:%s", id.OrgID, id.AppID)
	}
	return fmt.Sprintf("a:%s:%s", id.OrgID, id.AppID)
}

// BrokerURL derives the connection URL for cfg. Port 1883 is plain text,
// 443 and 8883 use TLS.
func BrokerURL(cfg *config.Config, protocol transport.ProtocolType) string {
	port := cfg.Options.MQTT.Port
	secure := port != 1883

	if protocol == transport.HTTP1 {
		if secure {
			return fmt.Sprintf("https://%s/api/v0002", cfg.HTTPHost())
		}
		return fmt.Sprintf("http://%s/api/v0002", cfg.HTTPHost())
	}

	scheme := "tcp"
	if secure {
		scheme = "ssl"
	}
	if cfg.Options.MQTT.Transport == "websockets" {
		scheme = "ws"
		if secure {
			scheme = "wss"
		}
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerHost(), port)
}

func credentials(cfg *config.Config, clientType config.ClientType) (string, string) {
	switch {
	case cfg.IsQuickstart():
		return "", ""
	case clientType.IsApplication():
		return cfg.Auth.Key, cfg.Auth.Token
	case cfg.Auth.Token != "":
		return tokenAuthUsername, cfg.Auth.Token
	}
	return "", ""
}

func needsTLS(url string) bool {
	for _, scheme := range []string{"ssl://", "wss://", "https://"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}

func (c *Client) Config() *config.Config { return c.cfg }
func (c *Client) ClientType() config.ClientType { return c.clientType }
func (c *Client) ClientID() string { return c.clientID }
func (c *Client) BrokerURL() string { return c.brokerURL }
func (c *Client) Logger() *zap.SugaredLogger { return c.log }
func (c *Client) Metrics() *metrics.ClientMetrics { return c.metrics }
func (c *Client) Protocol() transport.ProtocolType { return c.protocol }

func (c *Client) checkHandle(op rc.Operation) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed {
		return rc.Errorf(rc.ComponentClient, op, rc.InvalidHandle, "client has been destroyed")
	}
	return nil
}

// SetMQTTLogHandler routes MQTT library trace output to h. It only has an
// effect when options.mqtt.traceLevel is set and must be called before the
// first Connect.
func (c *Client) SetMQTTLogHandler(h logging.Handler) error {
	if err := c.checkHandle(rc.OperationSetHandler); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr != nil {
		return rc.Errorf(rc.ComponentClient, rc.OperationSetHandler, rc.HandleInUse, "transport already created")
	}
	c.traceHandler = h
	return nil
}

// SetEventCallback registers cb to be told the result of every publish.
func (c *Client) SetEventCallback(cb EventCallback) error {
	if err := c.checkHandle(rc.OperationSetHandler); err != nil {
		return err
	}
	c.mu.Lock()
	c.eventCallback = cb
	c.mu.Unlock()
	return nil
}

// SetDMHandler receives every message on a device management topic.
func (c *Client) SetDMHandler(h transport.MessageHandler) {
	c.mu.Lock()
	c.dmHandler = h
	c.mu.Unlock()
}

func (c *Client) ensureTransport() (transport.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr != nil {
		return c.tr, nil
	}

	tr, err := c.factory(transport.Config{
		Protocol:         c.protocol,
		BrokerURL:        c.brokerURL,
		ClientID:         c.clientID,
		Username:         c.username,
		Password:         c.password,
		TLS:              c.tlsConfig,
		KeepAlive:        time.Duration(c.cfg.Options.MQTT.KeepAlive) * time.Second,
		CleanSession:     c.cfg.Options.MQTT.CleanSession,
		TypeID:           c.cfg.Identity.TypeID,
		DeviceID:         c.cfg.Identity.DeviceID,
		Application:      c.clientType.IsApplication(),
		OnConnectionLost: c.onConnectionLost,
		Logger:           c.log,
		TraceLevel:       c.cfg.Options.MQTT.TraceLevel,
		TraceHandler:     c.traceHandler,
	})
	if err != nil {
		return nil, rc.New(rc.ComponentClient, rc.OperationConnect, rc.Failure, err)
	}
	c.tr = tr
	return tr, nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	tr := c.tr
	c.mu.RUnlock()
	return tr != nil && tr.IsConnected()
}

// Connect makes a single connection attempt and restores subscriptions.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.checkHandle(rc.OperationConnect); err != nil {
		return err
	}
	tr, err := c.ensureTransport()
	if err != nil {
		return err
	}
	if tr.IsConnected() {
		return nil
	}

	if err := tr.Connect(ctx); err != nil {
		c.log.Warnw("Failed to connect", "clientId", c.clientID, "broker", c.brokerURL, "error", err)
		return rc.New(rc.ComponentClient, rc.OperationConnect, rc.NotConnected, err).WithContext("broker", c.brokerURL)
	}

	c.mu.Lock()
	if c.lifeCtx.Err() != nil {
		c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	c.metrics.SetConnected(c.clientType.String(), true)
	c.log.Infow("Connected", "clientId", c.clientID, "broker", c.brokerURL)

	c.resubscribe(ctx, tr)
	return nil
}

// ConnectWithRetry keeps calling Connect, sleeping ReconnectDelay between
// attempts, until it succeeds or ctx ends.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if code := rc.Of(err); code != rc.NotConnected {
			return err
		}

		delay := c.backoff(attempt)
		c.metrics.Reconnecting(c.clientType.String())
		c.log.Warnw("Connection attempt failed", "attempt", attempt+1, "retryIn", delay, "error", err)

		select {
		case <-ctx.Done():
			return rc.New(rc.ComponentClient, rc.OperationConnect, rc.Timeout, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Client) onConnectionLost(err error) {
	c.metrics.SetConnected(c.clientType.String(), false)
	c.log.Warnw("Connection to platform lost", "clientId", c.clientID, "error", err)

	c.mu.RLock()
	ctx := c.lifeCtx
	destroyed := c.destroyed
	c.mu.RUnlock()

	if !c.autoReconnect || destroyed || ctx.Err() != nil {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.reconnecting.Store(false)
		if err := c.ConnectWithRetry(ctx); err != nil {
			c.log.Errorw("Gave up reconnecting", "clientId", c.clientID, "error", err)
		}
	}()
}

// Disconnect closes the session. It does nothing when not connected.
func (c *Client) Disconnect() error {
	if err := c.checkHandle(rc.OperationDisconnect); err != nil {
		return err
	}
	return c.disconnect()
}

func (c *Client) disconnect() error {
	c.mu.Lock()
	tr := c.tr
	c.lifeCancel()
	c.mu.Unlock()

	if tr == nil || !tr.IsConnected() {
		return nil
	}
	tr.Disconnect(disconnectQuiesce)
	c.metrics.SetConnected(c.clientType.String(), false)
	c.log.Infow("Disconnected", "clientId", c.clientID)
	return nil
}

// Destroy disconnects and releases the client. Every later call fails with
// InvalidHandle.
func (c *Client) Destroy() error {
	if err := c.checkHandle(rc.OperationDisconnect); err != nil {
		return err
	}
	if err := c.disconnect(); err != nil {
		c.log.Warnw("Failed to disconnect the client", "error", err)
	}

	c.mu.Lock()
	c.destroyed = true
	c.handlers = newHandlerTable()
	c.subs = nil
	c.dmHandler = nil
	c.eventCallback = nil
	c.mu.Unlock()

	c.log.Infow("Client destroyed", "clientId", c.clientID)
	return nil
}

// Publish sends payload to topic. When the send fails the connection is
// re-established (bounded by ctx) and the message is published once more.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos QoS) error {
	if err := c.checkHandle(rc.OperationPublish); err != nil {
		return err
	}
	if !qos.Valid() {
		return rc.Errorf(rc.ComponentClient, rc.OperationPublish, rc.ArgsInvalidValue, "invalid qos %d", qos)
	}

	c.mu.RLock()
	tr := c.tr
	c.mu.RUnlock()
	if tr == nil {
		return c.published(topic, rc.Errorf(rc.ComponentClient, rc.OperationPublish, rc.NotConnected, "client has never connected"))
	}

	c.log.Debugw("Publish message", "topic", topic, "qos", qos, "payloadLen", len(payload))

	err := tr.Publish(ctx, topic, byte(qos), false, payload)
	if err != nil {
		c.log.Warnw("Publish failed, retrying connection and republishing", "topic", topic, "error", err)
		if !tr.IsConnected() {
			if cerr := c.ConnectWithRetry(ctx); cerr != nil {
				c.metrics.PublishFailed(c.clientType.String())
				return c.published(topic, rc.New(rc.ComponentClient, rc.OperationPublish, rc.NotConnected, cerr).WithContext("topic", topic))
			}
		}
		err = tr.Publish(ctx, topic, byte(qos), false, payload)
	}
	if err != nil {
		c.metrics.PublishFailed(c.clientType.String())
		code := rc.Failure
		if !tr.IsConnected() {
			code = rc.NotConnected
		}
		return c.published(topic, rc.New(rc.ComponentClient, rc.OperationPublish, code, err).WithContext("topic", topic))
	}
	c.metrics.Published(c.clientType.String(), publishKind(topic))
	return c.published(topic, nil)
}

func (c *Client) published(topic string, err error) error {
	c.mu.RLock()
	cb := c.eventCallback
	c.mu.RUnlock()
	if cb != nil {
		cb(topic, err)
	}
	return err
}

func publishKind(topic string) string {
	if strings.HasPrefix(topic, DeviceTopicRoot+"/") {
		return "dm"
	}
	if m, err := ParseTopic(topic); err == nil {
		return m.Kind.String()
	}
	return "unknown"
}

// Subscribe waits for the connection, subscribes to filter and remembers it
// so it is restored after a reconnect.
func (c *Client) Subscribe(ctx context.Context, filter string, qos QoS) error {
	if err := c.checkHandle(rc.OperationSubscribe); err != nil {
		return err
	}
	if filter == "" {
		return rc.Errorf(rc.ComponentClient, rc.OperationSubscribe, rc.ArgsNullValue, "topic filter is empty")
	}
	if !qos.Valid() {
		return rc.Errorf(rc.ComponentClient, rc.OperationSubscribe, rc.ArgsInvalidValue, "invalid qos %d", qos)
	}

	tr, err := c.waitConnected(ctx)
	if err != nil {
		return err
	}

	if err := tr.Subscribe(ctx, filter, byte(qos), c.route); err != nil {
		return rc.New(rc.ComponentClient, rc.OperationSubscribe, rc.Failure, err).WithContext("topic", filter)
	}

	c.mu.Lock()
	found := false
	for i := range c.subs {
		if c.subs[i].filter == filter {
			c.subs[i].qos = qos
			found = true
		}
	}
	if !found {
		c.subs = append(c.subs, subscription{filter, qos})
	}
	c.mu.Unlock()

	c.log.Debugw("Subscribed", "topic", filter, "qos", qos)
	return nil
}

func (c *Client) waitConnected(ctx context.Context) (transport.Transport, error) {
	deadline := time.NewTimer(c.subscribeWait)
	defer deadline.Stop()
	ticker := time.NewTicker(connectedPoll)
	defer ticker.Stop()

	for {
		c.mu.RLock()
		tr := c.tr
		c.mu.RUnlock()
		if tr != nil && tr.IsConnected() {
			return tr, nil
		}

		select {
		case <-ctx.Done():
			return nil, rc.New(rc.ComponentClient, rc.OperationSubscribe, rc.NotConnected, ctx.Err())
		case <-deadline.C:
			return nil, rc.Errorf(rc.ComponentClient, rc.OperationSubscribe, rc.NotConnected, "not connected after %s", c.subscribeWait)
		case <-ticker.C:
			c.log.Debugw("Client is not connected yet, waiting to subscribe")
		}
	}
}

// Unsubscribe drops filter. It is forgotten even when the client is offline.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	if err := c.checkHandle(rc.OperationUnsubscribe); err != nil {
		return err
	}
	if filter == "" {
		return rc.Errorf(rc.ComponentClient, rc.OperationUnsubscribe, rc.ArgsNullValue, "topic filter is empty")
	}

	c.mu.Lock()
	for i := range c.subs {
		if c.subs[i].filter == filter {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	tr := c.tr
	c.mu.Unlock()

	if tr == nil || !tr.IsConnected() {
		return nil
	}
	if err := tr.Unsubscribe(ctx, filter); err != nil {
		return rc.New(rc.ComponentClient, rc.OperationUnsubscribe, rc.Failure, err).WithContext("topic", filter)
	}
	c.log.Debugw("Unsubscribed", "topic", filter)
	return nil
}

// Subscriptions lists the active subscription filters.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filters := make([]string, 0, len(c.subs))
	for _, s := range c.subs {
		filters = append(filters, s.filter)
	}
	return filters
}

func (c *Client) resubscribe(ctx context.Context, tr transport.Transport) {
	c.mu.RLock()
	subs := append([]subscription(nil), c.subs...)
	c.mu.RUnlock()

	for _, s := range subs {
		if err := tr.Subscribe(ctx, s.filter, byte(s.qos), c.route); err != nil {
			c.log.Errorw("Failed to restore subscription", "topic", s.filter, "error", err)
			continue
		}
		c.log.Debugw("Restored subscription", "topic", s.filter)
	}
}

// route dispatches an inbound message to the device management hook or the
// matching callback handler.
func (c *Client) route(msg transport.Message) {
	if strings.HasPrefix(msg.Topic, DMTopicRoot+"/") {
		c.metrics.Received(c.clientType.String(), "dm")
		c.mu.RLock()
		h := c.dmHandler
		c.mu.RUnlock()
		if h == nil {
			c.log.Warnw("Device management message dropped, no handler", "topic", msg.Topic)
			return
		}
		h(msg)
		return
	}

	m, err := ParseTopic(msg.Topic)
	if err != nil {
		c.log.Warnw("Dropping message on unrecognised topic", "topic", msg.Topic)
		return
	}
	m.Payload = msg.Payload
	c.metrics.Received(c.clientType.String(), m.Kind.String())

	c.mu.RLock()
	h := c.handlers.lookup(m.Kind, m.Topic)
	c.mu.RUnlock()
	if h == nil {
		c.log.Warnw("No handler registered for message", "kind", m.Kind.String(), "topic", m.Topic)
		return
	}
	h(m)
}
