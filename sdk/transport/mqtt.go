package transport

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const defaultConnectTimeout = 30 * time.Second

// MQTTTransport talks MQTT 3.1.1 to the platform broker. Reconnection is
// driven by the client so that the platform back-off policy applies.
type MQTTTransport struct {
	client mqtt.Client
	config Config
	log    *zap.SugaredLogger
}

func NewMQTTTransport(config Config) *MQTTTransport {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	t := &MQTTTransport{
		config: config,
		log:    config.Logger,
	}

	installTrace(config.TraceLevel, config.TraceHandler, config.Logger)

	opts := mqtt.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetKeepAlive(config.KeepAlive).
		SetCleanSession(config.CleanSession).
		SetConnectTimeout(config.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		// handlers publish responses and wait for the ack
		SetOrderMatters(false).
		SetOnConnectHandler(func(mqtt.Client) {
			t.log.Debugw("MQTT session established", "broker", config.BrokerURL, "clientId", config.ClientID)
			if config.OnConnect != nil {
				config.OnConnect()
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.log.Warnw("MQTT connection lost", "broker", config.BrokerURL, "error", err)
			if config.OnConnectionLost != nil {
				config.OnConnectionLost(err)
			}
		})

	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	if config.TLS != nil {
		opts.SetTLSConfig(config.TLS)
	}

	t.client = mqtt.NewClient(opts)
	return t
}

func (t *MQTTTransport) Connect(ctx context.Context) error {
	t.log.Debugw("Connecting to broker", "broker", t.config.BrokerURL, "clientId", t.config.ClientID)
	if err := wait(ctx, t.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.config.BrokerURL, err)
	}
	return nil
}

func (t *MQTTTransport) Disconnect(quiesce time.Duration) {
	t.client.Disconnect(uint(quiesce.Milliseconds()))
}

func (t *MQTTTransport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}

func (t *MQTTTransport) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if err := wait(ctx, t.client.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (t *MQTTTransport) Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error {
	token := t.client.Subscribe(filter, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{
			Topic:    m.Topic(),
			Payload:  m.Payload(),
			QoS:      m.Qos(),
			Retained: m.Retained(),
		})
	})
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", filter, err)
	}
	return nil
}

func (t *MQTTTransport) Unsubscribe(ctx context.Context, filters ...string) error {
	if err := wait(ctx, t.client.Unsubscribe(filters...)); err != nil {
		return fmt.Errorf("failed to unsubscribe from %v: %w", filters, err)
	}
	return nil
}

func (t *MQTTTransport) Protocol() ProtocolType {
	return MQTT
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
