// Package transporttest provides an in-memory transport for exercising
// clients without a broker.
package transporttest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/margo/wiotp-client/sdk/transport"
)

var ErrNotConnected = errors.New("fake transport not connected")

type Publication struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type subscription struct {
	filter  string
	qos     byte
	handler transport.MessageHandler
}

// Fake records every publish and subscription. Queued ConnectErrors and
// PublishErrors are returned, one per call, before calls start succeeding.
type Fake struct {
	mu sync.Mutex

	Config        transport.Config
	ConnectErrors []error
	PublishErrors []error
	// OnPublish, when set, runs after a publication is recorded and outside
	// the lock, so it may Deliver a reply.
	OnPublish func(p Publication)

	connected    bool
	connects     int
	disconnects  int
	published    []Publication
	subs         []subscription
	unsubscribed []string
}

func New() *Fake {
	return &Fake{}
}

// Factory returns a transport.Factory handing out this fake.
func (f *Fake) Factory() transport.Factory {
	return func(config transport.Config) (transport.Transport, error) {
		f.mu.Lock()
		f.Config = config
		f.mu.Unlock()
		return f, nil
	}
}

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	if len(f.ConnectErrors) > 0 {
		err := f.ConnectErrors[0]
		f.ConnectErrors = f.ConnectErrors[1:]
		f.mu.Unlock()
		return err
	}
	f.connected = true
	onConnect := f.Config.OnConnect
	f.mu.Unlock()

	if onConnect != nil {
		onConnect()
	}
	return nil
}

func (f *Fake) Disconnect(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return ErrNotConnected
	}
	if len(f.PublishErrors) > 0 {
		err := f.PublishErrors[0]
		f.PublishErrors = f.PublishErrors[1:]
		f.mu.Unlock()
		return err
	}
	p := Publication{Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos, Retained: retained}
	f.published = append(f.published, p)
	hook := f.OnPublish
	f.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (f *Fake) Subscribe(ctx context.Context, filter string, qos byte, handler transport.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	for i, s := range f.subs {
		if s.filter == filter {
			f.subs[i] = subscription{filter, qos, handler}
			return nil
		}
	}
	f.subs = append(f.subs, subscription{filter, qos, handler})
	return nil
}

func (f *Fake) Unsubscribe(ctx context.Context, filters ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, filter := range filters {
		f.unsubscribed = append(f.unsubscribed, filter)
		for i, s := range f.subs {
			if s.filter == filter {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (f *Fake) Protocol() transport.ProtocolType {
	return transport.MQTT
}

// Deliver hands a message to every subscription whose filter matches topic
// and returns the number of handlers called.
func (f *Fake) Deliver(topic string, payload []byte) int {
	f.mu.Lock()
	var handlers []transport.MessageHandler
	for _, s := range f.subs {
		if transport.Match(s.filter, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(transport.Message{Topic: topic, Payload: payload})
	}
	return len(handlers)
}

// DropConnection simulates a broker side disconnect.
func (f *Fake) DropConnection(err error) {
	f.mu.Lock()
	f.connected = false
	lost := f.Config.OnConnectionLost
	f.mu.Unlock()

	if lost != nil {
		lost(err)
	}
}

func (f *Fake) Published() []Publication {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Publication(nil), f.published...)
}

// LastPublished returns the most recent publication, or false if none.
func (f *Fake) LastPublished() (Publication, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return Publication{}, false
	}
	return f.published[len(f.published)-1], true
}

func (f *Fake) Subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	filters := make([]string, 0, len(f.subs))
	for _, s := range f.subs {
		filters = append(filters, s.filter)
	}
	return filters
}

func (f *Fake) Unsubscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *Fake) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = nil
	f.unsubscribed = nil
}
