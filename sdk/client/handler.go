package client

import (
	"context"

	"github.com/margo/wiotp-client/sdk/rc"
	"github.com/margo/wiotp-client/sdk/transport"
)

type handlerEntry struct {
	kind    Kind
	filter  string
	handler CallbackHandler
}

// handlerTable resolves a message to the most recently registered handler
// whose filter matches, falling back to the global handler of the kind.
type handlerTable struct {
	entries []handlerEntry
	globals map[Kind]CallbackHandler
}

func newHandlerTable() handlerTable {
	return handlerTable{globals: make(map[Kind]CallbackHandler)}
}

func (t *handlerTable) set(kind Kind, filter string, h CallbackHandler) {
	if filter == "" {
		t.globals[kind] = h
		return
	}
	for i, e := range t.entries {
		if e.kind == kind && e.filter == filter {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	t.entries = append(t.entries, handlerEntry{kind, filter, h})
}

func (t *handlerTable) remove(kind Kind, filter string) bool {
	if filter == "" {
		if _, ok := t.globals[kind]; !ok {
			return false
		}
		delete(t.globals, kind)
		return true
	}
	for i, e := range t.entries {
		if e.kind == kind && e.filter == filter {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (t *handlerTable) lookup(kind Kind, topic string) CallbackHandler {
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.kind == kind && transport.Match(e.filter, topic) {
			return e.handler
		}
	}
	return t.globals[kind]
}

// SetHandler registers h for messages of kind arriving on topics matching
// filter. An empty filter sets the global handler of the kind.
func (c *Client) SetHandler(kind Kind, filter string, h CallbackHandler) error {
	if err := c.checkHandle(rc.OperationSetHandler); err != nil {
		return err
	}
	if h == nil {
		return rc.Errorf(rc.ComponentClient, rc.OperationSetHandler, rc.HandlerInvalid, "handler is nil")
	}
	c.mu.Lock()
	c.handlers.set(kind, filter, h)
	c.mu.Unlock()
	c.log.Debugw("Handler registered", "kind", kind.String(), "topic", filter)
	return nil
}

func (c *Client) RemoveHandler(kind Kind, filter string) error {
	if err := c.checkHandle(rc.OperationSetHandler); err != nil {
		return err
	}
	c.mu.Lock()
	removed := c.handlers.remove(kind, filter)
	c.mu.Unlock()
	if !removed {
		return rc.Errorf(rc.ComponentClient, rc.OperationSetHandler, rc.HandlerNotFound, "no %s handler for %q", kind, filter)
	}
	return nil
}

// Handle registers h for filter and subscribes to it.
func (c *Client) Handle(ctx context.Context, kind Kind, filter string, qos QoS, h CallbackHandler) error {
	if err := c.SetHandler(kind, filter, h); err != nil {
		return err
	}
	return c.Subscribe(ctx, filter, qos)
}
