package dm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/margo/wiotp-client/sdk/rc"
	"github.com/margo/wiotp-client/sdk/transport"
)

// handleMessage dispatches a message received below the inbound prefix.
func (m *Manager) handleMessage(msg transport.Message) {
	suffix := strings.TrimPrefix(msg.Topic, m.subRoot)
	t, ok := actionTopics[suffix]
	if !ok {
		m.log.Warnw("Unsupported device management topic", "topic", msg.Topic)
		return
	}
	m.c.Metrics().ActionReceived(t.String())

	if t == ActionResponse {
		m.handleResponse(msg.Payload)
		return
	}

	var req actionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		m.log.Warnw("Failed to parse device management action", "topic", msg.Topic, "rc", rc.DMResponseParseError.Name(), "error", err)
		return
	}
	if req.ReqID == "" {
		m.log.Warnw("Device management action without reqId", "topic", msg.Topic, "rc", rc.DMResponseNullReqID.Name())
		return
	}

	a := Action{
		Type:     t,
		ReqID:    req.ReqID,
		TypeID:   m.typeID,
		DeviceID: m.deviceID,
		Payload:  msg.Payload,
		Fields:   req.D.Fields,
		manager:  m,
	}
	m.debugAction(a)

	m.mu.Lock()
	timeout := m.responseTimeout
	m.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch t {
	case ActionUpdate:
		m.handleUpdate(ctx, a)
	case ActionObserve:
		m.handleObserve(ctx, a)
	case ActionCancel:
		m.handleCancel(ctx, a)
	case ActionReboot:
		m.invoke(ctx, a, RCRebootNotSupported)
	case ActionFactoryReset:
		m.invoke(ctx, a, RCFactoryResetNotSupported)
	case ActionFirmwareDownload:
		m.handleFirmwareDownload(ctx, a)
	case ActionFirmwareUpdate:
		m.handleFirmwareUpdate(ctx, a)
	}
}

func (m *Manager) handleResponse(payload []byte) {
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		m.log.Warnw("Failed to parse device management response", "rc", rc.DMResponseParseError.Name(), "error", err)
		return
	}
	if resp.ReqID == "" {
		m.log.Warnw("Device management response without reqId", "rc", rc.DMResponseNullReqID.Name())
		return
	}

	m.mu.Lock()
	ch, ok := m.pending[resp.ReqID]
	if ok && ch == nil {
		delete(m.pending, resp.ReqID)
	}
	m.mu.Unlock()

	switch {
	case !ok:
		m.log.Warnw("Response for an unknown request", "reqId", resp.ReqID, "rc", rc.DMResponseInvalidReqID.Name())
	case ch == nil:
		m.log.Debugw("Request acknowledged", "reqId", resp.ReqID, "rc", resp.RC)
	default:
		select {
		case ch <- resp:
		default:
		}
	}

	if h := m.handlers.get(ActionResponse); h != nil {
		h(Action{Type: ActionResponse, ReqID: resp.ReqID, TypeID: m.typeID, DeviceID: m.deviceID, Payload: payload, manager: m})
	}
}

func (m *Manager) reply(ctx context.Context, a Action, code int, message string) {
	if err := a.Respond(ctx, code, message); err != nil {
		m.log.Errorw("Failed to answer device management action", "type", a.Type.String(), "reqId", a.ReqID, "error", err)
	}
}

// invoke calls the handler for a, or answers with notSupported when no
// handler is set.
func (m *Manager) invoke(ctx context.Context, a Action, notSupported int) {
	h := m.handlers.get(a.Type)
	if h == nil {
		m.log.Warnw("No handler for device management action", "type", a.Type.String(), "reqId", a.ReqID,
			"rc", rc.DMActionNoCallback.Name())
		m.reply(ctx, a, notSupported, rc.DMActionNoCallback.String())
		return
	}
	h(a)
}

func (m *Manager) notifyHandler(a Action) {
	if h := m.handlers.get(a.Type); h != nil {
		h(a)
	}
}

func (m *Manager) handleUpdate(ctx context.Context, a Action) {
	m.mu.Lock()
	next := m.attrs.clone()
	var err error
	for _, f := range a.Fields {
		if err = next.applyField(f); err != nil {
			break
		}
	}
	if err == nil {
		m.attrs = next
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Warnw("Rejected attribute update", "reqId", a.ReqID, "error", err)
		m.reply(ctx, a, RCBadRequest, err.Error())
		return
	}
	m.reply(ctx, a, RCUpdateSuccess, "")
	m.notifyHandler(a)
}

func (m *Manager) handleObserve(ctx context.Context, a Action) {
	fields := make([]Field, 0, len(a.Fields))
	m.mu.Lock()
	for _, f := range a.Fields {
		value, ok := m.attrs.fieldValue(f.Field)
		if !ok {
			continue
		}
		m.observed[f.Field] = true
		fields = append(fields, Field{Field: f.Field, Value: value})
	}
	m.mu.Unlock()

	var d struct {
		Fields []Field `json:"fields"`
	}
	d.Fields = fields
	raw, err := json.Marshal(d)
	if err != nil {
		m.reply(ctx, a, RCBadRequest, err.Error())
		return
	}
	if err := m.respond(ctx, response{RC: RCResponseSuccess, ReqID: a.ReqID, D: raw}); err != nil {
		m.log.Errorw("Failed to answer observe", "reqId", a.ReqID, "error", err)
	}
	m.notifyHandler(a)
}

func (m *Manager) handleCancel(ctx context.Context, a Action) {
	m.mu.Lock()
	for _, f := range a.Fields {
		delete(m.observed, f.Field)
	}
	m.mu.Unlock()

	m.reply(ctx, a, RCResponseSuccess, "")
	m.notifyHandler(a)
}

func (m *Manager) handleFirmwareDownload(ctx context.Context, a Action) {
	fw := m.Attributes().Firmware
	if fw.State != FirmwareIdle {
		m.reply(ctx, a, RCBadRequest, "firmware is already "+fw.State.String())
		return
	}
	if fw.URI == "" {
		if err := m.SetFirmwareUpdateStatus(ctx, FirmwareInvalidURL); err != nil {
			m.log.Warnw("Failed to report firmware status", "error", err)
		}
		m.reply(ctx, a, RCBadRequest, "firmware uri is not set")
		return
	}
	m.invoke(ctx, a, rcNotImplemented)
}

func (m *Manager) handleFirmwareUpdate(ctx context.Context, a Action) {
	fw := m.Attributes().Firmware
	if fw.State != FirmwareDownloaded {
		m.reply(ctx, a, RCBadRequest, "firmware is not downloaded")
		return
	}
	m.invoke(ctx, a, rcNotImplemented)
}
