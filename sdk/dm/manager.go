package dm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kr/pretty"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/rc"
	"github.com/margo/wiotp-client/sdk/utils"
	"github.com/margo/wiotp-client/shared-lib/pointers"
)

// DefaultResponseTimeout bounds the wait for the platform to answer a
// manage, unmanage or location request.
const DefaultResponseTimeout = 30 * time.Second

type handlerSet struct {
	mu       sync.RWMutex
	handlers map[ActionType]ActionHandler
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[ActionType]ActionHandler)}
}

func (s *handlerSet) get(t ActionType) ActionHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[t]
}

// Manager speaks the device management protocol for one device. A managed
// gateway runs one for itself and one per attached device.
type Manager struct {
	c        *client.Client
	log      *zap.SugaredLogger
	typeID   string
	deviceID string
	pubRoot  string
	subRoot  string
	handlers *handlerSet

	mu              sync.Mutex
	responseTimeout time.Duration
	attrs           Attributes
	observed        map[string]bool
	managed         bool
	pending         map[string]chan response
}

func newManager(c *client.Client, typeID, deviceID, pubRoot, subRoot string, handlers *handlerSet) *Manager {
	return &Manager{
		c:               c,
		log:             c.Logger().With("typeId", typeID, "deviceId", deviceID),
		typeID:          typeID,
		deviceID:        deviceID,
		pubRoot:         pubRoot,
		subRoot:         subRoot,
		handlers:        handlers,
		responseTimeout: DefaultResponseTimeout,
		observed:        make(map[string]bool),
		pending:         make(map[string]chan response),
	}
}

// devicePrefixes returns the outbound and inbound topic prefixes of a
// device reached through a gateway.
func devicePrefixes(typeID, deviceID string) (string, string) {
	scope := fmt.Sprintf("type/%s/id/%s/", typeID, deviceID)
	return client.DeviceTopicRoot + "/" + scope, client.DMTopicRoot + "/" + scope
}

func (m *Manager) TypeID() string   { return m.typeID }
func (m *Manager) DeviceID() string { return m.deviceID }

func (m *Manager) SetResponseTimeout(d time.Duration) {
	m.mu.Lock()
	m.responseTimeout = d
	m.mu.Unlock()
}

// SetAttribute sets one management attribute from its textual form.
// Structured attributes (metadata, deviceInfo, location, mgmt.firmware) take
// JSON and deviceInfo.<field> sets a single device info field.
func (m *Manager) SetAttribute(name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attrs.set(name, value)
}

// SetAttributes replaces every attribute at once.
func (m *Manager) SetAttributes(a Attributes) error {
	if err := validate.Struct(a); err != nil {
		return rc.New(rc.ComponentDM, rc.OperationSetProperty, rc.ParamInvalidValue, err)
	}
	m.mu.Lock()
	m.attrs = a.clone()
	m.mu.Unlock()
	return nil
}

func (m *Manager) Attributes() Attributes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attrs.clone()
}

func (m *Manager) IsManaged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.managed
}

// Observed reports whether the platform currently observes field.
func (m *Manager) Observed(field string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observed[field]
}

func (m *Manager) subscribe(ctx context.Context) error {
	return m.c.Subscribe(ctx, m.subRoot+"#", client.QoS1)
}

// Manage subscribes to device management actions and registers the device
// as managed, waiting for the platform to accept it.
func (m *Manager) Manage(ctx context.Context) error {
	if err := m.subscribe(ctx); err != nil {
		return err
	}

	a := m.Attributes()
	data := manageData{
		Lifetime: a.Lifetime,
		Supports: supports{DeviceActions: a.DeviceActions, FirmwareActions: a.FirmwareActions},
		Metadata: a.Metadata,
	}
	if !a.DeviceInfo.IsZero() {
		data.DeviceInfo = pointers.Ptr(a.DeviceInfo)
	}

	reqID := utils.GenerateReqID()
	resp, err := m.request(ctx, rc.OperationManage, topicManage, reqID, data)
	if err != nil {
		return err
	}
	if resp.RC != RCResponseSuccess {
		return rejected(rc.OperationManage, reqID, resp)
	}

	m.mu.Lock()
	m.managed = true
	m.mu.Unlock()
	m.log.Infow("Device is managed", "reqId", reqID, "lifetime", a.Lifetime)
	return nil
}

// Unmanage tells the platform the device no longer accepts device
// management actions. An empty reqID is generated.
func (m *Manager) Unmanage(ctx context.Context, reqID string) error {
	if reqID == "" {
		reqID = utils.GenerateReqID()
	}
	resp, err := m.request(ctx, rc.OperationUnmanage, topicUnmanage, reqID, nil)
	if err != nil {
		return err
	}
	if resp.RC != RCResponseSuccess {
		return rejected(rc.OperationUnmanage, reqID, resp)
	}

	m.mu.Lock()
	m.managed = false
	m.observed = make(map[string]bool)
	m.mu.Unlock()
	m.log.Infow("Device is no longer managed", "reqId", reqID)
	return nil
}

// UpdateLocation stores loc and reports it to the platform.
func (m *Manager) UpdateLocation(ctx context.Context, loc Location) error {
	if err := validate.Struct(loc); err != nil {
		return rc.New(rc.ComponentDM, rc.OperationAction, rc.ArgsInvalidValue, fmt.Errorf("invalid location: %w", err))
	}
	if loc.MeasuredDateTime == "" {
		loc.MeasuredDateTime = time.Now().UTC().Format(time.RFC3339)
	}

	m.mu.Lock()
	m.attrs.Location = pointers.Ptr(loc)
	m.mu.Unlock()

	reqID := utils.GenerateReqID()
	resp, err := m.request(ctx, rc.OperationAction, topicUpdateLocation, reqID, loc)
	if err != nil {
		return err
	}
	if resp.RC != RCResponseSuccess && resp.RC != RCUpdateSuccess {
		return rejected(rc.OperationAction, reqID, resp)
	}
	return nil
}

func rejected(op rc.Operation, reqID string, resp response) error {
	return rc.Errorf(rc.ComponentDM, op, rc.DMActionFailed, "platform answered %d %s", resp.RC, resp.Message).
		WithContext("reqId", reqID)
}

// request publishes d and waits for the response carrying reqID.
func (m *Manager) request(ctx context.Context, op rc.Operation, suffix, reqID string, d interface{}) (response, error) {
	payload, err := json.Marshal(envelope{D: d, ReqID: reqID})
	if err != nil {
		return response{}, rc.New(rc.ComponentDM, op, rc.Failure, err)
	}

	ch := make(chan response, 1)
	m.mu.Lock()
	m.pending[reqID] = ch
	timeout := m.responseTimeout
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, reqID)
		m.mu.Unlock()
	}()

	m.log.Debugw("Device management request", "topic", m.pubRoot+suffix, "reqId", reqID)
	if err := m.c.Publish(ctx, m.pubRoot+suffix, payload, client.QoS1); err != nil {
		return response{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return response{}, rc.Errorf(rc.ComponentDM, op, rc.Timeout, "no response to %s within %s", suffix, timeout).
			WithContext("reqId", reqID)
	case <-ctx.Done():
		return response{}, rc.New(rc.ComponentDM, op, rc.Timeout, ctx.Err()).WithContext("reqId", reqID)
	}
}

// send publishes a request whose response is only acknowledged.
func (m *Manager) send(ctx context.Context, op rc.Operation, suffix, reqID string, d interface{}) error {
	if reqID == "" {
		return rc.Errorf(rc.ComponentDM, op, rc.ArgsNullValue, "reqId is required")
	}
	payload, err := json.Marshal(envelope{D: d, ReqID: reqID})
	if err != nil {
		return rc.New(rc.ComponentDM, op, rc.Failure, err)
	}

	m.mu.Lock()
	m.pending[reqID] = nil
	timeout := m.responseTimeout
	m.mu.Unlock()

	if err := m.c.Publish(ctx, m.pubRoot+suffix, payload, client.QoS1); err != nil {
		m.dropAck(reqID)
		return err
	}
	// an ack that never comes must not pin the entry
	time.AfterFunc(timeout, func() { m.dropAck(reqID) })
	return nil
}

// dropAck forgets an outstanding acknowledgement. Entries owned by a
// waiting request are left alone.
func (m *Manager) dropAck(reqID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.pending[reqID]; ok && ch == nil {
		delete(m.pending, reqID)
	}
}

// SetActionHandler installs h for actions of type t. ActionAll installs it
// for every type.
func (m *Manager) SetActionHandler(t ActionType, h ActionHandler) error {
	if h == nil {
		return rc.Errorf(rc.ComponentDM, rc.OperationSetHandler, rc.ArgsNullValue, "action handler is nil")
	}
	if !t.Valid() {
		return rc.Errorf(rc.ComponentDM, rc.OperationSetHandler, rc.ArgsInvalidValue, "invalid action type %d", t)
	}

	m.handlers.mu.Lock()
	defer m.handlers.mu.Unlock()
	if t == ActionAll {
		for at := ActionResponse; at < ActionAll; at++ {
			m.handlers.handlers[at] = h
		}
		return nil
	}
	m.handlers.handlers[t] = h
	return nil
}

func (m *Manager) UnsetActionHandler(t ActionType) error {
	if !t.Valid() {
		return rc.Errorf(rc.ComponentDM, rc.OperationSetHandler, rc.ArgsInvalidValue, "invalid action type %d", t)
	}

	m.handlers.mu.Lock()
	defer m.handlers.mu.Unlock()
	if t == ActionAll {
		if len(m.handlers.handlers) == 0 {
			return rc.Errorf(rc.ComponentDM, rc.OperationSetHandler, rc.HandlerNotFound, "no action handlers are set")
		}
		m.handlers.handlers = make(map[ActionType]ActionHandler)
		return nil
	}
	if _, ok := m.handlers.handlers[t]; !ok {
		return rc.Errorf(rc.ComponentDM, rc.OperationSetHandler, rc.HandlerNotFound, "no handler for %s actions", t)
	}
	delete(m.handlers.handlers, t)
	return nil
}

// ActionResponse answers the action identified by reqID.
func (m *Manager) ActionResponse(ctx context.Context, reqID string, code int, message string) error {
	return m.respond(ctx, response{RC: code, ReqID: reqID, Message: message})
}

func (m *Manager) respond(ctx context.Context, resp response) error {
	if resp.ReqID == "" {
		return rc.Errorf(rc.ComponentDM, rc.OperationResponse, rc.ArgsNullValue, "reqId is required")
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return rc.New(rc.ComponentDM, rc.OperationResponse, rc.Failure, err)
	}
	m.log.Debugw("Action response", "reqId", resp.ReqID, "rc", resp.RC, "message", resp.Message)
	return m.c.Publish(ctx, m.pubRoot+topicResponse, payload, client.QoS1)
}

// Notify reports the new value of an observed field.
func (m *Manager) Notify(ctx context.Context, field string, value interface{}) error {
	if field == "" {
		return rc.Errorf(rc.ComponentDM, rc.OperationAction, rc.ArgsNullValue, "field is required")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return rc.New(rc.ComponentDM, rc.OperationAction, rc.ArgsInvalidValue, err)
	}
	var n notification
	n.D.Field = field
	n.D.Value = raw
	payload, err := json.Marshal(n)
	if err != nil {
		return rc.New(rc.ComponentDM, rc.OperationAction, rc.Failure, err)
	}
	return m.c.Publish(ctx, m.pubRoot+topicNotify, payload, client.QoS1)
}

func (m *Manager) SetFirmwareState(ctx context.Context, state FirmwareState) error {
	return m.updateFirmware(ctx, func(fw *Firmware) { fw.State = state })
}

func (m *Manager) SetFirmwareUpdateStatus(ctx context.Context, status FirmwareUpdateStatus) error {
	return m.updateFirmware(ctx, func(fw *Firmware) { fw.UpdateStatus = status })
}

func (m *Manager) updateFirmware(ctx context.Context, change func(*Firmware)) error {
	m.mu.Lock()
	change(&m.attrs.Firmware)
	fw := m.attrs.Firmware
	observed := m.observed[FieldFirmware]
	m.mu.Unlock()

	m.log.Debugw("Firmware attributes changed", "state", fw.State.String(), "updateStatus", fw.UpdateStatus.String())
	if !observed {
		return nil
	}
	return m.Notify(ctx, FieldFirmware, fw)
}

// AddErrorCode appends code to the diagnostic error codes.
func (m *Manager) AddErrorCode(ctx context.Context, reqID string, code int) error {
	return m.send(ctx, rc.OperationDiagnostics, topicAddErrorCode, reqID, errorCode{ErrorCode: code})
}

func (m *Manager) ClearErrorCodes(ctx context.Context, reqID string) error {
	return m.send(ctx, rc.OperationDiagnostics, topicClearErrorCode, reqID, nil)
}

// AddLogEntry appends entry to the diagnostic log. An empty timestamp is
// set to now.
func (m *Manager) AddLogEntry(ctx context.Context, reqID string, entry LogEntry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if entry.Severity < SeverityInfo || entry.Severity > SeverityError {
		return rc.Errorf(rc.ComponentDM, rc.OperationDiagnostics, rc.ArgsInvalidValue, "invalid severity %d", entry.Severity)
	}
	return m.send(ctx, rc.OperationDiagnostics, topicAddLog, reqID, entry)
}

func (m *Manager) ClearLog(ctx context.Context, reqID string) error {
	return m.send(ctx, rc.OperationDiagnostics, topicClearLog, reqID, nil)
}

func (m *Manager) debugAction(a Action) {
	if m.log.Desugar().Core().Enabled(zap.DebugLevel) {
		m.log.Debugw("Device management action", "type", a.Type.String(), "reqId", a.ReqID, "fields", pretty.Sprint(a.Fields))
	}
}

func (m *Manager) timeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.responseTimeout
}
