package dm

import (
	"context"
	"encoding/json"
)

// Field is one entry of the fields list carried by update, observe and
// cancel requests.
type Field struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Action is a platform initiated request. TypeID and DeviceID name the
// device it targets, which for a gateway may be an attached device.
type Action struct {
	Type     ActionType
	ReqID    string
	TypeID   string
	DeviceID string
	Payload  []byte
	Fields   []Field

	manager *Manager
}

// Respond answers the action with code and an optional message.
func (a Action) Respond(ctx context.Context, code int, message string) error {
	return a.manager.ActionResponse(ctx, a.ReqID, code, message)
}

// Manager returns the manager of the device the action targets.
func (a Action) Manager() *Manager {
	return a.manager
}

type ActionHandler func(Action)

type LogEntry struct {
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	Data      string   `json:"data,omitempty"`
	Severity  Severity `json:"severity"`
}

type actionRequest struct {
	ReqID string `json:"reqId"`
	D     struct {
		Fields []Field `json:"fields,omitempty"`
	} `json:"d"`
}

type response struct {
	RC      int             `json:"rc"`
	ReqID   string          `json:"reqId"`
	Message string          `json:"message,omitempty"`
	D       json.RawMessage `json:"d,omitempty"`
}

type supports struct {
	DeviceActions   bool `json:"deviceActions"`
	FirmwareActions bool `json:"firmwareActions"`
}

type manageData struct {
	Lifetime   int                    `json:"lifetime"`
	Supports   supports               `json:"supports"`
	DeviceInfo *DeviceInfo            `json:"deviceInfo,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type envelope struct {
	D     interface{} `json:"d,omitempty"`
	ReqID string      `json:"reqId"`
}

type notification struct {
	D struct {
		Field string          `json:"field"`
		Value json.RawMessage `json:"value"`
	} `json:"d"`
}

type errorCode struct {
	ErrorCode int `json:"errorCode"`
}
