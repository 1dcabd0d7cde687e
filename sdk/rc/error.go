package rc

import (
	"errors"
	"fmt"
)

type Component string

const (
	ComponentConfig      Component = "config"
	ComponentClient      Component = "client"
	ComponentTransport   Component = "transport"
	ComponentDevice      Component = "device"
	ComponentGateway     Component = "gateway"
	ComponentApplication Component = "application"
	ComponentDM          Component = "dm"
)

type Operation string

const (
	OperationCreate      Operation = "create"
	OperationSetProperty Operation = "set-property"
	OperationReadConfig  Operation = "read-config"
	OperationValidate    Operation = "validate"
	OperationConnect     Operation = "connect"
	OperationDisconnect  Operation = "disconnect"
	OperationPublish     Operation = "publish"
	OperationSubscribe   Operation = "subscribe"
	OperationUnsubscribe Operation = "unsubscribe"
	OperationSetHandler  Operation = "set-handler"
	OperationManage      Operation = "manage"
	OperationUnmanage    Operation = "unmanage"
	OperationAction      Operation = "action"
	OperationResponse    Operation = "response"
	OperationDiagnostics Operation = "diagnostics"
	OperationFirmware    Operation = "firmware"
)

// Error provides structured error handling
type Error struct {
	Component Component
	Operation Operation
	Code      RC
	Err       error
	Retryable bool
	Context   map[string]interface{}
}

func (e *Error) Error() string {
	msg := e.Code.Error()
	if e.Err != nil && !errors.Is(e.Err, e.Code) {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		return fmt.Sprintf("[%s:%s] %s (context: %v)", e.Component, e.Operation, msg, e.Context)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

func New(component Component, operation Operation, code RC, err error) *Error {
	return &Error{
		Component: component,
		Operation: operation,
		Code:      code,
		Err:       err,
		Retryable: code == NotConnected || code == Timeout,
	}
}

// Errorf is New with a formatted cause.
func Errorf(component Component, operation Operation, code RC, format string, args ...interface{}) *Error {
	return New(component, operation, code, fmt.Errorf(format, args...))
}

func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether any Error in the chain is marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
