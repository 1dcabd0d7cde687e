package types

import (
	"fmt"
)

type AgentComponent string

const (
	AgentComponentConfig   AgentComponent = "config"
	AgentComponentDatabase AgentComponent = "database"
	AgentComponentManage   AgentComponent = "manage"
	AgentComponentExecutor AgentComponent = "executor"
	AgentComponentMonitor  AgentComponent = "monitor"
)

type AgentOperation string

const (
	OperationReadingConfig       AgentOperation = "reading-config"
	OperationValidatingConfig    AgentOperation = "validating-config"
	OperationReadingClientConfig AgentOperation = "reading-client-config"
	OperationConnecting          AgentOperation = "connecting"
	OperationManaging            AgentOperation = "managing"
	OperationUnmanaging          AgentOperation = "unmanaging"
	OperationRebooting           AgentOperation = "rebooting"
	OperationFactoryReset        AgentOperation = "factory-reset"
	OperationFirmwareDownload    AgentOperation = "firmware-download"
	OperationFirmwareUpdate      AgentOperation = "firmware-update"
	OperationSamplingHealth      AgentOperation = "sampling-health"
	OperationDatabaseRead        AgentOperation = "database-read"
	OperationDatabaseWrite       AgentOperation = "database-write"
)

// AgentError provides structured error handling
type AgentError struct {
	Component AgentComponent
	Operation AgentOperation
	Err       error
	Retryable bool
	Context   map[string]interface{}
}

func (e AgentError) Error() string {
	if len(e.Context) > 0 {
		return fmt.Sprintf("[%s:%s] %v (context: %v)", e.Component, e.Operation, e.Err, e.Context)
	}
	return fmt.Sprintf("[%s:%s] %v", e.Component, e.Operation, e.Err)
}

func (e AgentError) Unwrap() error {
	return e.Err
}

func NewAgentError(component AgentComponent, operation AgentOperation, err error, retryable bool) AgentError {
	return AgentError{
		Component: component,
		Operation: operation,
		Err:       err,
		Retryable: retryable,
	}
}

func (e AgentError) WithContext(key string, value interface{}) AgentError {
	ctx := make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	e.Context = ctx
	return e
}

func ConfigError(operation AgentOperation, err error) AgentError {
	return NewAgentError(AgentComponentConfig, operation, err, false)
}

func DatabaseError(operation AgentOperation, err error) AgentError {
	return NewAgentError(AgentComponentDatabase, operation, err, true)
}

func ManageError(operation AgentOperation, err error, retryable bool) AgentError {
	return NewAgentError(AgentComponentManage, operation, err, retryable)
}

func ExecutorError(operation AgentOperation, err error) AgentError {
	return NewAgentError(AgentComponentExecutor, operation, err, false)
}

func MonitorError(operation AgentOperation, err error) AgentError {
	return NewAgentError(AgentComponentMonitor, operation, err, true)
}
