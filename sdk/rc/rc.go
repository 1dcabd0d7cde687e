package rc

import (
	"errors"
	"fmt"
)

// RC is the return code attached to every error produced by the client.
type RC int

const (
	Success RC = 0
	Failure RC = 1

	NoMem                  RC = 1001
	FileOpen               RC = 1002
	LoggingInited          RC = 1003
	InvalidHandle          RC = 1004
	MissingInputParam      RC = 1005
	InvalidParam           RC = 1006
	ParamNullValue         RC = 1007
	ParamInvalidValue      RC = 1008
	QuickstartNotSupported RC = 1009
	InvalidArgs            RC = 1010
	ArgsNullValue          RC = 1011
	ArgsInvalidValue       RC = 1012
	CertCallback           RC = 1013
	HandleInUse            RC = 1014
	NotFound               RC = 1015
	NotConnected           RC = 1016
	Timeout                RC = 1017
	HandlerNotFound        RC = 1018
	HandlerInvalid         RC = 1019
	DMActionStarted        RC = 1020
	DMActionFailed         RC = 1021
	DMActionNotSupported   RC = 1022
	DMResponseParseError   RC = 1023
	DMResponseNullReqID    RC = 1024
	DMResponseInvalidReqID RC = 1025
	DMActionNoCallback     RC = 1026
)

type rcInfo struct {
	name string
	desc string
}

var table = map[RC]rcInfo{
	Success:                {"IOTPRC_SUCCESS", "WIoTP client operation has completed successfully."},
	Failure:                {"IOTPRC_FAILURE", "WIoTP client operation has failed to complete."},
	NoMem:                  {"IOTPRC_NOMEM", "System memory is not available."},
	FileOpen:               {"IOTPRC_FILE_OPEN", "Could not open the specified file."},
	LoggingInited:          {"IOTPRC_LOGGING_INITED", "Logging is already initialized."},
	InvalidHandle:          {"IOTPRC_INVALID_HANDLE", "WIoTP client handle is NULL or not initialized."},
	MissingInputParam:      {"IOTPRC_MISSING_INPUT_PARAM", "A required configuration parameter is not specified."},
	InvalidParam:           {"IOTPRC_INVALID_PARAM", "An invalid configuration parameter is specified."},
	ParamNullValue:         {"IOTPRC_PARAM_NULL_VALUE", "NULL or empty value for the configuration parameter is specified."},
	ParamInvalidValue:      {"IOTPRC_PARAM_INVALID_VALUE", "The value specified for the configuration parameter is not valid."},
	QuickstartNotSupported: {"IOTPRC_QUICKSTART_NOT_SUPPORTED", "WIoTP quickstart sandbox is not supported for the requested operation."},
	InvalidArgs:            {"IOTPRC_INVALID_ARGS", "An invalid argument is specified for the API."},
	ArgsNullValue:          {"IOTPRC_ARGS_NULL_VALUE", "The argument value for the API is NULL or empty value."},
	ArgsInvalidValue:       {"IOTPRC_ARGS_INVALID_VALUE", "The specified argument value for the API is invalid."},
	CertCallback:           {"IOTPRC_CERT_CALLBACK", "The client certificate callback failed with an error."},
	HandleInUse:            {"IOTPRC_HANDLE_IN_USE", "The handle is in use."},
	NotFound:               {"IOTPRC_NOT_FOUND", "The file does not exist or is not accessible."},
	NotConnected:           {"IOTPRC_NOT_CONNECTED", "WIoTP client is not connected to the platform."},
	Timeout:                {"IOTPRC_TIMEOUT", "WIoTP client action failed to complete in configured time."},
	HandlerNotFound:        {"IOTPRC_HANDLER_NOT_FOUND", "No handler is registered for the requested operation."},
	HandlerInvalid:         {"IOTPRC_HANDLER_INVALID", "The specified handler is NULL or not valid."},
	DMActionStarted:        {"IOTPRC_DM_ACTION_STARTED", "Device management action has started."},
	DMActionFailed:         {"IOTPRC_DM_ACTION_FAILED", "Device management action has failed."},
	DMActionNotSupported:   {"IOTPRC_DM_ACTION_NOT_SUPPORTED", "Device management action is not supported by the device."},
	DMResponseParseError:   {"IOTPRC_DM_RESPONSE_PARSE_ERROR", "Device management response could not be parsed."},
	DMResponseNullReqID:    {"IOTPRC_DM_RESPONSE_NULL_REQID", "Device management response has no request id."},
	DMResponseInvalidReqID: {"IOTPRC_DM_RESPONSE_INVALID_REQID", "Device management response request id does not match any pending request."},
	DMActionNoCallback:     {"IOTPRC_DM_ACTION_NO_CALLBACK", "No callback is registered for the device management action."},
}

// Name returns the enumerator name, e.g. IOTPRC_NOT_CONNECTED.
func (r RC) Name() string {
	if info, ok := table[r]; ok {
		return info.name
	}
	return "IOTPRC_UNKNOWN"
}

// String returns the human readable description of the code.
func (r RC) String() string {
	if info, ok := table[r]; ok {
		return info.desc
	}
	return "Unknown return code"
}

func (r RC) Error() string {
	return fmt.Sprintf("%s: %s", r.Name(), r.String())
}

// Of extracts the return code carried by err. A nil error is Success and an
// error without a code is Failure.
func Of(err error) RC {
	if err == nil {
		return Success
	}
	var code RC
	if errors.As(err, &code) {
		return code
	}
	return Failure
}
