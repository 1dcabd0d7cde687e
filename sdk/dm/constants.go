// Package dm implements the device management protocol for managed devices
// and managed gateways: the manage lifecycle, platform initiated actions,
// diagnostics and firmware updates.
package dm

import "fmt"

// ActionType selects which platform initiated action a handler receives.
type ActionType int

const (
	ActionResponse ActionType = iota + 1
	ActionUpdate
	ActionObserve
	ActionCancel
	ActionFactoryReset
	ActionReboot
	ActionFirmwareDownload
	ActionFirmwareUpdate
	// ActionAll registers or removes a handler for every action type.
	ActionAll
)

var actionNames = map[ActionType]string{
	ActionResponse:         "response",
	ActionUpdate:           "update",
	ActionObserve:          "observe",
	ActionCancel:           "cancel",
	ActionFactoryReset:     "factoryReset",
	ActionReboot:           "reboot",
	ActionFirmwareDownload: "firmwareDownload",
	ActionFirmwareUpdate:   "firmwareUpdate",
	ActionAll:              "all",
}

func (t ActionType) String() string {
	if name, ok := actionNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ActionType(%d)", int(t))
}

func (t ActionType) Valid() bool {
	return t >= ActionResponse && t <= ActionAll
}

// Response codes sent back to the platform.
const (
	RCResponseSuccess  = 200
	RCResponseAccepted = 202
	RCUpdateSuccess    = 204
	RCBadRequest       = 400

	RCRebootInitiated    = 202
	RCRebootFailed       = 500
	RCRebootNotSupported = 501

	RCFactoryResetInitiated    = 202
	RCFactoryResetFailed       = 500
	RCFactoryResetNotSupported = 501

	rcNotImplemented = 501
)

// FirmwareState is the mgmt.firmware.state attribute.
type FirmwareState int

const (
	FirmwareIdle FirmwareState = iota
	FirmwareDownloading
	FirmwareDownloaded
)

func (s FirmwareState) String() string {
	switch s {
	case FirmwareIdle:
		return "idle"
	case FirmwareDownloading:
		return "downloading"
	case FirmwareDownloaded:
		return "downloaded"
	}
	return fmt.Sprintf("FirmwareState(%d)", int(s))
}

// FirmwareUpdateStatus is the mgmt.firmware.updateStatus attribute.
type FirmwareUpdateStatus int

const (
	FirmwareSuccess FirmwareUpdateStatus = iota
	FirmwareInProgress
	FirmwareOutOfMemory
	FirmwareConnectionLost
	FirmwareVerificationFailed
	FirmwareUnsupportedImage
	FirmwareInvalidURL
)

func (s FirmwareUpdateStatus) String() string {
	switch s {
	case FirmwareSuccess:
		return "success"
	case FirmwareInProgress:
		return "inProgress"
	case FirmwareOutOfMemory:
		return "outOfMemory"
	case FirmwareConnectionLost:
		return "connectionLost"
	case FirmwareVerificationFailed:
		return "verificationFailed"
	case FirmwareUnsupportedImage:
		return "unsupportedImage"
	case FirmwareInvalidURL:
		return "invalidURL"
	}
	return fmt.Sprintf("FirmwareUpdateStatus(%d)", int(s))
}

// Severity of a diagnostic log entry.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

const (
	// Attribute and observable field names.
	FieldLifetime        = "lifetime"
	FieldDeviceActions   = "deviceActions"
	FieldFirmwareActions = "firmwareActions"
	FieldMetadata        = "metadata"
	FieldDeviceInfo      = "deviceInfo"
	FieldLocation        = "location"
	FieldFirmware        = "mgmt.firmware"
)

// Topic suffixes below the iotdm-1 (inbound) and iotdevice-1 (outbound)
// prefixes.
const (
	topicResponse         = "response"
	topicDeviceUpdate     = "device/update"
	topicObserve          = "observe"
	topicCancel           = "cancel"
	topicReboot           = "mgmt/initiate/device/reboot"
	topicFactoryReset     = "mgmt/initiate/device/factory_reset"
	topicFirmwareDownload = "mgmt/initiate/firmware/download"
	topicFirmwareUpdate   = "mgmt/initiate/firmware/update"

	topicManage         = "mgmt/manage"
	topicUnmanage       = "mgmt/unmanage"
	topicUpdateLocation = "device/update/location"
	topicNotify         = "notify"
	topicAddErrorCode   = "add/diag/errorCodes"
	topicClearErrorCode = "clear/diag/errorCodes"
	topicAddLog         = "add/diag/log"
	topicClearLog       = "clear/diag/log"
)

var actionTopics = map[string]ActionType{
	topicResponse:         ActionResponse,
	topicDeviceUpdate:     ActionUpdate,
	topicObserve:          ActionObserve,
	topicCancel:           ActionCancel,
	topicReboot:           ActionReboot,
	topicFactoryReset:     ActionFactoryReset,
	topicFirmwareDownload: ActionFirmwareDownload,
	topicFirmwareUpdate:   ActionFirmwareUpdate,
}
