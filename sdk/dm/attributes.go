package dm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/margo/wiotp-client/sdk/rc"
	"github.com/margo/wiotp-client/shared-lib/pointers"
)

var validate = validator.New()

type DeviceInfo struct {
	SerialNumber        string `json:"serialNumber,omitempty"`
	Manufacturer        string `json:"manufacturer,omitempty"`
	Model               string `json:"model,omitempty"`
	DeviceClass         string `json:"deviceClass,omitempty"`
	Description         string `json:"description,omitempty"`
	FwVersion           string `json:"fwVersion,omitempty"`
	HwVersion           string `json:"hwVersion,omitempty"`
	DescriptiveLocation string `json:"descriptiveLocation,omitempty"`
}

func (d *DeviceInfo) IsZero() bool {
	return *d == DeviceInfo{}
}

func (d *DeviceInfo) fields() map[string]*string {
	return map[string]*string{
		"serialNumber":        &d.SerialNumber,
		"manufacturer":        &d.Manufacturer,
		"model":               &d.Model,
		"deviceClass":         &d.DeviceClass,
		"description":         &d.Description,
		"fwVersion":           &d.FwVersion,
		"hwVersion":           &d.HwVersion,
		"descriptiveLocation": &d.DescriptiveLocation,
	}
}

type Location struct {
	Latitude         float64  `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude        float64  `json:"longitude" validate:"gte=-180,lte=180"`
	Elevation        *float64 `json:"elevation,omitempty"`
	Accuracy         *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	MeasuredDateTime string   `json:"measuredDateTime,omitempty"`
}

type Firmware struct {
	Version         string               `json:"version,omitempty"`
	Name            string               `json:"name,omitempty"`
	URI             string               `json:"uri,omitempty"`
	Verifier        string               `json:"verifier,omitempty"`
	State           FirmwareState        `json:"state" validate:"gte=0,lte=2"`
	UpdateStatus    FirmwareUpdateStatus `json:"updateStatus" validate:"gte=0,lte=6"`
	UpdatedDateTime string               `json:"updatedDateTime,omitempty"`
}

// Attributes is the management state a device reports with manage and
// the platform reads, updates and observes.
type Attributes struct {
	Lifetime        int                    `json:"lifetime" validate:"gte=0"`
	DeviceActions   bool                   `json:"deviceActions"`
	FirmwareActions bool                   `json:"firmwareActions"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	DeviceInfo      DeviceInfo             `json:"deviceInfo"`
	Location        *Location              `json:"location,omitempty"`
	Firmware        Firmware               `json:"mgmt.firmware"`
}

func (a Attributes) clone() Attributes {
	out := a
	if a.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Location = pointers.Clone(a.Location)
	return out
}

func attrError(code rc.RC, format string, args ...interface{}) error {
	return rc.Errorf(rc.ComponentDM, rc.OperationSetProperty, code, format, args...)
}

// set applies one attribute given in its textual form. Structured
// attributes take JSON.
func (a *Attributes) set(name, value string) error {
	if name == "" {
		return attrError(rc.ArgsNullValue, "attribute name is empty")
	}

	switch name {
	case FieldLifetime:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return attrError(rc.ParamInvalidValue, "lifetime must be a non negative integer, got %q", value)
		}
		a.Lifetime = n
	case FieldDeviceActions, FieldFirmwareActions:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return attrError(rc.ParamInvalidValue, "%s must be a boolean, got %q", name, value)
		}
		if name == FieldDeviceActions {
			a.DeviceActions = b
		} else {
			a.FirmwareActions = b
		}
	case FieldMetadata:
		var md map[string]interface{}
		if err := decodeValue(name, []byte(value), &md); err != nil {
			return err
		}
		a.Metadata = md
	case FieldDeviceInfo:
		var info DeviceInfo
		if err := decodeValue(name, []byte(value), &info); err != nil {
			return err
		}
		a.DeviceInfo = info
	case FieldLocation:
		var loc Location
		if err := decodeValue(name, []byte(value), &loc); err != nil {
			return err
		}
		a.Location = &loc
	case FieldFirmware:
		var fw Firmware
		if err := decodeValue(name, []byte(value), &fw); err != nil {
			return err
		}
		a.Firmware = fw
	default:
		field, ok := strings.CutPrefix(name, FieldDeviceInfo+".")
		if !ok {
			return attrError(rc.InvalidParam, "unknown attribute %q", name)
		}
		p, ok := a.DeviceInfo.fields()[field]
		if !ok {
			return attrError(rc.InvalidParam, "unknown attribute %q", name)
		}
		*p = value
	}
	return nil
}

func decodeValue(name string, raw []byte, into interface{}) error {
	if err := json.Unmarshal(raw, into); err != nil {
		return attrError(rc.ParamInvalidValue, "%s is not valid JSON: %v", name, err)
	}
	switch v := into.(type) {
	case *map[string]interface{}:
		if *v == nil {
			return attrError(rc.ParamInvalidValue, "%s must be a JSON object", name)
		}
	case *Location, *Firmware:
		if err := validate.Struct(v); err != nil {
			return rc.New(rc.ComponentDM, rc.OperationSetProperty, rc.ParamInvalidValue, fmt.Errorf("invalid %s: %w", name, err))
		}
	}
	return nil
}

// fieldValue renders the current value of an observable field.
func (a *Attributes) fieldValue(field string) (json.RawMessage, bool) {
	var v interface{}
	switch field {
	case FieldLifetime:
		v = a.Lifetime
	case FieldMetadata:
		v = a.Metadata
	case FieldDeviceInfo:
		v = a.DeviceInfo
	case FieldLocation:
		v = a.Location
	case FieldFirmware:
		v = a.Firmware
	default:
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// applyField applies a platform device/update field. The firmware state and
// update status stay under device control.
func (a *Attributes) applyField(f Field) error {
	switch f.Field {
	case FieldFirmware:
		var fw Firmware
		if err := decodeValue(f.Field, f.Value, &fw); err != nil {
			return err
		}
		fw.State, fw.UpdateStatus = a.Firmware.State, a.Firmware.UpdateStatus
		a.Firmware = fw
		return nil
	case FieldLocation, FieldMetadata, FieldDeviceInfo:
		return a.set(f.Field, string(f.Value))
	}
	return attrError(rc.InvalidParam, "field %q cannot be updated", f.Field)
}
