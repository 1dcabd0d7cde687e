package config

// ClientType selects the identity and topic space a client uses.
type ClientType int

const (
	Unknown ClientType = iota
	Device
	Gateway
	Application
	ScalableApplication
	ManagedDevice
	ManagedGateway
)

var clientTypeNames = [...]string{
	Unknown:             "Unknown",
	Device:              "Device",
	Gateway:             "Gateway",
	Application:         "Application",
	ScalableApplication: "ScalableApplication",
	ManagedDevice:       "ManagedDevice",
	ManagedGateway:      "ManagedGateway",
}

func (t ClientType) String() string {
	if t < 0 || int(t) >= len(clientTypeNames) {
		return clientTypeNames[Unknown]
	}
	return clientTypeNames[t]
}

func (t ClientType) Valid() bool {
	return t > Unknown && t <= ManagedGateway
}

func (t ClientType) IsDevice() bool {
	return t == Device || t == ManagedDevice
}

func (t ClientType) IsGateway() bool {
	return t == Gateway || t == ManagedGateway
}

func (t ClientType) IsApplication() bool {
	return t == Application || t == ScalableApplication
}

func (t ClientType) IsManaged() bool {
	return t == ManagedDevice || t == ManagedGateway
}

// Managed returns the managed variant of a device or gateway type.
func (t ClientType) Managed() ClientType {
	switch t {
	case Device:
		return ManagedDevice
	case Gateway:
		return ManagedGateway
	}
	return t
}
