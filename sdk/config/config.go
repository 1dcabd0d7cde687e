package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/margo/wiotp-client/sdk/rc"
)

const (
	DefaultDomain        = "internetofthings.ibmcloud.com"
	DefaultPort          = 8883
	DefaultKeepAlive     = 60
	DefaultSessionExpiry = 3600
	DefaultLogLevel      = "info"
	DefaultTransport     = "tcp"

	QuickstartOrgID = "quickstart"

	// EnvPrefix is prepended to the upper-cased property name, dots replaced
	// by underscores, e.g. WIOTP_IDENTITY_ORGID.
	EnvPrefix = "WIOTP_"
)

// Config holds the identity, credentials and connection options of a client.
type Config struct {
	Identity Identity `yaml:"identity"`
	Auth     Auth     `yaml:"auth"`
	Options  Options  `yaml:"options"`
}

type Identity struct {
	OrgID    string `yaml:"orgId"`
	TypeID   string `yaml:"typeId"`
	DeviceID string `yaml:"deviceId"`
	AppID    string `yaml:"appId"`
}

type Auth struct {
	Key                string `yaml:"key"`
	Token              string `yaml:"token"`
	KeyStore           string `yaml:"keyStore" validate:"omitempty,file"`
	PrivateKey         string `yaml:"privateKey" validate:"omitempty,file"`
	PrivateKeyPassword string `yaml:"privateKeyPassword"`
}

type Options struct {
	Domain   string      `yaml:"domain" validate:"required"`
	LogLevel string      `yaml:"logLevel" validate:"oneof=error warn info debug"`
	MQTT     MQTTOptions `yaml:"mqtt"`
	HTTP     HTTPOptions `yaml:"http"`
}

type MQTTOptions struct {
	TraceLevel         string `yaml:"traceLevel" validate:"omitempty,oneof=error warn info debug"`
	Transport          string `yaml:"transport" validate:"oneof=tcp websockets"`
	CAFile             string `yaml:"caFile" validate:"omitempty,file"`
	Port               int    `yaml:"port" validate:"oneof=1883 443 8883"`
	CleanSession       bool   `yaml:"cleanSession"`
	CleanStart         bool   `yaml:"cleanStart"`
	SessionExpiry      int    `yaml:"sessionExpiry" validate:"gte=0"`
	KeepAlive          int    `yaml:"keepalive" validate:"gte=0"`
	SharedSubscription bool   `yaml:"sharedSubscription"`
	ValidateServerCert bool   `yaml:"validateServerCert"`
}

type HTTPOptions struct {
	CAFile             string `yaml:"caFile" validate:"omitempty,file"`
	ValidateServerCert bool   `yaml:"validateServerCert"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	c := &Config{}
	c.Clear()
	return c
}

// Load creates a configuration from defaults and, when path is not empty,
// the YAML file at path.
func Load(path string) (*Config, error) {
	c := New()
	if path == "" {
		return c, nil
	}
	if err := c.ReadConfigFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

// Clear resets every property to its default.
func (c *Config) Clear() {
	*c = Config{
		Options: Options{
			Domain:   DefaultDomain,
			LogLevel: DefaultLogLevel,
			MQTT: MQTTOptions{
				Transport:          DefaultTransport,
				Port:               DefaultPort,
				CleanSession:       true,
				SessionExpiry:      DefaultSessionExpiry,
				KeepAlive:          DefaultKeepAlive,
				ValidateServerCert: true,
			},
			HTTP: HTTPOptions{
				ValidateServerCert: true,
			},
		},
	}
}

// ReadConfigFile applies the properties found in a YAML file. Keys follow the
// property names, e.g. options.mqtt.port lives under options: mqtt: port:.
func (c *Config) ReadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return rc.New(rc.ComponentConfig, rc.OperationReadConfig, rc.FileOpen, err).WithContext("path", path)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return rc.New(rc.ComponentConfig, rc.OperationReadConfig, rc.InvalidParam, fmt.Errorf("failed to parse config file: %w", err)).
			WithContext("path", path)
	}

	values := make(map[string]string)
	flatten("", doc, values)

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := c.SetProperty(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

func flatten(prefix string, node map[string]interface{}, out map[string]string) {
	for k, v := range node {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(name, val, out)
		case nil:
			out[name] = ""
		default:
			out[name] = fmt.Sprint(val)
		}
	}
}

// ReadEnvironment applies every property that has a matching WIOTP_ variable.
func (c *Config) ReadEnvironment() error {
	for _, p := range properties {
		value, ok := os.LookupEnv(EnvName(p.name))
		if !ok {
			continue
		}
		if err := c.SetProperty(p.name, value); err != nil {
			return err
		}
	}
	return nil
}

// EnvName returns the environment variable consulted for a property.
func EnvName(property string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(property, ".", "_"))
}

// SetProperty sets a single property. Names are case-insensitive.
func (c *Config) SetProperty(name, value string) error {
	p, err := lookup(name)
	if err != nil {
		return err
	}
	if err := p.set(c, strings.TrimSpace(value)); err != nil {
		var code rc.RC
		if !errors.As(err, &code) {
			code = rc.ParamInvalidValue
		}
		return rc.New(rc.ComponentConfig, rc.OperationSetProperty, code, err).
			WithContext("property", p.name)
	}
	return nil
}

// GetProperty returns the current value of a property as a string.
func (c *Config) GetProperty(name string) (string, error) {
	p, err := lookup(name)
	if err != nil {
		return "", err
	}
	return p.get(c), nil
}

// Properties lists every property name in sorted order.
func Properties() []string {
	names := make([]string, 0, len(properties))
	for _, p := range properties {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (property, error) {
	if name == "" {
		return property{}, rc.Errorf(rc.ComponentConfig, rc.OperationSetProperty, rc.InvalidParam, "property name is empty")
	}
	for _, p := range properties {
		if strings.EqualFold(p.name, name) {
			return p, nil
		}
	}
	return property{}, rc.Errorf(rc.ComponentConfig, rc.OperationSetProperty, rc.InvalidParam, "unknown property %q", name)
}

// IsQuickstart reports whether the client targets the quickstart sandbox.
func (c *Config) IsQuickstart() bool {
	return c.Identity.OrgID == QuickstartOrgID
}

// BrokerHost is the MQTT host of the organization.
func (c *Config) BrokerHost() string {
	return fmt.Sprintf("%s.messaging.%s", c.Identity.OrgID, c.Options.Domain)
}

// HTTPHost is the HTTP messaging host of the organization.
func (c *Config) HTTPHost() string {
	return fmt.Sprintf("%s.messaging.%s", c.Identity.OrgID, c.Options.Domain)
}

// UsesClientCertificate reports whether certificate authentication is configured.
func (c *Config) UsesClientCertificate() bool {
	return c.Auth.KeyStore != "" && c.Auth.PrivateKey != ""
}

// Validate checks that the configuration can be used by a client of the
// given type.
func (c *Config) Validate(clientType ClientType) error {
	if !clientType.Valid() {
		return rc.Errorf(rc.ComponentConfig, rc.OperationValidate, rc.ParamInvalidValue, "invalid client type %d", clientType)
	}

	missing := func(name string) error {
		return rc.Errorf(rc.ComponentConfig, rc.OperationValidate, rc.MissingInputParam, "%s is required", name).
			WithContext("clientType", clientType.String())
	}

	if c.Identity.OrgID == "" {
		return missing("identity.orgId")
	}

	if err := validator.New().Struct(c); err != nil {
		return rc.New(rc.ComponentConfig, rc.OperationValidate, rc.ParamInvalidValue, fmt.Errorf("invalid configuration: %w", err))
	}

	quickstart := c.IsQuickstart()
	if quickstart && (clientType.IsGateway() || clientType.IsManaged()) {
		return rc.Errorf(rc.ComponentConfig, rc.OperationValidate, rc.QuickstartNotSupported,
			"%s clients are not supported in quickstart", clientType)
	}

	switch {
	case clientType.IsDevice() || clientType.IsGateway():
		if c.Identity.TypeID == "" {
			return missing("identity.typeId")
		}
		if c.Identity.DeviceID == "" {
			return missing("identity.deviceId")
		}
		if !quickstart && c.Auth.Token == "" && !c.UsesClientCertificate() {
			return missing("auth.token")
		}
	case clientType.IsApplication():
		if c.Identity.AppID == "" {
			return missing("identity.appId")
		}
		if !quickstart {
			if c.Auth.Key == "" {
				return missing("auth.key")
			}
			if c.Auth.Token == "" {
				return missing("auth.token")
			}
		}
	}
	return nil
}
