package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/margo/wiotp-client/sdk/rc"
)

type property struct {
	name string
	get  func(c *Config) string
	set  func(c *Config, value string) error
}

var (
	orgIDPattern  = regexp.MustCompile(`^[a-z0-9]{6}$`)
	numberPattern = regexp.MustCompile(`^[0-9]+$`)
)

var properties = []property{
	{
		name: "identity.orgId",
		get:  func(c *Config) string { return c.Identity.OrgID },
		set: func(c *Config, v string) error {
			switch {
			case v == "":
				return nullValue()
			case v == QuickstartOrgID:
			case numberPattern.MatchString(v) || !orgIDPattern.MatchString(v):
				return invalidValue(v)
			}
			c.Identity.OrgID = v
			return nil
		},
	},
	requiredString("identity.typeId", func(c *Config) *string { return &c.Identity.TypeID }),
	requiredString("identity.deviceId", func(c *Config) *string { return &c.Identity.DeviceID }),
	requiredString("identity.appId", func(c *Config) *string { return &c.Identity.AppID }),
	optionalString("auth.key", func(c *Config) *string { return &c.Auth.Key }),
	optionalString("auth.token", func(c *Config) *string { return &c.Auth.Token }),
	optionalString("auth.keyStore", func(c *Config) *string { return &c.Auth.KeyStore }),
	optionalString("auth.privateKey", func(c *Config) *string { return &c.Auth.PrivateKey }),
	optionalString("auth.privateKeyPassword", func(c *Config) *string { return &c.Auth.PrivateKeyPassword }),
	{
		name: "options.domain",
		get:  func(c *Config) string { return c.Options.Domain },
		set: func(c *Config, v string) error {
			switch {
			case v == "":
				v = DefaultDomain
			case numberPattern.MatchString(v):
				return invalidValue(v)
			}
			c.Options.Domain = v
			return nil
		},
	},
	{
		name: "options.logLevel",
		get:  func(c *Config) string { return c.Options.LogLevel },
		set: func(c *Config, v string) error {
			level, err := logLevel(v, DefaultLogLevel)
			if err != nil {
				return err
			}
			c.Options.LogLevel = level
			return nil
		},
	},
	{
		name: "options.mqtt.traceLevel",
		get:  func(c *Config) string { return c.Options.MQTT.TraceLevel },
		set: func(c *Config, v string) error {
			level, err := logLevel(v, "")
			if err != nil {
				return err
			}
			c.Options.MQTT.TraceLevel = level
			return nil
		},
	},
	{
		name: "options.mqtt.transport",
		get:  func(c *Config) string { return c.Options.MQTT.Transport },
		set: func(c *Config, v string) error {
			switch strings.ToLower(v) {
			case "":
				c.Options.MQTT.Transport = DefaultTransport
			case "tcp", "websockets":
				c.Options.MQTT.Transport = strings.ToLower(v)
			default:
				return invalidValue(v)
			}
			return nil
		},
	},
	optionalString("options.mqtt.caFile", func(c *Config) *string { return &c.Options.MQTT.CAFile }),
	{
		name: "options.mqtt.port",
		get:  func(c *Config) string { return strconv.Itoa(c.Options.MQTT.Port) },
		set: func(c *Config, v string) error {
			if v == "" || v == "0" {
				c.Options.MQTT.Port = DefaultPort
				return nil
			}
			port, err := strconv.Atoi(v)
			if err != nil {
				return invalidValue(v)
			}
			switch port {
			case 1883, 443, 8883:
				c.Options.MQTT.Port = port
				return nil
			}
			return invalidValue(v)
		},
	},
	boolean("options.mqtt.cleanSession", func(c *Config) *bool { return &c.Options.MQTT.CleanSession }),
	boolean("options.mqtt.cleanStart", func(c *Config) *bool { return &c.Options.MQTT.CleanStart }),
	integer("options.mqtt.sessionExpiry", DefaultSessionExpiry, func(c *Config) *int { return &c.Options.MQTT.SessionExpiry }),
	integer("options.mqtt.keepalive", DefaultKeepAlive, func(c *Config) *int { return &c.Options.MQTT.KeepAlive }),
	boolean("options.mqtt.sharedSubscription", func(c *Config) *bool { return &c.Options.MQTT.SharedSubscription }),
	boolean("options.mqtt.validateServerCert", func(c *Config) *bool { return &c.Options.MQTT.ValidateServerCert }),
	optionalString("options.http.caFile", func(c *Config) *string { return &c.Options.HTTP.CAFile }),
	boolean("options.http.validateServerCert", func(c *Config) *bool { return &c.Options.HTTP.ValidateServerCert }),
}

func nullValue() error {
	return fmt.Errorf("%w: empty value", rc.ParamNullValue)
}

func invalidValue(v string) error {
	return fmt.Errorf("%w: %q", rc.ParamInvalidValue, v)
}

func requiredString(name string, field func(*Config) *string) property {
	return property{
		name: name,
		get:  func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			if v == "" {
				return nullValue()
			}
			*field(c) = v
			return nil
		},
	}
}

// optionalString properties are cleared by an empty value.
func optionalString(name string, field func(*Config) *string) property {
	return property{
		name: name,
		get:  func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			*field(c) = v
			return nil
		},
	}
}

func boolean(name string, field func(*Config) *bool) property {
	return property{
		name: name,
		get:  func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			if v == "" {
				return nullValue()
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				return invalidValue(v)
			}
			*field(c) = b
			return nil
		},
	}
}

func integer(name string, def int, field func(*Config) *int) property {
	return property{
		name: name,
		get:  func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			if v == "" {
				*field(c) = def
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return invalidValue(v)
			}
			*field(c) = n
			return nil
		},
	}
}

func logLevel(v, def string) (string, error) {
	switch level := strings.ToLower(v); level {
	case "":
		return def, nil
	case "error", "warn", "info", "debug":
		return level, nil
	case "warning":
		return "warn", nil
	default:
		return "", invalidValue(v)
	}
}
