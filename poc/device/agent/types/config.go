package types

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/dm"
)

const (
	DefaultEventInterval = 10 * time.Second
	DefaultLifetime      = 3600
)

// Config is the device agent configuration file.
type Config struct {
	// IotpConfig is the client configuration file. Ignored when UseEnv is set.
	IotpConfig    string        `yaml:"iotpConfig" validate:"required_without=UseEnv"`
	UseEnv        bool          `yaml:"useEnv"`
	DataDir       string        `yaml:"dataDir" validate:"required"`
	FirmwareDir   string        `yaml:"firmwareDir" validate:"required"`
	EventInterval time.Duration `yaml:"eventInterval" validate:"gte=1s"`
	Lifetime      int           `yaml:"lifetime" validate:"gte=0"`
	LogLevel      string        `yaml:"logLevel" validate:"omitempty,oneof=error warn info debug"`
	DeviceInfo    DeviceInfo    `yaml:"deviceInfo"`
	Health        Health        `yaml:"health"`
}

type DeviceInfo struct {
	SerialNumber        string `yaml:"serialNumber"`
	Manufacturer        string `yaml:"manufacturer"`
	Model               string `yaml:"model"`
	DeviceClass         string `yaml:"deviceClass"`
	Description         string `yaml:"description"`
	FwVersion           string `yaml:"fwVersion"`
	HwVersion           string `yaml:"hwVersion"`
	DescriptiveLocation string `yaml:"descriptiveLocation"`
}

// Health holds the thresholds, in percent, above which the agent raises a
// diagnostic error code. Zero disables a check.
type Health struct {
	CPUPercent    float64 `yaml:"cpuPercent" validate:"gte=0,lte=100"`
	MemoryPercent float64 `yaml:"memoryPercent" validate:"gte=0,lte=100"`
}

func (d DeviceInfo) ToDM() dm.DeviceInfo {
	return dm.DeviceInfo{
		SerialNumber:        d.SerialNumber,
		Manufacturer:        d.Manufacturer,
		Model:               d.Model,
		DeviceClass:         d.DeviceClass,
		Description:         d.Description,
		FwVersion:           d.FwVersion,
		HwVersion:           d.HwVersion,
		DescriptiveLocation: d.DescriptiveLocation,
	}
}

// LoadConfig reads, defaults and validates the agent configuration. A
// relative iotpConfig path is resolved against the directory of path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ConfigError(OperationReadingConfig, fmt.Errorf("failed to read config file: %w", err))
	}

	cfg := Config{
		EventInterval: DefaultEventInterval,
		Lifetime:      DefaultLifetime,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ConfigError(OperationReadingConfig, fmt.Errorf("failed to unmarshal config: %w", err))
	}

	if cfg.IotpConfig != "" && !filepath.IsAbs(cfg.IotpConfig) {
		cfg.IotpConfig = filepath.Join(filepath.Dir(path), cfg.IotpConfig)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, ConfigError(OperationValidatingConfig, fmt.Errorf("invalid configuration: %w", err))
	}
	return &cfg, nil
}

// ClientConfig builds the platform client configuration, either from the
// environment or from the iotpConfig file.
func (c *Config) ClientConfig() (*config.Config, error) {
	if c.UseEnv {
		cfg := config.New()
		if err := cfg.ReadEnvironment(); err != nil {
			return nil, ConfigError(OperationReadingClientConfig, err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(c.IotpConfig)
	if err != nil {
		return nil, ConfigError(OperationReadingClientConfig, err)
	}
	return cfg, nil
}
