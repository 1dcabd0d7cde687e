package types

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "device.yaml", `
identity:
  orgId: myorg
  typeId: edge
  deviceId: edge-0001
auth:
  token: secret
`)
	path := writeFile(t, dir, "agent.yaml", `
iotpConfig: device.yaml
dataDir: data
firmwareDir: data/firmware
eventInterval: 5s
deviceInfo:
  serialNumber: "10087"
  fwVersion: "1.0.0"
health:
  cpuPercent: 90
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "device.yaml"), cfg.IotpConfig)
	assert.Equal(t, 5*time.Second, cfg.EventInterval)
	assert.Equal(t, DefaultLifetime, cfg.Lifetime)
	assert.Equal(t, 90.0, cfg.Health.CPUPercent)
	assert.Zero(t, cfg.Health.MemoryPercent)

	info := cfg.DeviceInfo.ToDM()
	assert.Equal(t, "10087", info.SerialNumber)
	assert.Equal(t, "1.0.0", info.FwVersion)

	clientCfg, err := cfg.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "myorg", clientCfg.Identity.OrgID)
	assert.Equal(t, "edge-0001", clientCfg.Identity.DeviceID)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "agent.yaml", `
useEnv: true
dataDir: data
firmwareDir: fw
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultEventInterval, cfg.EventInterval)
	assert.Empty(t, cfg.IotpConfig)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("WIOTP_IDENTITY_ORGID", "envorg")
	t.Setenv("WIOTP_IDENTITY_TYPEID", "edge")
	t.Setenv("WIOTP_IDENTITY_DEVICEID", "dev-env")

	cfg := &Config{UseEnv: true}
	clientCfg, err := cfg.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "envorg", clientCfg.Identity.OrgID)
	assert.Equal(t, "dev-env", clientCfg.Identity.DeviceID)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		op      AgentOperation
	}{
		{"bad yaml", "dataDir: [", OperationReadingConfig},
		{"no iotp config", "dataDir: d\nfirmwareDir: f\n", OperationValidatingConfig},
		{"no data dir", "useEnv: true\nfirmwareDir: f\n", OperationValidatingConfig},
		{"interval too short", "useEnv: true\ndataDir: d\nfirmwareDir: f\neventInterval: 10ms\n", OperationValidatingConfig},
		{"threshold over 100", "useEnv: true\ndataDir: d\nfirmwareDir: f\nhealth:\n  cpuPercent: 120\n", OperationValidatingConfig},
		{"bad log level", "useEnv: true\ndataDir: d\nfirmwareDir: f\nlogLevel: loud\n", OperationValidatingConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, dir, "agent.yaml", tt.content))
			require.Error(t, err)
			var agentErr AgentError
			require.True(t, errors.As(err, &agentErr))
			assert.Equal(t, AgentComponentConfig, agentErr.Component)
			assert.Equal(t, tt.op, agentErr.Operation)
			assert.False(t, agentErr.Retryable)
		})
	}

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestAgentError(t *testing.T) {
	cause := errors.New("boom")
	err := DatabaseError(OperationDatabaseWrite, cause)
	assert.Equal(t, "[database:database-write] boom", err.Error())
	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)

	withCtx := err.WithContext("reqId", "r1")
	assert.Equal(t, "[database:database-write] boom (context: map[reqId:r1])", withCtx.Error())
	assert.Empty(t, err.Context)
}
