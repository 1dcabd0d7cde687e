package rc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRCStrings(t *testing.T) {
	tests := []struct {
		code RC
		name string
		desc string
	}{
		{Success, "IOTPRC_SUCCESS", "WIoTP client operation has completed successfully."},
		{NoMem, "IOTPRC_NOMEM", "System memory is not available."},
		{InvalidHandle, "IOTPRC_INVALID_HANDLE", "WIoTP client handle is NULL or not initialized."},
		{NotConnected, "IOTPRC_NOT_CONNECTED", "WIoTP client is not connected to the platform."},
		{Timeout, "IOTPRC_TIMEOUT", "WIoTP client action failed to complete in configured time."},
		{DMActionNoCallback, "IOTPRC_DM_ACTION_NO_CALLBACK", "No callback is registered for the device management action."},
		{RC(42), "IOTPRC_UNKNOWN", "Unknown return code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.code.Name())
			assert.Equal(t, tt.desc, tt.code.String())
			assert.Equal(t, tt.name+": "+tt.desc, tt.code.Error())
		})
	}
}

func TestEveryCodeDescribed(t *testing.T) {
	for code := NoMem; code <= DMActionNoCallback; code++ {
		assert.NotEqual(t, "IOTPRC_UNKNOWN", code.Name(), "code %d", int(code))
	}
}

func TestOf(t *testing.T) {
	assert.Equal(t, Success, Of(nil))
	assert.Equal(t, Failure, Of(errors.New("boom")))
	assert.Equal(t, Timeout, Of(Timeout))
	assert.Equal(t, ArgsNullValue, Of(fmt.Errorf("wrapped: %w", ArgsNullValue)))

	err := New(ComponentDevice, OperationPublish, NotConnected, errors.New("broker gone"))
	assert.Equal(t, NotConnected, Of(fmt.Errorf("send: %w", err)))
}

func TestError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := New(ComponentClient, OperationConnect, NotConnected, cause).WithContext("broker", "ssl://x")

	assert.True(t, errors.Is(err, NotConnected))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, Timeout))
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "[client:connect]")
	assert.Contains(t, err.Error(), "dial tcp: refused")
	assert.Contains(t, err.Error(), "broker")

	plain := New(ComponentConfig, OperationSetProperty, ParamNullValue, nil)
	require.Nil(t, plain.Context)
	assert.Equal(t, "[config:set-property] "+ParamNullValue.Error(), plain.Error())
	assert.False(t, IsRetryable(plain))
	assert.False(t, IsRetryable(errors.New("x")))
}
