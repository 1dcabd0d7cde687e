package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/poc/device/agent/types"
	"github.com/margo/wiotp-client/sdk/rc"
)

type fakeManageable struct {
	mu          sync.Mutex
	errs        []error
	calls       int
	managed     bool
	unmanaged   []string
	unmanageErr error
}

func (f *fakeManageable) Manage(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.managed = true
	return nil
}

func (f *fakeManageable) Unmanage(_ context.Context, reqID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unmanageErr != nil {
		return f.unmanageErr
	}
	f.unmanaged = append(f.unmanaged, reqID)
	f.managed = false
	return nil
}

func (f *fakeManageable) IsManaged() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.managed
}

func newOnboarding(device *fakeManageable) *dmOnboardingManager {
	om := NewOnboardingManager(device, zap.NewNop().Sugar()).(*dmOnboardingManager)
	om.retryInterval = time.Millisecond
	return om
}

func timeoutErr() error {
	return rc.New(rc.ComponentDM, rc.OperationManage, rc.Timeout, errors.New("no response"))
}

func TestKeepTryingManageSucceedsAfterRetries(t *testing.T) {
	device := &fakeManageable{errs: []error{timeoutErr(), timeoutErr()}}
	om := newOnboarding(device)

	require.NoError(t, om.KeepTryingManageIfFailed(context.Background()))
	assert.Equal(t, 3, device.calls)
	assert.True(t, om.IsManaged())
}

func TestKeepTryingManageGivesUp(t *testing.T) {
	errs := make([]error, manageMaxRetries+5)
	for i := range errs {
		errs[i] = timeoutErr()
	}
	device := &fakeManageable{errs: errs}
	om := newOnboarding(device)

	err := om.KeepTryingManageIfFailed(context.Background())
	require.Error(t, err)
	assert.Equal(t, manageMaxRetries, device.calls)

	var agentErr types.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, types.OperationManaging, agentErr.Operation)
	assert.Equal(t, rc.Timeout, rc.Of(err))
}

func TestKeepTryingManageStopsOnRejection(t *testing.T) {
	rejected := rc.New(rc.ComponentDM, rc.OperationManage, rc.DMActionFailed, errors.New("rc 400"))
	device := &fakeManageable{errs: []error{rejected}}
	om := newOnboarding(device)

	err := om.KeepTryingManageIfFailed(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, device.calls)
	assert.Equal(t, rc.DMActionFailed, rc.Of(err))
}

func TestKeepTryingManageCancelled(t *testing.T) {
	device := &fakeManageable{errs: []error{timeoutErr()}}
	om := newOnboarding(device)
	om.retryInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, om.KeepTryingManageIfFailed(ctx), context.Canceled)
}

func TestUnmanage(t *testing.T) {
	device := &fakeManageable{}
	om := newOnboarding(device)

	// not managed: nothing is sent
	require.NoError(t, om.Unmanage(context.Background()))
	assert.Empty(t, device.unmanaged)

	require.NoError(t, om.Manage(context.Background()))
	require.NoError(t, om.Unmanage(context.Background()))
	require.Len(t, device.unmanaged, 1)
	assert.NotEmpty(t, device.unmanaged[0])
	assert.False(t, om.IsManaged())

	device.managed = true
	device.unmanageErr = errors.New("timeout")
	var agentErr types.AgentError
	require.ErrorAs(t, om.Unmanage(context.Background()), &agentErr)
	assert.Equal(t, types.OperationUnmanaging, agentErr.Operation)
}
