package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/margo/wiotp-client/poc/device/agent/types"
	"github.com/margo/wiotp-client/sdk/rc"
	"github.com/margo/wiotp-client/sdk/utils"
)

const (
	manageRetryInterval = 5 * time.Second
	manageMaxRetries    = 10
)

type manageable interface {
	Manage(ctx context.Context) error
	Unmanage(ctx context.Context, reqID string) error
	IsManaged() bool
}

type OnboardingManager interface {
	Manage(ctx context.Context) error
	KeepTryingManageIfFailed(ctx context.Context) error
	Unmanage(ctx context.Context) error
	IsManaged() bool
}

// dmOnboardingManager registers the device with the device management
// service.
type dmOnboardingManager struct {
	device        manageable
	log           *zap.SugaredLogger
	retryInterval time.Duration
	maxRetries    int
}

func NewOnboardingManager(device manageable, log *zap.SugaredLogger) OnboardingManager {
	return &dmOnboardingManager{
		device:        device,
		log:           log,
		retryInterval: manageRetryInterval,
		maxRetries:    manageMaxRetries,
	}
}

func (om *dmOnboardingManager) KeepTryingManageIfFailed(ctx context.Context) error {
	if err := om.Manage(ctx); err == nil {
		return nil
	} else if !retryable(err) {
		return err
	}

	retryCount := 1
	ticker := time.NewTicker(om.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := om.Manage(ctx)
			if err == nil {
				om.log.Infow("Device management registration completed", "attempts", retryCount+1)
				return nil
			}

			retryCount++
			om.log.Warnw("Manage request failed, will retry",
				"error", err.Error(),
				"attempt", retryCount,
				"maxRetries", om.maxRetries,
				"retryDelay", om.retryInterval)

			if retryCount >= om.maxRetries || !retryable(err) {
				om.log.Errorw("Manage request failed after maximum retries",
					"attempts", retryCount,
					"lastError", err.Error())
				return types.ManageError(types.OperationManaging,
					fmt.Errorf("manage failed after %d attempts: %w", retryCount, err), false)
			}

		case <-ctx.Done():
			om.log.Info("Agent startup cancelled while managing the device")
			return ctx.Err()
		}
	}
}

// retryable reports whether another manage attempt can succeed. A rejection
// by the platform is final.
func retryable(err error) bool {
	return rc.Of(err) != rc.DMActionFailed
}

func (om *dmOnboardingManager) Manage(ctx context.Context) error {
	om.log.Info("Sending manage request...")
	if err := om.device.Manage(ctx); err != nil {
		return types.ManageError(types.OperationManaging, err, retryable(err))
	}
	om.log.Info("Device is managed")
	return nil
}

func (om *dmOnboardingManager) Unmanage(ctx context.Context) error {
	if !om.device.IsManaged() {
		return nil
	}
	if err := om.device.Unmanage(ctx, utils.GenerateReqID()); err != nil {
		return types.ManageError(types.OperationUnmanaging, err, false)
	}
	om.log.Info("Device is no longer managed")
	return nil
}

func (om *dmOnboardingManager) IsManaged() bool {
	return om.device.IsManaged()
}
