package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/margo/wiotp-client/poc/device/agent/database"
	"github.com/margo/wiotp-client/poc/device/agent/types"
	"github.com/margo/wiotp-client/sdk/dm"
)

const (
	actionTimeout    = 15 * time.Minute
	rcNotImplemented = 501
)

type ActionExecutorIfc interface {
	Start()
	Stop()
	Accept(a dm.Action)
}

type firmwareRunner interface {
	Download(ctx context.Context, a dm.Action) (string, error)
	Update(ctx context.Context, a dm.Action, apply func(path string) error) error
}

// ActionExecutor runs the device actions stored in the database. Reboot and
// factory reset are acknowledged first and carried out once the response
// is out.
type ActionExecutor struct {
	database   database.DatabaseIfc
	firmware   firmwareRunner
	attributes func() dm.Attributes
	installDir string
	log        *zap.SugaredLogger

	// restart simulates a reboot; reset wipes device state before it.
	restart func(ctx context.Context) error
	reset   func(ctx context.Context, reqID string) error

	mu       sync.Mutex
	inflight map[string]dm.Action
	// rejected maps a request to the reason it will be refused with.
	rejected map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewActionExecutor(db database.DatabaseIfc, firmware firmwareRunner, attributes func() dm.Attributes, installDir string, log *zap.SugaredLogger) *ActionExecutor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ActionExecutor{
		database:   db,
		firmware:   firmware,
		attributes: attributes,
		installDir: installDir,
		log:        log,
		restart:    func(context.Context) error { return nil },
		reset:      func(context.Context, string) error { return nil },
		inflight:   make(map[string]dm.Action),
		rejected:   make(map[string]string),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (e *ActionExecutor) Start() {
	// Actions left over from a previous run can no longer be answered.
	for _, record := range e.database.ListActions(database.PhasePending, database.PhaseAccepted, database.PhaseRunning) {
		e.log.Warnw("Abandoning action from previous run", "reqId", record.ReqID, "action", record.Type.String())
		// the request is gone, so an owed response must not go out later
		if record.Code != 0 && !record.Responded {
			if err := e.database.MarkResponded(record.ReqID); err != nil {
				e.log.Warnw("Failed to drop stale response", "reqId", record.ReqID, "error", err)
			}
		}
		if err := e.database.SetPhase(record.ReqID, database.PhaseFailed, 0, "agent restarted"); err != nil {
			e.log.Warnw("Failed to abandon action", "reqId", record.ReqID, "error", err)
		}
	}
	e.database.Subscribe(e.onActionChange)
}

func (e *ActionExecutor) Stop() {
	e.cancel()
	e.wg.Wait()
}

// Accept is the device action handler. It records the action; execution
// starts from the database event.
func (e *ActionExecutor) Accept(a dm.Action) {
	e.mu.Lock()
	if isFirmware(a.Type) && e.firmwareBusy() {
		e.rejected[a.ReqID] = "firmware action already in progress"
	} else {
		e.inflight[a.ReqID] = a
	}
	e.mu.Unlock()

	err := e.database.AddAction(database.ActionRecord{
		ReqID: a.ReqID,
		Type:  a.Type,
		Phase: database.PhasePending,
	})
	if err != nil {
		e.log.Errorw("Failed to record action", "reqId", a.ReqID, "action", a.Type.String(), "error", err)
		e.forget(a.ReqID)
		return
	}
	e.log.Infow("Action received", "reqId", a.ReqID, "action", a.Type.String())
}

func (e *ActionExecutor) forget(reqID string) {
	e.mu.Lock()
	delete(e.inflight, reqID)
	delete(e.rejected, reqID)
	e.mu.Unlock()
}

func isFirmware(t dm.ActionType) bool {
	return t == dm.ActionFirmwareDownload || t == dm.ActionFirmwareUpdate
}

// firmwareBusy reports whether a firmware action is in flight. Callers hold
// e.mu.
func (e *ActionExecutor) firmwareBusy() bool {
	for _, a := range e.inflight {
		if isFirmware(a.Type) {
			return true
		}
	}
	return false
}

func (e *ActionExecutor) rejection(reqID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reason, ok := e.rejected[reqID]
	return reason, ok
}

func (e *ActionExecutor) tracked(reqID string) (dm.Action, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.inflight[reqID]
	return a, ok
}

func (e *ActionExecutor) onActionChange(reqID string, record database.ActionRecord, change database.ChangeType) {
	if e.ctx.Err() != nil {
		return
	}

	switch change {
	case database.ChangeActionAdded:
		e.run(func(ctx context.Context) { e.execute(ctx, record) })
	case database.ChangeActionResponded:
		if record.Phase == database.PhaseAccepted {
			e.run(func(ctx context.Context) { e.complete(ctx, record) })
		}
	}
}

func (e *ActionExecutor) run(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, actionTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (e *ActionExecutor) setPhase(reqID string, phase database.ActionPhase, code int, message string) {
	if err := e.database.SetPhase(reqID, phase, code, message); err != nil {
		e.log.Errorw("Failed to update action phase", "reqId", reqID, "phase", phase, "error", err)
	}
	if phase.Terminal() {
		e.forget(reqID)
	}
}

func (e *ActionExecutor) execute(ctx context.Context, record database.ActionRecord) {
	if reason, rejected := e.rejection(record.ReqID); rejected {
		e.log.Warnw("Rejecting action", "reqId", record.ReqID, "action", record.Type.String(), "reason", reason)
		e.setPhase(record.ReqID, database.PhaseFailed, dm.RCBadRequest, reason)
		return
	}

	a, ok := e.tracked(record.ReqID)
	if !ok {
		e.setPhase(record.ReqID, database.PhaseFailed, 0, "action is not tracked")
		return
	}

	switch record.Type {
	case dm.ActionReboot:
		e.setPhase(record.ReqID, database.PhaseAccepted, dm.RCRebootInitiated, "")

	case dm.ActionFactoryReset:
		e.setPhase(record.ReqID, database.PhaseAccepted, dm.RCFactoryResetInitiated, "")

	case dm.ActionFirmwareDownload:
		e.setPhase(record.ReqID, database.PhaseRunning, 0, "")
		e.downloadFirmware(ctx, a)

	case dm.ActionFirmwareUpdate:
		e.setPhase(record.ReqID, database.PhaseRunning, 0, "")
		e.updateFirmware(ctx, a)

	default:
		e.setPhase(record.ReqID, database.PhaseFailed, rcNotImplemented,
			fmt.Sprintf("%s is not supported", record.Type))
	}
}

// complete carries out an acknowledged reboot or factory reset.
func (e *ActionExecutor) complete(ctx context.Context, record database.ActionRecord) {
	var err error
	switch record.Type {
	case dm.ActionFactoryReset:
		e.log.Infow("Resetting device to factory defaults", "reqId", record.ReqID)
		if err = e.reset(ctx, record.ReqID); err != nil {
			err = types.ExecutorError(types.OperationFactoryReset, err)
			break
		}
		fallthrough
	case dm.ActionReboot:
		e.log.Infow("Rebooting device", "reqId", record.ReqID)
		if err = e.restart(ctx); err != nil {
			err = types.ExecutorError(types.OperationRebooting, err)
		}
	default:
		return
	}

	if err != nil {
		e.log.Errorw("Device action failed", "reqId", record.ReqID, "action", record.Type.String(), "error", err)
		e.setPhase(record.ReqID, database.PhaseFailed, 0, err.Error())
		return
	}
	e.setPhase(record.ReqID, database.PhaseSucceeded, 0, "")
}

func (e *ActionExecutor) downloadFirmware(ctx context.Context, a dm.Action) {
	fw := e.attributes().Firmware
	path, err := e.firmware.Download(ctx, a)
	if err != nil {
		err = types.ExecutorError(types.OperationFirmwareDownload, err)
		e.log.Errorw("Firmware download failed", "reqId", a.ReqID, "uri", fw.URI, "error", err)
		e.recordFirmware(func(r *database.FirmwareRecord) {
			r.State = dm.FirmwareIdle
			r.UpdateStatus = e.attributes().Firmware.UpdateStatus
		})
		e.setPhase(a.ReqID, database.PhaseFailed, 0, err.Error())
		return
	}

	e.recordFirmware(func(r *database.FirmwareRecord) {
		r.URI = fw.URI
		r.ImagePath = path
		r.State = dm.FirmwareDownloaded
		r.UpdateStatus = dm.FirmwareSuccess
	})
	e.setPhase(a.ReqID, database.PhaseSucceeded, 0, "")
}

func (e *ActionExecutor) updateFirmware(ctx context.Context, a dm.Action) {
	var installed string
	err := e.firmware.Update(ctx, a, func(path string) error {
		target, err := e.install(path)
		installed = target
		return err
	})
	if err != nil {
		e.log.Errorw("Firmware update failed", "reqId", a.ReqID, "error", err)
		e.recordFirmware(func(r *database.FirmwareRecord) {
			r.State = dm.FirmwareIdle
			r.UpdateStatus = e.attributes().Firmware.UpdateStatus
		})
		e.setPhase(a.ReqID, database.PhaseFailed, 0, err.Error())
		return
	}

	now := time.Now()
	fw := e.attributes().Firmware
	e.recordFirmware(func(r *database.FirmwareRecord) {
		r.Version = fw.Version
		r.ImagePath = installed
		r.InstalledAt = &now
		r.State = dm.FirmwareIdle
		r.UpdateStatus = dm.FirmwareSuccess
	})
	e.setPhase(a.ReqID, database.PhaseSucceeded, 0, "")
}

// install moves a downloaded image into the install directory.
func (e *ActionExecutor) install(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", types.ExecutorError(types.OperationFirmwareUpdate, err)
	}
	if err := os.MkdirAll(e.installDir, 0755); err != nil {
		return "", types.ExecutorError(types.OperationFirmwareUpdate, err)
	}
	target := filepath.Join(e.installDir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return "", types.ExecutorError(types.OperationFirmwareUpdate, err)
	}
	e.log.Infow("Firmware image installed", "path", target)
	return target, nil
}

func (e *ActionExecutor) recordFirmware(change func(r *database.FirmwareRecord)) {
	r := e.database.GetFirmware()
	change(&r)
	e.database.SetFirmware(r)
}

var errNoImage = errors.New("no firmware image installed")

// installedImage returns the path of the installed image, if any.
func installedImage(db database.DatabaseIfc) (string, error) {
	r := db.GetFirmware()
	if r.InstalledAt == nil || r.ImagePath == "" {
		return "", errNoImage
	}
	return r.ImagePath, nil
}
