package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kr/pretty"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/poc/device/agent/database"
)

type StatusReporterIfc interface {
	Start()
	Stop()
}

type actionResponder interface {
	ActionResponse(ctx context.Context, reqID string, code int, message string) error
}

// StatusReporter answers actions whose record carries a pending response
// code.
type StatusReporter struct {
	database  database.DatabaseIfc
	responder actionResponder
	log       *zap.SugaredLogger
	timeout   time.Duration
	stopped   atomic.Bool
}

func NewStatusReporter(db database.DatabaseIfc, responder actionResponder, log *zap.SugaredLogger) *StatusReporter {
	return &StatusReporter{
		database:  db,
		responder: responder,
		log:       log,
		timeout:   10 * time.Second,
	}
}

func (sr *StatusReporter) Start() {
	// Subscribe to database changes for status updates
	sr.database.Subscribe(sr.onActionChange)
}

func (sr *StatusReporter) Stop() {
	sr.stopped.Store(true)
}

func (sr *StatusReporter) onActionChange(reqID string, record database.ActionRecord, change database.ChangeType) {
	if sr.stopped.Load() || change != database.ChangeActionPhaseChanged {
		return
	}
	if record.Code == 0 || record.Responded {
		return
	}
	sr.log.Debugw("Action phase changed", "record", pretty.Sprint(record))
	sr.reportStatus(reqID, record)
}

func (sr *StatusReporter) reportStatus(reqID string, record database.ActionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), sr.timeout)
	defer cancel()

	if err := sr.responder.ActionResponse(ctx, reqID, record.Code, record.Message); err != nil {
		sr.log.Errorw("Failed to report action status", "reqId", reqID, "action", record.Type.String(), "rc", record.Code, "error", err)
		if !record.Phase.Terminal() {
			if err := sr.database.SetPhase(reqID, database.PhaseFailed, 0, err.Error()); err != nil {
				sr.log.Warnw("Failed to record action failure", "reqId", reqID, "error", err)
			}
		}
		return
	}

	if err := sr.database.MarkResponded(reqID); err != nil {
		sr.log.Warnw("Failed to mark action responded", "reqId", reqID, "error", err)
		return
	}
	sr.log.Debugw("Action status reported", "reqId", reqID, "phase", record.Phase, "rc", record.Code)
}
