package database

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/margo/wiotp-client/sdk/dm"
)

type changeLog struct {
	mu      sync.Mutex
	changes []ChangeType
	records []ActionRecord
}

func (c *changeLog) record(_ string, rec ActionRecord, change ChangeType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
	c.records = append(c.records, rec)
}

func (c *changeLog) count(change ChangeType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ch := range c.changes {
		if ch == change {
			n++
		}
	}
	return n
}

func TestAddAndGetAction(t *testing.T) {
	db := NewDatabase(t.TempDir(), zap.NewNop().Sugar())
	defer db.Close()

	require.NoError(t, db.AddAction(ActionRecord{ReqID: "r1", Type: dm.ActionReboot}))

	rec, err := db.GetAction("r1")
	require.NoError(t, err)
	assert.Equal(t, PhasePending, rec.Phase)
	assert.Equal(t, dm.ActionReboot, rec.Type)
	assert.False(t, rec.Received.IsZero())

	// the returned record is a copy
	rec.Phase = PhaseFailed
	again, _ := db.GetAction("r1")
	assert.Equal(t, PhasePending, again.Phase)

	assert.Error(t, db.AddAction(ActionRecord{ReqID: "r1"}))
	assert.Error(t, db.AddAction(ActionRecord{}))

	_, err = db.GetAction("missing")
	assert.Error(t, err)
}

func TestSubscribersSeeChanges(t *testing.T) {
	db := NewDatabase(t.TempDir(), zap.NewNop().Sugar())
	defer db.Close()

	var log changeLog
	db.Subscribe(log.record)

	require.NoError(t, db.AddAction(ActionRecord{ReqID: "r1", Type: dm.ActionReboot}))
	require.NoError(t, db.SetPhase("r1", PhaseAccepted, 202, ""))
	require.NoError(t, db.MarkResponded("r1"))
	db.RemoveAction("r1")

	assert.Eventually(t, func() bool {
		return log.count(ChangeActionAdded) == 1 &&
			log.count(ChangeActionPhaseChanged) == 1 &&
			log.count(ChangeActionResponded) == 1 &&
			log.count(ChangeActionRemoved) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, db.SetPhase("r1", PhaseFailed, 0, ""))
	assert.Error(t, db.MarkResponded("r1"))
}

func TestSetPhaseKeepsPendingCode(t *testing.T) {
	db := NewDatabase(t.TempDir(), zap.NewNop().Sugar())
	defer db.Close()

	require.NoError(t, db.AddAction(ActionRecord{ReqID: "r1"}))
	require.NoError(t, db.SetPhase("r1", PhaseAccepted, 202, "accepted"))
	require.NoError(t, db.MarkResponded("r1"))
	require.NoError(t, db.SetPhase("r1", PhaseSucceeded, 0, ""))

	rec, err := db.GetAction("r1")
	require.NoError(t, err)
	assert.Equal(t, 202, rec.Code)
	assert.True(t, rec.Responded)
	assert.Equal(t, PhaseSucceeded, rec.Phase)
	assert.Empty(t, rec.Message)
}

func TestListActions(t *testing.T) {
	db := NewDatabase(t.TempDir(), zap.NewNop().Sugar())
	defer db.Close()

	base := time.Now()
	require.NoError(t, db.AddAction(ActionRecord{ReqID: "b", Received: base.Add(time.Second)}))
	require.NoError(t, db.AddAction(ActionRecord{ReqID: "a", Received: base}))
	require.NoError(t, db.AddAction(ActionRecord{ReqID: "c", Received: base.Add(2 * time.Second), Phase: PhaseFailed}))

	all := db.ListActions()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ReqID, all[1].ReqID, all[2].ReqID})

	pending := db.ListActions(PhasePending)
	assert.Len(t, pending, 2)
	assert.Len(t, db.ListActions(PhaseFailed, PhaseSucceeded), 1)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	installed := time.Now().UTC().Truncate(time.Second)

	db := NewDatabase(dir, zap.NewNop().Sugar())
	require.NoError(t, db.AddAction(ActionRecord{ReqID: "r1", Type: dm.ActionFirmwareUpdate}))
	db.SetFirmware(FirmwareRecord{Version: "2.0", InstalledAt: &installed, UpdateStatus: dm.FirmwareSuccess})
	db.AddErrorCode(1001)
	db.Close()
	db.Close()

	_, err := os.Stat(filepath.Join(dir, fileName))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, fileName+".tmp"))
	assert.True(t, os.IsNotExist(err))

	reopened := NewDatabase(dir, zap.NewNop().Sugar())
	defer reopened.Close()

	rec, err := reopened.GetAction("r1")
	require.NoError(t, err)
	assert.Equal(t, dm.ActionFirmwareUpdate, rec.Type)

	fw := reopened.GetFirmware()
	assert.Equal(t, "2.0", fw.Version)
	require.NotNil(t, fw.InstalledAt)
	assert.True(t, installed.Equal(*fw.InstalledAt))
	assert.Equal(t, dm.FirmwareSuccess, fw.UpdateStatus)
	assert.Equal(t, []int{1001}, reopened.ErrorCodes())
}

func TestCorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("{not json"), 0644))

	db := NewDatabase(dir, zap.NewNop().Sugar())
	defer db.Close()
	assert.Empty(t, db.ListActions())
}

func TestReset(t *testing.T) {
	db := NewDatabase(t.TempDir(), zap.NewNop().Sugar())
	defer db.Close()

	require.NoError(t, db.AddAction(ActionRecord{ReqID: "done", Phase: PhaseSucceeded}))
	require.NoError(t, db.AddAction(ActionRecord{ReqID: "busy", Phase: PhaseAccepted}))
	db.SetFirmware(FirmwareRecord{Version: "2.0"})
	db.AddErrorCode(1)
	db.AddErrorCode(2)
	assert.Equal(t, []int{1, 2}, db.ErrorCodes())

	db.Reset()

	assert.Len(t, db.ListActions(), 1)
	_, err := db.GetAction("busy")
	assert.NoError(t, err)
	assert.Empty(t, db.GetFirmware().Version)
	assert.Empty(t, db.ErrorCodes())

	db.AddErrorCode(3)
	db.ClearErrorCodes()
	assert.Empty(t, db.ErrorCodes())
}

func TestPersistFailureIsLogged(t *testing.T) {
	// a regular file where the data directory should be
	dir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0644))

	core, logs := observer.New(zapcore.ErrorLevel)
	db := NewDatabase(dir, zap.New(core).Sugar())
	require.NoError(t, db.AddAction(ActionRecord{ReqID: "r1", Type: dm.ActionReboot}))
	db.Close()

	entries := logs.FilterMessage("Failed to persist agent database").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, dir, entries[0].ContextMap()["dir"])
	assert.Contains(t, entries[0].ContextMap()["error"], "database-write")
}
