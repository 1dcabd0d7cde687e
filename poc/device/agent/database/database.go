package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/margo/wiotp-client/poc/device/agent/types"
	"github.com/margo/wiotp-client/sdk/dm"
)

const fileName = "agent.database.json"

type ActionPhase string

const (
	PhasePending   ActionPhase = "pending"
	PhaseAccepted  ActionPhase = "accepted"
	PhaseRunning   ActionPhase = "running"
	PhaseSucceeded ActionPhase = "succeeded"
	PhaseFailed    ActionPhase = "failed"
)

func (p ActionPhase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// ActionRecord tracks a device management action from receipt to
// completion. A non-zero Code is a response still owed to the platform.
type ActionRecord struct {
	ReqID       string        `json:"reqId"`
	Type        dm.ActionType `json:"type"`
	Phase       ActionPhase   `json:"phase"`
	Code        int           `json:"code,omitempty"`
	Message     string        `json:"message,omitempty"`
	Responded   bool          `json:"responded"`
	Received    time.Time     `json:"received"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

type FirmwareRecord struct {
	Version      string                  `json:"version,omitempty"`
	URI          string                  `json:"uri,omitempty"`
	ImagePath    string                  `json:"imagePath,omitempty"`
	InstalledAt  *time.Time              `json:"installedAt,omitempty"`
	State        dm.FirmwareState        `json:"state"`
	UpdateStatus dm.FirmwareUpdateStatus `json:"updateStatus"`
	LastUpdated  time.Time               `json:"lastUpdated"`
}

type DatabaseIfc interface {
	// TriggerDataPersist queues a background save.
	TriggerDataPersist()
	Close()
	Subscribe(callback Subscriber)
	AddAction(record ActionRecord) error
	SetPhase(reqID string, phase ActionPhase, code int, message string) error
	MarkResponded(reqID string) error
	GetAction(reqID string) (*ActionRecord, error)
	ListActions(phases ...ActionPhase) []ActionRecord
	RemoveAction(reqID string)
	GetFirmware() FirmwareRecord
	SetFirmware(record FirmwareRecord)
	AddErrorCode(code int)
	ClearErrorCodes()
	ErrorCodes() []int
	Reset()
}

type dump struct {
	Actions    map[string]*ActionRecord `json:"actions"`
	Firmware   FirmwareRecord           `json:"firmware"`
	ErrorCodes []int                    `json:"errorCodes"`
}

type Database struct {
	actions      map[string]*ActionRecord
	firmware     FirmwareRecord
	errorCodes   []int
	subscribers  []Subscriber
	mu           sync.RWMutex
	subscriberMu sync.RWMutex

	// for persistence
	log         *zap.SugaredLogger
	dataDir     string
	persistChan chan struct{}
	stopPersist chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

func NewDatabase(dataDir string, log *zap.SugaredLogger) *Database {
	db := &Database{
		actions:     make(map[string]*ActionRecord),
		log:         log,
		dataDir:     dataDir,
		persistChan: make(chan struct{}, 1),
		stopPersist: make(chan struct{}),
		done:        make(chan struct{}),
	}

	// Load from disk
	db.load()

	go db.persistenceLoop()

	return db
}

func (db *Database) TriggerDataPersist() {
	select {
	case db.persistChan <- struct{}{}:
	default: // Already queued
	}
}

// Close stops the persistence loop after a final save.
func (db *Database) Close() {
	db.closeOnce.Do(func() {
		close(db.stopPersist)
		<-db.done
	})
}

func (db *Database) persistenceLoop() {
	defer close(db.done)
	ticker := time.NewTicker(30 * time.Second) // Periodic saves
	defer ticker.Stop()

	for {
		select {
		case <-db.persistChan:
			db.persist()
		case <-ticker.C:
			db.persist()
		case <-db.stopPersist:
			db.persist() // Final save
			return
		}
	}
}

func (db *Database) persist() {
	if err := db.save(); err != nil {
		db.log.Errorw("Failed to persist agent database", "dir", db.dataDir, "error", err)
	}
}

func (db *Database) save() error {
	db.mu.RLock()
	data, err := json.MarshalIndent(dump{
		Actions:    db.actions,
		Firmware:   db.firmware,
		ErrorCodes: db.errorCodes,
	}, "", "  ")
	db.mu.RUnlock()
	if err != nil {
		return types.DatabaseError(types.OperationDatabaseWrite, err)
	}

	if err := os.MkdirAll(db.dataDir, 0755); err != nil {
		return types.DatabaseError(types.OperationDatabaseWrite, err)
	}
	tempFile := filepath.Join(db.dataDir, fileName+".tmp")
	finalFile := filepath.Join(db.dataDir, fileName)

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return types.DatabaseError(types.OperationDatabaseWrite, err)
	}
	// Atomic
	if err := os.Rename(tempFile, finalFile); err != nil {
		return types.DatabaseError(types.OperationDatabaseWrite, err)
	}
	return nil
}

func (db *Database) load() {
	data, err := os.ReadFile(filepath.Join(db.dataDir, fileName))
	if err != nil {
		return // File doesn't exist, start fresh
	}

	var d dump
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if d.Actions != nil {
		db.actions = d.Actions
	}
	db.firmware = d.Firmware
	db.errorCodes = d.ErrorCodes
}

func (db *Database) Subscribe(callback Subscriber) {
	db.subscriberMu.Lock()
	defer db.subscriberMu.Unlock()
	db.subscribers = append(db.subscribers, callback)
}

func (db *Database) notify(record *ActionRecord, change ChangeType) {
	db.subscriberMu.RLock()
	subscribers := make([]Subscriber, len(db.subscribers))
	copy(subscribers, db.subscribers)
	db.subscriberMu.RUnlock()

	rec := *record
	for _, callback := range subscribers {
		go callback(rec.ReqID, rec, change)
	}
}

func (db *Database) AddAction(record ActionRecord) error {
	if record.ReqID == "" {
		return types.DatabaseError(types.OperationDatabaseWrite, fmt.Errorf("action has no reqId"))
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.actions[record.ReqID]; exists {
		return types.DatabaseError(types.OperationDatabaseWrite, fmt.Errorf("action %s already recorded", record.ReqID))
	}
	if record.Phase == "" {
		record.Phase = PhasePending
	}
	now := time.Now()
	if record.Received.IsZero() {
		record.Received = now
	}
	record.LastUpdated = now

	db.actions[record.ReqID] = &record
	db.notify(&record, ChangeActionAdded)
	db.TriggerDataPersist()
	return nil
}

// SetPhase moves an action to phase. A non-zero code queues a response
// carrying code and message.
func (db *Database) SetPhase(reqID string, phase ActionPhase, code int, message string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	record, exists := db.actions[reqID]
	if !exists {
		return types.DatabaseError(types.OperationDatabaseWrite, fmt.Errorf("action %s not found", reqID))
	}

	record.Phase = phase
	record.Message = message
	if code != 0 {
		record.Code = code
		record.Responded = false
	}
	record.LastUpdated = time.Now()
	db.notify(record, ChangeActionPhaseChanged)
	db.TriggerDataPersist()
	return nil
}

func (db *Database) MarkResponded(reqID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	record, exists := db.actions[reqID]
	if !exists {
		return types.DatabaseError(types.OperationDatabaseWrite, fmt.Errorf("action %s not found", reqID))
	}
	record.Responded = true
	record.LastUpdated = time.Now()
	db.notify(record, ChangeActionResponded)
	db.TriggerDataPersist()
	return nil
}

func (db *Database) GetAction(reqID string) (*ActionRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	record, exists := db.actions[reqID]
	if !exists {
		return nil, types.DatabaseError(types.OperationDatabaseRead, fmt.Errorf("action %s not found", reqID))
	}

	// Return a copy
	copy := *record
	return &copy, nil
}

// ListActions returns the actions in any of phases, or all of them, oldest
// first.
func (db *Database) ListActions(phases ...ActionPhase) []ActionRecord {
	db.mu.RLock()
	defer db.mu.RUnlock()

	records := make([]ActionRecord, 0, len(db.actions))
	for _, record := range db.actions {
		if len(phases) > 0 && !hasPhase(phases, record.Phase) {
			continue
		}
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Received.Before(records[j].Received)
	})
	return records
}

func hasPhase(phases []ActionPhase, p ActionPhase) bool {
	for _, phase := range phases {
		if phase == p {
			return true
		}
	}
	return false
}

func (db *Database) RemoveAction(reqID string) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if record, exists := db.actions[reqID]; exists {
		delete(db.actions, reqID)
		db.notify(record, ChangeActionRemoved)
		db.TriggerDataPersist()
	}
}

func (db *Database) GetFirmware() FirmwareRecord {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.firmware
}

func (db *Database) SetFirmware(record FirmwareRecord) {
	db.mu.Lock()
	defer db.mu.Unlock()
	record.LastUpdated = time.Now()
	db.firmware = record
	db.TriggerDataPersist()
}

func (db *Database) AddErrorCode(code int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.errorCodes = append(db.errorCodes, code)
	db.TriggerDataPersist()
}

func (db *Database) ClearErrorCodes() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.errorCodes = nil
	db.TriggerDataPersist()
}

func (db *Database) ErrorCodes() []int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]int(nil), db.errorCodes...)
}

// Reset forgets finished actions, the firmware record and the error codes.
// Actions still in flight are kept.
func (db *Database) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()

	for reqID, record := range db.actions {
		if record.Phase.Terminal() {
			delete(db.actions, reqID)
		}
	}
	db.firmware = FirmwareRecord{}
	db.errorCodes = nil
	db.TriggerDataPersist()
}
