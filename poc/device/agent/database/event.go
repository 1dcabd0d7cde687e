package database

// Event system for database changes
type ChangeType string

const (
	ChangeActionAdded        ChangeType = "ACTION-ADDED"
	ChangeActionPhaseChanged ChangeType = "ACTION-PHASE-CHANGED"
	ChangeActionResponded    ChangeType = "ACTION-RESPONDED"
	ChangeActionRemoved      ChangeType = "ACTION-REMOVED"
)

// Subscriber is called with a copy of the changed record.
type Subscriber func(reqID string, record ActionRecord, change ChangeType)
