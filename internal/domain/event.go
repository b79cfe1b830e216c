package domain

import (
	"time"
)

// EventType represents the type of ledger event
type EventType string

const (
	EventTypeRecordStored          EventType = "record.stored"
	EventTypeRecordUpdated         EventType = "record.updated"
	EventTypeRecordDeactivated     EventType = "record.deactivated"
	EventTypeAccessGranted         EventType = "delegation.granted"
	EventTypeAccessRevoked         EventType = "delegation.revoked"
	EventTypePassportAccessGranted EventType = "record_access.granted"
	EventTypePassportAccessRevoked EventType = "record_access.revoked"
	EventTypeVerificationRequested EventType = "verification.requested"
	EventTypeVerificationApproved  EventType = "verification.approved"
	EventTypeVerificationRejected  EventType = "verification.rejected"
)

// AllEventTypes lists every event type the ledger emits
var AllEventTypes = []EventType{
	EventTypeRecordStored,
	EventTypeRecordUpdated,
	EventTypeRecordDeactivated,
	EventTypeAccessGranted,
	EventTypeAccessRevoked,
	EventTypePassportAccessGranted,
	EventTypePassportAccessRevoked,
	EventTypeVerificationRequested,
	EventTypeVerificationApproved,
	EventTypeVerificationRejected,
}

// IsValidEventType checks if an event type is emitted by the ledger
func IsValidEventType(eventType EventType) bool {
	for _, t := range AllEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// LedgerEvent represents a structured event emitted by exactly one successful mutation.
// Field usage per type:
//   - record.stored: RecordID, Actor (owner), ExternalNumber
//   - record.updated: RecordID, Actor, DocumentRef
//   - record.deactivated: RecordID, Actor
//   - delegation.granted: Actor (grantor), Subject (delegatee), Level, Purpose, Expiry
//   - delegation.revoked: Actor (grantor), Subject (delegatee)
//   - record_access.granted: RecordID, Actor (owner), Subject (grantee), Level
//   - record_access.revoked: RecordID, Actor (owner), Subject (grantee)
//   - verification.requested: RequestID, RecordID, Actor (requester), Subject (snapshot owner)
//   - verification.approved / verification.rejected: RequestID, RecordID, Actor (owner)
type LedgerEvent struct {
	Sequence       uint64       `json:"sequence"`
	Type           EventType    `json:"type"`
	RecordID       uint64       `json:"record_id,omitempty"`
	RequestID      uint64       `json:"request_id,omitempty"`
	Actor          string       `json:"actor"`
	Subject        string       `json:"subject,omitempty"`
	ExternalNumber string       `json:"external_number,omitempty"`
	DocumentRef    string       `json:"document_ref,omitempty"`
	Level          *AccessLevel `json:"level,omitempty"`
	Purpose        string       `json:"purpose,omitempty"`
	Expiry         *time.Time   `json:"expiry,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
	PrevHash       string       `json:"prev_hash"`
	Hash           string       `json:"hash"`
}

// Payload returns a copy of the event without its journal position and chain hashes,
// with timestamps in UTC. This is the part covered by the event hash.
func (e LedgerEvent) Payload() LedgerEvent {
	e.Sequence = 0
	e.PrevHash = ""
	e.Hash = ""
	e.OccurredAt = e.OccurredAt.UTC()
	if e.Expiry != nil {
		expiry := e.Expiry.UTC()
		e.Expiry = &expiry
	}
	return e
}

// EventFilter narrows journal queries
type EventFilter struct {
	After    uint64 // exclusive sequence cursor
	RecordID *uint64
	Limit    int
}
