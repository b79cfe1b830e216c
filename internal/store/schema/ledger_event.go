package schema

import (
	"time"

	"gorm.io/datatypes"
)

// LedgerEvent represents the ledger_events table - the append-only hash-chained event journal
type LedgerEvent struct {
	// Sequence is the gap-free journal position starting at 1
	Sequence uint64 `gorm:"column:sequence;primaryKey;autoIncrement:false"`
	// EventType is the ledger event type (e.g. "record.stored")
	EventType string `gorm:"column:event_type;not null;type:varchar(50)"`
	// RecordID is set for record-scoped events, nil otherwise
	RecordID *uint64 `gorm:"column:record_id;index"`
	// Actor is the identity that issued the command
	Actor string `gorm:"column:actor;not null;type:text"`
	// Payload is the complete event as JSON
	Payload    datatypes.JSON `gorm:"column:payload;not null;type:jsonb"`
	OccurredAt time.Time      `gorm:"column:occurred_at;not null;type:timestamptz"`
	PrevHash   string         `gorm:"column:prev_hash;not null;type:varchar(64)"`
	Hash       string         `gorm:"column:hash;not null;unique;type:varchar(64)"`
}

// TableName specifies the table name for the LedgerEvent model
func (LedgerEvent) TableName() string {
	return "ledger_events"
}
