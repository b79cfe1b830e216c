package schema

import "time"

// Record represents the records table - passport records
type Record struct {
	// ID is the sequential record id issued by the records counter
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement:false"`
	// ExternalNumber is the opaque passport number supplied by the owner, not unique
	ExternalNumber string `gorm:"column:external_number;not null;type:text"`
	// DocumentRef is the opaque reference to the passport document (e.g. ipfs://<cid>)
	DocumentRef string `gorm:"column:document_ref;not null;type:text"`
	// Owner is the normalized identity that created the record
	Owner string `gorm:"column:owner;not null;type:text;index:idx_records_owner_id,priority:1"`
	// Active is cleared by deactivation and never set again
	Active bool `gorm:"column:active;not null"`
	// CreatedAt is the host clock reading when the record was stored
	CreatedAt time.Time `gorm:"column:created_at;not null;type:timestamptz"`
	// LastUpdatedAt is the host clock reading of the last mutation
	LastUpdatedAt time.Time `gorm:"column:last_updated_at;not null;type:timestamptz"`
}

// TableName specifies the table name for the Record model
func (Record) TableName() string {
	return "records"
}
