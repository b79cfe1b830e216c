package schema

import "time"

// RecordAccessGrant represents the record_access_grants table - per-record grants keyed by (record_id, grantee)
type RecordAccessGrant struct {
	RecordID uint64 `gorm:"column:record_id;primaryKey;autoIncrement:false"`
	Grantee  string `gorm:"column:grantee;primaryKey;type:text"`
	// Level 0 (NONE) is kept after a revocation
	Level     uint8     `gorm:"column:level;not null;type:smallint"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;type:timestamptz"`
}

// TableName specifies the table name for the RecordAccessGrant model
func (RecordAccessGrant) TableName() string {
	return "record_access_grants"
}
