package schema

import "time"

// VerificationRequest represents the verification_requests table
type VerificationRequest struct {
	// ID is the sequential request id issued by the verification request counter
	ID       uint64 `gorm:"column:id;primaryKey;autoIncrement:false"`
	RecordID uint64 `gorm:"column:record_id;not null;index"`
	// Requester is the identity asking the owner to verify the record
	Requester string `gorm:"column:requester;not null;type:text"`
	// Owner is the record owner snapshotted when the request was opened
	Owner     string    `gorm:"column:owner;not null;type:text"`
	Approved  bool      `gorm:"column:approved;not null"`
	Processed bool      `gorm:"column:processed;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;type:timestamptz"`
}

// TableName specifies the table name for the VerificationRequest model
func (VerificationRequest) TableName() string {
	return "verification_requests"
}
