package schema

import "time"

// Delegation represents the delegations table - account-level delegations keyed by (grantor, delegatee)
type Delegation struct {
	Grantor   string `gorm:"column:grantor;primaryKey;type:text"`
	Delegatee string `gorm:"column:delegatee;primaryKey;type:text"`
	// Level is the numeric access level (1 VIEW, 2 EDIT, 3 FULL)
	Level   uint8  `gorm:"column:level;not null;type:smallint"`
	Purpose string `gorm:"column:purpose;not null;type:text"`
	// Active is cleared by revocation; expiry does not touch it
	Active    bool      `gorm:"column:active;not null"`
	GrantedAt time.Time `gorm:"column:granted_at;not null;type:timestamptz"`
	Expiry    time.Time `gorm:"column:expiry;not null;type:timestamptz;index"`
}

// TableName specifies the table name for the Delegation model
func (Delegation) TableName() string {
	return "delegations"
}
