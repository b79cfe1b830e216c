package schema

// LedgerCounter represents the ledger_counters table - named monotonic counters.
// The "ledger" row is locked FOR UPDATE by every unit of work to serialize mutations.
type LedgerCounter struct {
	Name  string `gorm:"column:name;primaryKey;type:varchar(64)"`
	Value uint64 `gorm:"column:value;not null;default:0"`
}

// TableName specifies the table name for the LedgerCounter model
func (LedgerCounter) TableName() string {
	return "ledger_counters"
}
