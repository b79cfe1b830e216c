package domain

import (
	"time"
)

// Record represents a stored passport entry
type Record struct {
	ID             uint64    `json:"id"`
	ExternalNumber string    `json:"external_number"` // opaque, never validated nor deduplicated
	DocumentRef    string    `json:"document_ref"`    // opaque pointer to an off-ledger blob
	Owner          string    `json:"owner"`           // immutable after creation
	Active         bool      `json:"active"`          // true -> false only
	CreatedAt      time.Time `json:"created_at"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
}

// OwnedBy reports whether the record belongs to the identity
func (r *Record) OwnedBy(identity string) bool {
	return r.Owner == NormalizeIdentity(identity)
}

// Delegation represents a time-boxed, account-level access grant from one identity to another
type Delegation struct {
	Grantor   string      `json:"grantor"`
	Delegatee string      `json:"delegatee"`
	Level     AccessLevel `json:"level"`
	Purpose   string      `json:"purpose"`
	Active    bool        `json:"active"`
	GrantedAt time.Time   `json:"granted_at"`
	Expiry    time.Time   `json:"expiry"`
}

// IsEffective reports whether the delegation grants access at the given instant.
// Expired delegations need no cleanup: they are simply not effective anymore.
func (d *Delegation) IsEffective(now time.Time) bool {
	if d == nil {
		return false
	}
	return d.Active && !now.After(d.Expiry) && d.Level != AccessLevelNone
}

// RecordAccessGrant represents a persistent record-scoped permission level.
// A grant of NONE is equivalent to no grant.
type RecordAccessGrant struct {
	RecordID  uint64      `json:"record_id"`
	Grantee   string      `json:"grantee"`
	Level     AccessLevel `json:"level"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// VerificationStatus represents the state of a verification request
type VerificationStatus string

const (
	VerificationStatusPending  VerificationStatus = "PENDING"
	VerificationStatusApproved VerificationStatus = "APPROVED"
	VerificationStatusRejected VerificationStatus = "REJECTED"
)

// VerificationRequest represents a third party's request for the record owner to attest a record
type VerificationRequest struct {
	ID        uint64    `json:"id"`
	RecordID  uint64    `json:"record_id"`
	Requester string    `json:"requester"`
	Owner     string    `json:"owner"` // snapshot of the record owner at request time
	Approved  bool      `json:"approved"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
}

// Status derives the state machine position from the processed and approved flags
func (v *VerificationRequest) Status() VerificationStatus {
	switch {
	case !v.Processed:
		return VerificationStatusPending
	case v.Approved:
		return VerificationStatusApproved
	default:
		return VerificationStatusRejected
	}
}

// IsVerified reports whether the request was processed and approved
func (v *VerificationRequest) IsVerified() bool {
	return v != nil && v.Processed && v.Approved
}
