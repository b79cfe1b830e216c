package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced record, request or delegation does not exist
	ErrNotFound = errors.New("not found")

	// ErrNotOwner is returned when the caller lacks ownership required by a record-scoped mutation
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrInactive is returned when an operation requires an active record
	ErrInactive = errors.New("record is inactive")

	// ErrAlreadyInactive is returned when a record is deactivated twice
	ErrAlreadyInactive = errors.New("record is already inactive")

	// ErrInvalidDelegatee is returned for a zero identity or self delegation
	ErrInvalidDelegatee = errors.New("invalid delegatee")

	// ErrInvalidLevel is returned when a grant carries level NONE, an unknown level or an invalid grantee
	ErrInvalidLevel = errors.New("invalid access level")

	// ErrInvalidDuration is returned when a delegation expiry falls outside the representable range
	ErrInvalidDuration = errors.New("invalid delegation duration")

	// ErrNoActiveDelegation is returned when revoking a pair without an active delegation
	ErrNoActiveDelegation = errors.New("no active delegation")

	// ErrSelfVerification is returned when the requester owns the record
	ErrSelfVerification = errors.New("cannot request verification of own record")

	// ErrInvalidIdentity is returned when a command arrives without a caller identity
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrAlreadyProcessed is returned when approving or rejecting a terminal verification request
	ErrAlreadyProcessed = errors.New("verification request already processed")
)
