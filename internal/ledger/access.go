package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feral-file/passport-ledger/internal/domain"
)

// AccessControl manages account-level delegations and record-level grants.
// The two mechanisms are stored separately: delegations expire, grants only end by revocation.
type AccessControl struct {
	host Host
}

// NewAccessControl creates an access control layer on the given host
func NewAccessControl(host Host) *AccessControl {
	return &AccessControl{host: host}
}

// GrantDelegation grants the delegatee an account-level level for durationDays days,
// overwriting any prior delegation of the pair
func (a *AccessControl) GrantDelegation(ctx context.Context, grantor, delegatee string, level domain.AccessLevel, durationDays uint32, purpose string) error {
	grantor = domain.NormalizeIdentity(grantor)
	delegatee = domain.NormalizeIdentity(delegatee)

	if domain.IsZeroIdentity(grantor) {
		return fmt.Errorf("%w: grantor identity is required", domain.ErrInvalidIdentity)
	}
	if domain.IsZeroIdentity(delegatee) || delegatee == grantor {
		return fmt.Errorf("%w: %q", domain.ErrInvalidDelegatee, delegatee)
	}
	if !level.Grantable() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidLevel, level)
	}

	_, err := a.host.apply(ctx, func(ctx context.Context, st State, now time.Time) (*domain.LedgerEvent, error) {
		expiry := now.AddDate(0, 0, int(durationDays))
		if expiry.Year() > domain.MAX_EXPIRY_YEAR {
			return nil, fmt.Errorf("%w: %d days", domain.ErrInvalidDuration, durationDays)
		}

		delegation := &domain.Delegation{
			Grantor:   grantor,
			Delegatee: delegatee,
			Level:     level,
			Purpose:   purpose,
			Active:    true,
			GrantedAt: now,
			Expiry:    expiry,
		}
		if err := st.SaveDelegation(ctx, delegation); err != nil {
			return nil, fmt.Errorf("failed to save delegation: %w", err)
		}

		return &domain.LedgerEvent{
			Type:    domain.EventTypeAccessGranted,
			Actor:   grantor,
			Subject: delegatee,
			Level:   &level,
			Purpose: purpose,
			Expiry:  &expiry,
		}, nil
	})
	return err
}

// RevokeDelegation deactivates the delegation of a pair
func (a *AccessControl) RevokeDelegation(ctx context.Context, grantor, delegatee string) error {
	grantor = domain.NormalizeIdentity(grantor)
	delegatee = domain.NormalizeIdentity(delegatee)

	_, err := a.host.apply(ctx, func(ctx context.Context, st State, now time.Time) (*domain.LedgerEvent, error) {
		delegation, err := st.GetDelegation(ctx, grantor, delegatee)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("delegation %s -> %s: %w", grantor, delegatee, domain.ErrNoActiveDelegation)
			}
			return nil, fmt.Errorf("failed to get delegation: %w", err)
		}
		if !delegation.Active {
			return nil, fmt.Errorf("delegation %s -> %s: %w", grantor, delegatee, domain.ErrNoActiveDelegation)
		}

		delegation.Active = false
		if err := st.SaveDelegation(ctx, delegation); err != nil {
			return nil, fmt.Errorf("failed to save delegation: %w", err)
		}

		return &domain.LedgerEvent{
			Type:    domain.EventTypeAccessRevoked,
			Actor:   grantor,
			Subject: delegatee,
		}, nil
	})
	return err
}

// HasAccess reports whether the owner currently delegates access to the delegatee.
// Expired delegations stop granting access without any cleanup call.
func (a *AccessControl) HasAccess(ctx context.Context, owner, delegatee string) (bool, error) {
	delegation, err := a.host.Backend.GetDelegation(ctx, domain.NormalizeIdentity(owner), domain.NormalizeIdentity(delegatee))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get delegation: %w", err)
	}
	return delegation.IsEffective(a.host.now()), nil
}

// GetDelegation returns the stored delegation of a pair, effective or not
func (a *AccessControl) GetDelegation(ctx context.Context, grantor, delegatee string) (*domain.Delegation, error) {
	delegation, err := a.host.Backend.GetDelegation(ctx, domain.NormalizeIdentity(grantor), domain.NormalizeIdentity(delegatee))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("delegation %s -> %s: %w", grantor, delegatee, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get delegation: %w", err)
	}
	return delegation, nil
}

// GrantRecordAccess sets the grantee's level on a record the caller actively owns
func (a *AccessControl) GrantRecordAccess(ctx context.Context, caller string, recordID uint64, grantee string, level domain.AccessLevel) error {
	caller = domain.NormalizeIdentity(caller)
	grantee = domain.NormalizeIdentity(grantee)

	_, err := a.host.apply(ctx, func(ctx context.Context, st State, now time.Time) (*domain.LedgerEvent, error) {
		owned, err := verifyOwnership(ctx, st, recordID, caller)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, fmt.Errorf("record %d: %w", recordID, domain.ErrNotOwner)
		}
		if !level.Grantable() || domain.IsZeroIdentity(grantee) {
			return nil, fmt.Errorf("%w: level %s for grantee %q", domain.ErrInvalidLevel, level, grantee)
		}

		grant := &domain.RecordAccessGrant{
			RecordID:  recordID,
			Grantee:   grantee,
			Level:     level,
			UpdatedAt: now,
		}
		if err := st.SaveRecordAccessGrant(ctx, grant); err != nil {
			return nil, fmt.Errorf("failed to save record access grant: %w", err)
		}

		return &domain.LedgerEvent{
			Type:     domain.EventTypePassportAccessGranted,
			RecordID: recordID,
			Actor:    caller,
			Subject:  grantee,
			Level:    &level,
		}, nil
	})
	return err
}

// RevokeRecordAccess resets the grantee's level on a record the caller actively owns to NONE.
// Revoking a grantee without a grant succeeds.
func (a *AccessControl) RevokeRecordAccess(ctx context.Context, caller string, recordID uint64, grantee string) error {
	caller = domain.NormalizeIdentity(caller)
	grantee = domain.NormalizeIdentity(grantee)

	_, err := a.host.apply(ctx, func(ctx context.Context, st State, now time.Time) (*domain.LedgerEvent, error) {
		owned, err := verifyOwnership(ctx, st, recordID, caller)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, fmt.Errorf("record %d: %w", recordID, domain.ErrNotOwner)
		}
		if domain.IsZeroIdentity(grantee) {
			return nil, fmt.Errorf("%w: grantee identity is required", domain.ErrInvalidLevel)
		}

		grant := &domain.RecordAccessGrant{
			RecordID:  recordID,
			Grantee:   grantee,
			Level:     domain.AccessLevelNone,
			UpdatedAt: now,
		}
		if err := st.SaveRecordAccessGrant(ctx, grant); err != nil {
			return nil, fmt.Errorf("failed to save record access grant: %w", err)
		}

		return &domain.LedgerEvent{
			Type:     domain.EventTypePassportAccessRevoked,
			RecordID: recordID,
			Actor:    caller,
			Subject:  grantee,
		}, nil
	})
	return err
}

// CanView reports whether the user owns the record or holds any grant on it
func (a *AccessControl) CanView(ctx context.Context, recordID uint64, user string) (bool, error) {
	level, err := a.GetPassportAccessLevel(ctx, recordID, user)
	if err != nil {
		return false, err
	}
	return level.AtLeast(domain.AccessLevelView), nil
}

// CanEdit reports whether the user owns the record or holds an EDIT or FULL grant on it
func (a *AccessControl) CanEdit(ctx context.Context, recordID uint64, user string) (bool, error) {
	level, err := a.GetPassportAccessLevel(ctx, recordID, user)
	if err != nil {
		return false, err
	}
	return level.AtLeast(domain.AccessLevelEdit), nil
}

// GetPassportAccessLevel returns the user's effective level on a record:
// FULL for the owner, otherwise the stored grant, NONE when there is none
func (a *AccessControl) GetPassportAccessLevel(ctx context.Context, recordID uint64, user string) (domain.AccessLevel, error) {
	user = domain.NormalizeIdentity(user)

	record, err := a.host.Backend.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AccessLevelNone, nil
		}
		return domain.AccessLevelNone, fmt.Errorf("failed to get record: %w", err)
	}
	if record.OwnedBy(user) {
		return domain.AccessLevelFull, nil
	}

	grant, err := a.host.Backend.GetRecordAccessGrant(ctx, recordID, user)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AccessLevelNone, nil
		}
		return domain.AccessLevelNone, fmt.Errorf("failed to get record access grant: %w", err)
	}
	return grant.Level, nil
}
