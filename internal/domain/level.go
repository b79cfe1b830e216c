package domain

import (
	"fmt"
	"strings"
)

// AccessLevel is the privilege carried by a delegation or a record grant.
// Levels are ordered: NONE < VIEW < EDIT < FULL.
type AccessLevel uint8

const (
	AccessLevelNone AccessLevel = iota
	AccessLevelView
	AccessLevelEdit
	AccessLevelFull
)

var accessLevelNames = map[AccessLevel]string{
	AccessLevelNone: "NONE",
	AccessLevelView: "VIEW",
	AccessLevelEdit: "EDIT",
	AccessLevelFull: "FULL",
}

// String returns the text form of the level
func (l AccessLevel) String() string {
	if name, ok := accessLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("AccessLevel(%d)", uint8(l))
}

// Valid checks if the level is one of the known levels
func (l AccessLevel) Valid() bool {
	_, ok := accessLevelNames[l]
	return ok
}

// Grantable checks if the level may be granted (known and not NONE)
func (l AccessLevel) Grantable() bool {
	return l.Valid() && l != AccessLevelNone
}

// AtLeast reports whether l carries at least the privilege of other
func (l AccessLevel) AtLeast(other AccessLevel) bool {
	return l >= other
}

// MarshalText implements encoding.TextMarshaler
func (l AccessLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid access level: %d", uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *AccessLevel) UnmarshalText(text []byte) error {
	level, err := ParseAccessLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// ParseAccessLevel parses the text form of a level, case-insensitively
func ParseAccessLevel(s string) (AccessLevel, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	for level, name := range accessLevelNames {
		if name == normalized {
			return level, nil
		}
	}
	return AccessLevelNone, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}
