// Package caxton holds the identifiers and error taxonomy shared by every
// Caxton subsystem: the sandbox host, the lifecycle manager, the message
// router, and the memory store all exchange values defined here instead of
// reaching past each other's package boundaries.
package caxton

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is an opaque 128-bit identifier used for agents, messages,
// conversations, entities, and relations.
type ID uuid.UUID

// Nil is the zero-value ID, never assigned to a real entity.
var Nil ID

// NewID allocates a fresh random ID.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical string form of an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("%w: %s", ErrInvalidID, err)
	}
	return ID(u), nil
}

// String returns the canonical hyphenated representation.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero ID.
func (id ID) IsNil() bool {
	return id == Nil
}

// Bytes returns the 16-byte wire representation.
func (id ID) Bytes() [16]byte {
	return uuid.UUID(id)
}

// IDFromBytes reconstructs an ID from its 16-byte wire representation.
func IDFromBytes(b [16]byte) ID {
	return ID(b)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalJSON(data); err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

// Value implements driver.Valuer so IDs can be stored as GORM columns.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseID(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		parsed, err := ParseID(string(v))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case nil:
		*id = Nil
		return nil
	default:
		return fmt.Errorf("%w: unsupported scan source %T", ErrInvalidID, src)
	}
}
