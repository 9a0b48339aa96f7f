// Package models defines GORM database models for radiarr entities.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID identifies audio files. It is stored as its 26 character string
// form and a zero ULID is stored as NULL.
type ULID ulid.ULID

// NewULID generates a new ULID. IDs generated within the same millisecond
// are monotonically increasing, so ordering by ID is creation order, which
// is what playlist cursors rely on.
func NewULID() ULID {
	return ULID(ulid.Make())
}

// ParseULID parses a ULID string. The empty string is the zero ULID.
func ParseULID(s string) (ULID, error) {
	if s == "" {
		return ULID{}, nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID %q: %w", s, err)
	}
	return ULID(id), nil
}

func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero reports whether u is unset.
func (u ULID) IsZero() bool {
	return u == ULID{}
}

// Value implements driver.Valuer.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan implements sql.Scanner.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	id, err := ParseULID(s)
	if err != nil {
		return err
	}
	*u = id
	return nil
}

// MarshalJSON encodes a zero ULID as null.
func (u ULID) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(u.String())
}

// UnmarshalJSON accepts null, "" or a ULID string.
func (u *ULID) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid ULID JSON: %w", err)
	}
	if s == nil {
		*u = ULID{}
		return nil
	}
	id, err := ParseULID(*s)
	if err != nil {
		return err
	}
	*u = id
	return nil
}

// GormDataType returns the column type GORM migrates ULID fields to.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// BaseModel is embedded by models keyed by ULID.
type BaseModel struct {
	ID        ULID           `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate generates a ULID if not already set.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewULID()
	}
	return nil
}
