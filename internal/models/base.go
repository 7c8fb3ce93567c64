// Package models defines GORM database models for clipdock entities.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID is the primary-key type for all clipdock entities. It stores as a
// 26-character string and sorts lexically by creation time.
type ULID ulid.ULID

// NewULID returns a fresh identifier. IDs minted within the same
// millisecond stay monotonic, so insertion order survives sorting.
func NewULID() ULID {
	return ULID(ulid.Make())
}

// ParseULID converts the canonical 26-character form back into a ULID.
func ParseULID(s string) (ULID, error) {
	parsed, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(parsed), nil
}

// MustParseULID is ParseULID for trusted literals; it panics on bad input.
func MustParseULID(s string) ULID {
	id, err := ParseULID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical 26-character encoding.
func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero reports whether the ULID is unset.
func (u ULID) IsZero() bool {
	return u == ULID{}
}

// Value implements driver.Valuer. Zero IDs store as NULL.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan implements sql.Scanner for string and []byte columns.
func (u *ULID) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*u = ULID{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ULID", src)
	}

	if raw == "" {
		*u = ULID{}
		return nil
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = ULID(parsed)
	return nil
}

// MarshalJSON encodes the ULID as a JSON string, zero as null.
func (u ULID) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(u.String())
}

// UnmarshalJSON accepts a JSON string, the empty string, or null.
func (u *ULID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*u = ULID{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid ULID JSON: %w", err)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("parsing ULID JSON: %w", err)
	}
	*u = ULID(parsed)
	return nil
}

// GormDataType tells GORM how to type ULID columns.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// BaseModel carries the identity and bookkeeping columns shared by every
// persisted entity.
type BaseModel struct {
	ID        ULID           `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns an ID to rows inserted without one.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewULID()
	}
	return nil
}
