// Package domain provides the building blocks shared by every wndlink context:
// typed identifiers, an injectable clock, domain events and the
// key/value persistence port.
package domain

import "github.com/google/uuid"

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// EntityID is a typed string identifier.
type EntityID string

// NewID returns a random UUIDv4 identifier.
func NewID() EntityID {
	return EntityID(uuid.NewString())
}

// NewTimeOrderedID returns a UUIDv7 identifier. Its leading bits are the
// creation time in milliseconds, so ids sort by creation order.
func NewTimeOrderedID() EntityID {
	id, err := uuid.NewV7()
	if err != nil {
		return NewID()
	}
	return EntityID(id.String())
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return string(id) }

// IsZero returns true if the ID is empty.
func (id EntityID) IsZero() bool { return id == "" }
