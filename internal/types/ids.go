package types

import (
	"time"

	"github.com/google/uuid"
)

// InstanceID identifies a running filter instance in logs.
type InstanceID string

// NewInstanceID generates a UUIDv7 instance identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.Must(uuid.NewV7()).String())
}

// NewRecordName returns a time-ordered name for records that carry no ID.
func NewRecordName() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Started returns the creation time embedded in the instance ID, truncated to
// milliseconds. It is zero for IDs that are not UUIDv7.
func (id InstanceID) Started() time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil || u.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
