package session

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewEventID returns a ULID for an event written at t. ULIDs sort by time,
// so lexical order of IDs is append order.
func NewEventID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// EventTime recovers the timestamp encoded in an event ID.
func EventTime(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
