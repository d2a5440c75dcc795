package domain

import (
	"strings"
	"time"
)

// MaxRoomNameLength is the longest room name, in characters, accepted on
// create and on join.
const MaxRoomNameLength = 64

// Room is a durably recorded chat channel. Name is its unique identifier.
type Room struct {
	Name         string
	CreatedBy    string
	CreatedAt    time.Time
	LastActivity time.Time
}

// NewRoom constructs a room created now by the given display name. Times are
// kept at microsecond precision to match what the SQL stores return.
func NewRoom(name string, createdBy string) *Room {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Room{
		Name:         strings.TrimSpace(name),
		CreatedBy:    strings.TrimSpace(createdBy),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Touch moves LastActivity forward to at. Older timestamps are ignored.
func (r *Room) Touch(at time.Time) bool {
	if r == nil || !at.After(r.LastActivity) {
		return false
	}
	r.LastActivity = at.UTC()
	return true
}
