package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable chat line. Timestamp is assigned by the store.
type Message struct {
	ID        uuid.UUID
	Room      string
	Username  string
	Text      string
	Timestamp time.Time
}

func NewMessage(room, username, text string, at time.Time) *Message {
	return &Message{
		ID:        uuid.New(),
		Room:      room,
		Username:  username,
		Text:      text,
		Timestamp: at.UTC(),
	}
}
