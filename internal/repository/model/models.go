package model

import "time"

type Room struct {
	Name         string    `gorm:"size:255;primaryKey"`
	CreatedBy    string    `gorm:"size:255;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	LastActivity time.Time `gorm:"index;not null"`
}

type Message struct {
	ID       string    `gorm:"size:36;primaryKey"`
	Room     string    `gorm:"size:255;index:idx_messages_room_sent_at,priority:1;not null"`
	Username string    `gorm:"size:255;not null"`
	Text     string    `gorm:"type:text;not null"`
	SentAt   time.Time `gorm:"index:idx_messages_room_sent_at,priority:2;not null"`
}
