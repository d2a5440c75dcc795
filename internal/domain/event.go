package domain

import "time"

type EventType string

const (
	EventJoin             EventType = "join"
	EventMessage          EventType = "message"
	EventLeave            EventType = "leave"
	EventPreviousMessages EventType = "previousMessages"
	EventUserList         EventType = "userList"
	EventError            EventType = "error"
)

// InboundEvent is a client frame. Text is accepted as an alias of Message.
type InboundEvent struct {
	Type     EventType `json:"type"`
	Room     string    `json:"room,omitempty"`
	Username string    `json:"username,omitempty"`
	Message  string    `json:"message,omitempty"`
	Text     string    `json:"text,omitempty"`
}

func (e *InboundEvent) Body() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Text
}

type HistoryEntry struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type PreviousMessagesEvent struct {
	Type     EventType      `json:"type"`
	Messages []HistoryEntry `json:"messages"`
}

type UserListEvent struct {
	Type  EventType `json:"type"`
	Users []string  `json:"users"`
}

type ChatEvent struct {
	Type      EventType `json:"type"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func NewPreviousMessagesEvent(messages []*Message) PreviousMessagesEvent {
	entries := make([]HistoryEntry, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		entries = append(entries, HistoryEntry{
			Text:      m.Text,
			Sender:    m.Username,
			Timestamp: m.Timestamp.UTC(),
		})
	}
	return PreviousMessagesEvent{Type: EventPreviousMessages, Messages: entries}
}

func NewUserListEvent(users []string) UserListEvent {
	if users == nil {
		users = []string{}
	}
	return UserListEvent{Type: EventUserList, Users: users}
}

func NewChatEvent(m *Message) ChatEvent {
	return ChatEvent{
		Type:      EventMessage,
		Username:  m.Username,
		Message:   m.Text,
		Timestamp: m.Timestamp.UTC(),
	}
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}
