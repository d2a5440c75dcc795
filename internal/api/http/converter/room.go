package converter

import (
	"time"

	"github.com/immxrtalbeast/chatrelay/internal/domain"
)

type RoomResponse struct {
	Name         string    `json:"name"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

type MessageResponse struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func RoomToApi(r *domain.Room) *RoomResponse {
	return &RoomResponse{
		Name:         r.Name,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt.UTC(),
		LastActivity: r.LastActivity.UTC(),
	}
}

func RoomsToApi(rooms []*domain.Room) []*RoomResponse {
	result := make([]*RoomResponse, 0, len(rooms))
	for _, r := range rooms {
		if r == nil {
			continue
		}
		result = append(result, RoomToApi(r))
	}
	return result
}

func MessageToApi(m *domain.Message) *MessageResponse {
	return &MessageResponse{
		ID:        m.ID.String(),
		Room:      m.Room,
		Username:  m.Username,
		Message:   m.Text,
		Timestamp: m.Timestamp.UTC(),
	}
}

func MessagesToApi(messages []*domain.Message) []*MessageResponse {
	result := make([]*MessageResponse, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		result = append(result, MessageToApi(m))
	}
	return result
}
