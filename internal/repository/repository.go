package repository

//go:generate mockgen -source=repository.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"github.com/immxrtalbeast/chatrelay/internal/domain"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room with this name already exists")
)

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByName(ctx context.Context, name string) (*domain.Room, error)
	// TouchActivity moves the room's last activity forward. It never moves it back.
	TouchActivity(ctx context.Context, name string, at time.Time) error
	// List returns rooms ordered by last activity, most recent first.
	List(ctx context.Context) ([]*domain.Room, error)
}

type MessageRepository interface {
	// Append stores a message and assigns its id and timestamp.
	Append(ctx context.Context, room, username, text string) (*domain.Message, error)
	// Recent returns the newest limit messages of a room, oldest first.
	Recent(ctx context.Context, room string, limit int) ([]*domain.Message, error)
}
