package service

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/chatrelay/internal/domain"
	"github.com/immxrtalbeast/chatrelay/internal/repository"
)

var (
	ErrRoomNotFound   = repository.ErrRoomNotFound
	ErrRoomExists     = repository.ErrRoomExists
	ErrInvalidRoom    = errors.New("invalid room")
	ErrMalformedEvent = errors.New("malformed event")
	ErrInvalidState   = errors.New("event not allowed in current state")
	ErrSessionClosed  = errors.New("session closed")
)

type RoomInteractor interface {
	CreateRoom(ctx context.Context, name string, createdBy string) (*domain.Room, error)
	ListRooms(ctx context.Context) ([]*domain.Room, error)
	History(ctx context.Context, name string) ([]*domain.Message, error)
	ActiveRoomCount() int
	Ping(ctx context.Context) error
}

type ChatInteractor interface {
	Connect(ctx context.Context, conn *domain.Connection) *Session
	Shutdown() int
	Wait(ctx context.Context) error
}
