package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/immxrtalbeast/chatrelay/internal/domain"
	"github.com/immxrtalbeast/chatrelay/internal/repository"
	"github.com/immxrtalbeast/chatrelay/lib/logger/sl"
)

const defaultHistoryLimit = 100

type pinger interface {
	Ping(ctx context.Context) error
}

// RoomService backs the HTTP side-channel: room listing, creation and history.
type RoomService struct {
	rooms        repository.RoomRepository
	messages     repository.MessageRepository
	registry     *Registry
	log          *slog.Logger
	historyLimit int
}

func NewRoomService(
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	registry *Registry,
	historyLimit int,
	log *slog.Logger,
) *RoomService {
	if log == nil {
		log = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &RoomService{
		rooms:        rooms,
		messages:     messages,
		registry:     registry,
		log:          log,
		historyLimit: historyLimit,
	}
}

func (s *RoomService) CreateRoom(ctx context.Context, name string, createdBy string) (*domain.Room, error) {
	const op = "service.room.create"
	log := s.log.With(slog.String("op", op), slog.String("room", name))

	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRoom)
	}
	if utf8.RuneCountInString(strings.TrimSpace(name)) > domain.MaxRoomNameLength {
		return nil, fmt.Errorf("%w: name is longer than %d characters", ErrInvalidRoom, domain.MaxRoomNameLength)
	}
	if strings.TrimSpace(createdBy) == "" {
		return nil, fmt.Errorf("%w: creator is required", ErrInvalidRoom)
	}

	room := domain.NewRoom(name, createdBy)
	if err := s.rooms.Create(ctx, room); err != nil {
		if errors.Is(err, repository.ErrRoomExists) {
			log.Info("room already exists")
			return nil, ErrRoomExists
		}
		log.Error("failed to create room", sl.Err(err))
		return nil, err
	}

	log.Info("room created", slog.String("created_by", room.CreatedBy))
	return room, nil
}

func (s *RoomService) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	const op = "service.room.list"

	rooms, err := s.rooms.List(ctx)
	if err != nil {
		s.log.Error("failed to list rooms", slog.String("op", op), sl.Err(err))
		return nil, err
	}
	return rooms, nil
}

func (s *RoomService) History(ctx context.Context, name string) ([]*domain.Message, error) {
	const op = "service.room.history"
	log := s.log.With(slog.String("op", op), slog.String("room", name))

	if _, err := s.rooms.GetByName(ctx, name); err != nil {
		if !errors.Is(err, repository.ErrRoomNotFound) {
			log.Error("failed to look up room", sl.Err(err))
		}
		return nil, err
	}

	messages, err := s.messages.Recent(ctx, name, s.historyLimit)
	if err != nil {
		log.Error("failed to fetch history", sl.Err(err))
		return nil, err
	}
	return messages, nil
}

func (s *RoomService) ActiveRoomCount() int {
	return s.registry.ActiveRoomCount()
}

// Ping checks the room store when it supports it. The memory store always answers.
func (s *RoomService) Ping(ctx context.Context) error {
	p, ok := s.rooms.(pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}
