package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/immxrtalbeast/chatrelay/internal/domain"
)

type InMemoryRoomRepository struct {
	mu    sync.RWMutex
	rooms map[string]*domain.Room
}

func NewInMemoryRoomRepository() *InMemoryRoomRepository {
	return &InMemoryRoomRepository{
		rooms: make(map[string]*domain.Room),
	}
}

func (r *InMemoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room.Name]; ok {
		return ErrRoomExists
	}

	stored := *room
	r.rooms[room.Name] = &stored
	return nil
}

func (r *InMemoryRoomRepository) GetByName(ctx context.Context, name string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[name]
	if !ok {
		return nil, ErrRoomNotFound
	}

	out := *room
	return &out, nil
}

func (r *InMemoryRoomRepository) TouchActivity(ctx context.Context, name string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[name]
	if !ok {
		return ErrRoomNotFound
	}

	room.Touch(at)
	return nil
}

func (r *InMemoryRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out := *room
		result = append(result, &out)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].LastActivity.Equal(result[j].LastActivity) {
			return strings.Compare(result[i].Name, result[j].Name) < 0
		}
		return result[i].LastActivity.After(result[j].LastActivity)
	})
	return result, nil
}

type InMemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string][]*domain.Message
	clock    *monotonicClock
}

func NewInMemoryMessageRepository() *InMemoryMessageRepository {
	return &InMemoryMessageRepository{
		messages: make(map[string][]*domain.Message),
		clock:    newMonotonicClock(),
	}
}

func (r *InMemoryMessageRepository) Append(ctx context.Context, room, username, text string) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	msg := domain.NewMessage(room, username, text, r.clock.Next())
	r.messages[room] = append(r.messages[room], msg)

	out := *msg
	return &out, nil
}

func (r *InMemoryMessageRepository) Recent(ctx context.Context, room string, limit int) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.messages[room]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}

	result := make([]*domain.Message, 0, len(all))
	for _, m := range all {
		out := *m
		result = append(result, &out)
	}
	return result, nil
}
