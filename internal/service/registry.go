package service

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/chatrelay/internal/domain"
	"github.com/immxrtalbeast/chatrelay/lib/logger/sl"
)

type member struct {
	conn     *domain.Connection
	username string
}

// Registry maps room names to their open connections. A room has an entry
// only while it has at least one member. Snapshots and deliveries happen
// under one lock acquisition, so a broadcast never sees a stale member set.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string][]member
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		rooms: make(map[string][]member),
		log:   log,
	}
}

// Register adds conn to room. Registering the same handle twice is a no-op.
func (r *Registry) Register(room string, conn *domain.Connection, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.rooms[room] {
		if m.conn == conn {
			return
		}
	}
	r.rooms[room] = append(r.rooms[room], member{conn: conn, username: username})
}

// Unregister removes conn from room and drops the entry once it is empty.
// It reports whether conn was a member and how many members remain.
func (r *Registry) Unregister(room string, conn *domain.Connection) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return false, 0
	}

	idx := -1
	for i, m := range members {
		if m.conn == conn {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, len(members)
	}

	remaining := make([]member, 0, len(members)-1)
	remaining = append(remaining, members[:idx]...)
	remaining = append(remaining, members[idx+1:]...)

	if len(remaining) == 0 {
		delete(r.rooms, room)
		return true, 0
	}
	r.rooms[room] = remaining
	return true, len(remaining)
}

// ActiveUsers returns usernames in join order.
func (r *Registry) ActiveUsers(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return usernames(r.rooms[room])
}

func (r *Registry) HasRoom(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room]
	return ok
}

func (r *Registry) ActiveRoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Broadcast delivers event to every open member of room and returns how many
// accepted it. Closed or saturated connections are skipped.
func (r *Registry) Broadcast(room string, event any) int {
	payload, err := json.Marshal(event)
	if err != nil {
		r.log.Error("failed to encode broadcast", slog.String("room", room), sl.Err(err))
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deliver(room, r.rooms[room], payload)
}

// BroadcastUserList sends the room's current member list to every member.
func (r *Registry) BroadcastUserList(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	if len(members) == 0 {
		return 0
	}

	payload, err := json.Marshal(domain.NewUserListEvent(usernames(members)))
	if err != nil {
		r.log.Error("failed to encode user list", slog.String("room", room), sl.Err(err))
		return 0
	}
	return r.deliver(room, members, payload)
}

// CloseAll closes every registered connection and empties the registry.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string][]member)
	r.mu.Unlock()

	closed := 0
	for _, members := range rooms {
		for _, m := range members {
			if m.conn.Close() {
				closed++
			}
		}
	}
	r.log.Info("closed chat connections", slog.Int("count", closed))
	return closed
}

func (r *Registry) deliver(room string, members []member, payload []byte) int {
	delivered := 0
	for _, m := range members {
		if !m.conn.IsOpen() {
			continue
		}
		if !m.conn.Enqueue(payload) {
			r.log.Debug("dropping broadcast event",
				slog.String("room", room),
				slog.String("conn_id", m.conn.ID),
			)
			continue
		}
		delivered++
	}
	return delivered
}

func usernames(members []member) []string {
	users := make([]string, 0, len(members))
	for _, m := range members {
		users = append(users, m.username)
	}
	return users
}
