package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/chatrelay/internal/domain"
	"github.com/immxrtalbeast/chatrelay/internal/repository"
	"github.com/immxrtalbeast/chatrelay/lib/logger/sl"
)

const (
	errTextRoomNotFound = "Room does not exist"
	errTextJoinFailed   = "Failed to join room"
)

type SessionState int

const (
	StateUnjoined SessionState = iota
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the protocol state machine of one connection.
type Session struct {
	chat   *ChatService
	conn   *domain.Connection
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    SessionState
	room     string
	username string
	busy     int
	tracked  bool
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the joined room, or "" when not joined.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) Connection() *domain.Connection {
	return s.conn
}

// Handle decodes one inbound frame and applies its transition. Malformed
// frames and events invalid in the current state are logged and discarded;
// the returned error is informational and the session stays usable.
// Close may run concurrently with Handle.
func (s *Session) Handle(raw []byte) error {
	const op = "service.session.handle"

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.busy++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy--
		s.finish()
		s.mu.Unlock()
	}()

	event, err := decodeEvent(raw)
	if err != nil {
		s.log.Warn("discarding malformed event", slog.String("op", op), sl.Err(err))
		return err
	}

	switch event.Type {
	case domain.EventJoin:
		err = s.join(event)
	case domain.EventMessage:
		err = s.message(event)
	case domain.EventLeave:
		err = s.leave()
	}

	if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrMalformedEvent) {
		s.log.Warn("discarding event",
			slog.String("op", op),
			slog.String("type", string(event.Type)),
			sl.Err(err),
		)
	}
	return err
}

func (s *Session) join(event *domain.InboundEvent) error {
	const op = "service.session.join"
	log := s.log.With(
		slog.String("op", op),
		slog.String("room", event.Room),
		slog.String("username", event.Username),
	)

	if state := s.State(); state != StateUnjoined {
		return fmt.Errorf("%w: join while %s", ErrInvalidState, state)
	}

	lookupCtx, cancel := s.chat.storeContext(s.ctx)
	_, err := s.chat.rooms.GetByName(lookupCtx, event.Room)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			log.Info("join rejected, room does not exist")
			s.send(domain.NewErrorEvent(errTextRoomNotFound))
			return ErrRoomNotFound
		}
		log.Error("failed to look up room", sl.Err(err))
		s.send(domain.NewErrorEvent(errTextJoinFailed))
		return fmt.Errorf("%s: %w", op, err)
	}

	s.chat.touchActivity(s.ctx, event.Room)

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		log.Info("session closed during join")
		return ErrSessionClosed
	case StateJoined:
		s.mu.Unlock()
		return fmt.Errorf("%w: join while %s", ErrInvalidState, StateJoined)
	}
	s.chat.registry.Register(event.Room, s.conn, event.Username)
	s.state = StateJoined
	s.room = event.Room
	s.username = event.Username
	s.mu.Unlock()

	if history := s.chat.recentMessages(s.ctx, event.Room); len(history) > 0 {
		s.send(domain.NewPreviousMessagesEvent(history))
	}
	s.send(domain.NewUserListEvent(s.chat.registry.ActiveUsers(event.Room)))
	s.chat.registry.BroadcastUserList(event.Room)

	log.Info("joined room")
	return nil
}

func (s *Session) message(event *domain.InboundEvent) error {
	const op = "service.session.message"

	s.mu.Lock()
	state, room := s.state, s.room
	s.mu.Unlock()

	if state != StateJoined {
		return fmt.Errorf("%w: message while %s", ErrInvalidState, state)
	}
	if event.Room != room {
		return fmt.Errorf("%w: message for room %q while joined to %q", ErrMalformedEvent, event.Room, room)
	}

	log := s.log.With(slog.String("op", op), slog.String("room", room))

	s.chat.touchActivity(s.ctx, room)

	ctx, cancel := s.chat.storeContext(s.ctx)
	defer cancel()

	msg, err := s.chat.messages.Append(ctx, room, event.Username, event.Body())
	if err != nil {
		log.Error("failed to save chat message", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	delivered := s.chat.registry.Broadcast(room, domain.NewChatEvent(msg))
	log.Debug("message broadcast", slog.String("message_id", msg.ID.String()), slog.Int("recipients", delivered))
	return nil
}

func (s *Session) leave() error {
	const op = "service.session.leave"

	s.mu.Lock()
	if s.state != StateJoined {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: leave while %s", ErrInvalidState, state)
	}
	room := s.room
	s.state = StateUnjoined
	s.room = ""
	s.username = ""
	s.mu.Unlock()

	s.chat.release(room, s.conn)
	s.log.Info("left room", slog.String("op", op), slog.String("room", room))
	return nil
}

// Close runs the cleanup path once. Later calls, and calls racing a leave,
// are no-ops.
func (s *Session) Close() {
	const op = "service.session.close"

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	room, joined := s.room, s.state == StateJoined
	s.state = StateClosed
	s.room = ""
	s.username = ""
	s.finish()
	s.mu.Unlock()

	s.cancel()
	if joined {
		s.chat.release(room, s.conn)
	}
	s.conn.Close()

	s.log.Info("connection closed", slog.String("op", op), slog.String("room", room))
}

// finish reports the session as drained once it is closed and no frame is
// being handled. Callers hold s.mu.
func (s *Session) finish() {
	if !s.tracked || s.state != StateClosed || s.busy > 0 {
		return
	}
	s.tracked = false
	s.chat.sessionDone()
}

func (s *Session) send(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error("failed to encode event", sl.Err(err))
		return
	}
	if !s.conn.Enqueue(payload) {
		s.log.Debug("dropping direct event, connection closed or saturated")
	}
}
