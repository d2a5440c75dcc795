package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/immxrtalbeast/chatrelay/internal/domain"
	"github.com/immxrtalbeast/chatrelay/internal/repository"
	"github.com/immxrtalbeast/chatrelay/lib/logger/sl"
)

const defaultStoreTimeout = 5 * time.Second

type ChatOptions struct {
	HistoryLimit int
	StoreTimeout time.Duration
}

// ChatService drives live sessions against the registry and the stores.
type ChatService struct {
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	registry *Registry
	log      *slog.Logger
	opts     ChatOptions
	now      func() time.Time

	mu       sync.Mutex
	draining bool
	sessions sync.WaitGroup
}

func NewChatService(
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	registry *Registry,
	opts ChatOptions,
	log *slog.Logger,
) *ChatService {
	if log == nil {
		log = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	return &ChatService{
		rooms:    rooms,
		messages: messages,
		registry: registry,
		log:      log,
		opts:     opts,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Connect starts an Unjoined session for conn. Its storage calls are
// cancelled by Close or by ctx. After Wait has started, Connect returns an
// already closed session.
func (s *ChatService) Connect(ctx context.Context, conn *domain.Connection) *Session {
	sessionCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		chat:   s,
		conn:   conn,
		ctx:    sessionCtx,
		cancel: cancel,
		state:  StateUnjoined,
		log: s.log.With(
			slog.String("conn_id", conn.ID),
			slog.String("remote_addr", conn.RemoteAddr),
		),
	}

	s.mu.Lock()
	draining := s.draining
	if !draining {
		s.sessions.Add(1)
		session.tracked = true
	}
	s.mu.Unlock()

	if draining {
		session.Close()
	}
	return session
}

// Wait blocks until every session is closed and none is still handling a
// frame, or until ctx is done. New sessions are refused once it is called.
func (s *ChatService) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChatService) sessionDone() {
	s.sessions.Done()
}

// Shutdown closes every live connection. Their transports run the normal
// close path afterwards.
func (s *ChatService) Shutdown() int {
	return s.registry.CloseAll()
}

func (s *ChatService) storeContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.opts.StoreTimeout)
}

// touchActivity is best-effort. Failures are logged and swallowed.
func (s *ChatService) touchActivity(parent context.Context, room string) {
	ctx, cancel := s.storeContext(parent)
	defer cancel()

	if err := s.rooms.TouchActivity(ctx, room, s.now()); err != nil {
		s.log.Warn("failed to update room activity", slog.String("room", room), sl.Err(err))
	}
}

func (s *ChatService) recentMessages(parent context.Context, room string) []*domain.Message {
	ctx, cancel := s.storeContext(parent)
	defer cancel()

	messages, err := s.messages.Recent(ctx, room, s.opts.HistoryLimit)
	if err != nil {
		s.log.Error("failed to fetch previous messages", slog.String("room", room), sl.Err(err))
		return nil
	}
	return messages
}

// release unregisters conn and tells the remaining members. It is a no-op
// for a connection that is no longer registered.
func (s *ChatService) release(room string, conn *domain.Connection) {
	removed, remaining := s.registry.Unregister(room, conn)
	if !removed || remaining == 0 {
		return
	}
	s.registry.BroadcastUserList(room)
}
