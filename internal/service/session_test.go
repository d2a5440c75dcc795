package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/chatrelay/internal/domain"
	"github.com/immxrtalbeast/chatrelay/internal/repository"
	"github.com/immxrtalbeast/chatrelay/internal/repository/mocks"
	"github.com/immxrtalbeast/chatrelay/lib/logger/handlers/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type testEvent struct {
	Type      domain.EventType      `json:"type"`
	Users     []string              `json:"users"`
	Messages  []domain.HistoryEntry `json:"messages"`
	Username  string                `json:"username"`
	Message   string                `json:"message"`
	Timestamp time.Time             `json:"timestamp"`
}

type chatFixture struct {
	chat     *ChatService
	rooms    *RoomService
	registry *Registry
	roomRepo *repository.InMemoryRoomRepository
}

func newChatFixture(t *testing.T, roomNames ...string) *chatFixture {
	t.Helper()

	log := slogdiscard.NewDiscardLogger()
	roomRepo := repository.NewInMemoryRoomRepository()
	messageRepo := repository.NewInMemoryMessageRepository()
	registry := NewRegistry(log)

	for _, name := range roomNames {
		require.NoError(t, roomRepo.Create(context.Background(), domain.NewRoom(name, "alice")))
	}

	return &chatFixture{
		chat:     NewChatService(roomRepo, messageRepo, registry, ChatOptions{HistoryLimit: 100, StoreTimeout: time.Second}, log),
		rooms:    NewRoomService(roomRepo, messageRepo, registry, 100, log),
		registry: registry,
		roomRepo: roomRepo,
	}
}

func (f *chatFixture) connect(t *testing.T) *Session {
	t.Helper()
	session := f.chat.Connect(context.Background(), domain.NewConnection("127.0.0.1:0", 64))
	t.Cleanup(session.Close)
	return session
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func joinFrame(t *testing.T, room, username string) []byte {
	return frame(t, map[string]string{"type": "join", "room": room, "username": username})
}

func messageFrame(t *testing.T, room, username, text string) []byte {
	return frame(t, map[string]string{"type": "message", "room": room, "username": username, "message": text})
}

func nextEvent(t *testing.T, s *Session) testEvent {
	t.Helper()

	select {
	case raw, ok := <-s.Connection().Outbound():
		require.True(t, ok, "outbound queue closed")
		var event testEvent
		require.NoError(t, json.Unmarshal(raw, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return testEvent{}
}

func requireNoEvent(t *testing.T, s *Session) {
	t.Helper()

	select {
	case raw, ok := <-s.Connection().Outbound():
		if ok {
			t.Fatalf("unexpected event: %s", raw)
		}
	default:
	}
}

func drain(s *Session) {
	for {
		select {
		case _, ok := <-s.Connection().Outbound():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func TestJoinSendsUserListWithoutHistory(t *testing.T) {
	f := newChatFixture(t, "r1")
	a := f.connect(t)

	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))

	direct := nextEvent(t, a)
	assert.Equal(t, domain.EventUserList, direct.Type)
	assert.Equal(t, []string{"A"}, direct.Users)

	broadcast := nextEvent(t, a)
	assert.Equal(t, domain.EventUserList, broadcast.Type)
	assert.Equal(t, []string{"A"}, broadcast.Users)

	requireNoEvent(t, a)
	assert.Equal(t, StateJoined, a.State())
	assert.Equal(t, "r1", a.Room())
}

func TestJoinSendsPreviousMessages(t *testing.T) {
	f := newChatFixture(t, "r1")
	a := f.connect(t)
	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))
	require.NoError(t, a.Handle(messageFrame(t, "r1", "A", "first")))
	require.NoError(t, a.Handle(messageFrame(t, "r1", "A", "second")))

	b := f.connect(t)
	require.NoError(t, b.Handle(joinFrame(t, "r1", "B")))

	history := nextEvent(t, b)
	require.Equal(t, domain.EventPreviousMessages, history.Type)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "first", history.Messages[0].Text)
	assert.Equal(t, "A", history.Messages[0].Sender)
	assert.Equal(t, "second", history.Messages[1].Text)
	assert.False(t, history.Messages[1].Timestamp.Before(history.Messages[0].Timestamp))

	users := nextEvent(t, b)
	assert.Equal(t, domain.EventUserList, users.Type)
	assert.Equal(t, []string{"A", "B"}, users.Users)
}

func TestMessageIsBroadcastToRoom(t *testing.T) {
	f := newChatFixture(t, "r1", "r2")
	b := f.connect(t)
	require.NoError(t, b.Handle(joinFrame(t, "r1", "B")))
	outsider := f.connect(t)
	require.NoError(t, outsider.Handle(joinFrame(t, "r2", "C")))

	a := f.connect(t)
	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))
	drain(a)
	drain(b)
	drain(outsider)

	require.NoError(t, a.Handle(messageFrame(t, "r1", "A", "hi")))

	got := nextEvent(t, b)
	assert.Equal(t, domain.EventMessage, got.Type)
	assert.Equal(t, "A", got.Username)
	assert.Equal(t, "hi", got.Message)
	assert.False(t, got.Timestamp.IsZero())

	echo := nextEvent(t, a)
	assert.Equal(t, got, echo, "sender receives the same broadcast")

	requireNoEvent(t, outsider)
}

func TestMessageTextAlias(t *testing.T) {
	f := newChatFixture(t, "r1")
	a := f.connect(t)
	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))
	drain(a)

	require.NoError(t, a.Handle(frame(t, map[string]string{"type": "message", "room": "r1", "username": "A", "text": "aliased"})))
	assert.Equal(t, "aliased", nextEvent(t, a).Message)
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newChatFixture(t)
	a := f.connect(t)

	err := a.Handle(joinFrame(t, "ghost", "A"))
	assert.ErrorIs(t, err, ErrRoomNotFound)

	event := nextEvent(t, a)
	assert.Equal(t, domain.EventError, event.Type)
	assert.Equal(t, "Room does not exist", event.Message)

	assert.False(t, f.registry.HasRoom("ghost"))
	assert.Equal(t, StateUnjoined, a.State())
	requireNoEvent(t, a)
}

func TestAbruptDisconnectUpdatesPeers(t *testing.T) {
	f := newChatFixture(t, "r1")
	a := f.connect(t)
	b := f.connect(t)
	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))
	require.NoError(t, b.Handle(joinFrame(t, "r1", "B")))
	drain(b)

	a.Close()

	event := nextEvent(t, b)
	assert.Equal(t, domain.EventUserList, event.Type)
	assert.Equal(t, []string{"B"}, event.Users)
	assert.Equal(t, StateClosed, a.State())
	assert.False(t, a.Connection().IsOpen())
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newChatFixture(t, "r1")
	a := f.connect(t)
	b := f.connect(t)
	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))
	require.NoError(t, b.Handle(joinFrame(t, "r1", "B")))
	drain(b)

	require.NoError(t, a.Handle(frame(t, map[string]string{"type": "leave"})))
	a.Close()
	a.Close()

	event := nextEvent(t, b)
	assert.Equal(t, []string{"B"}, event.Users)
	requireNoEvent(t, b)
	assert.Equal(t, []string{"B"}, f.registry.ActiveUsers("r1"))
}

func TestLeaveLastMemberRemovesEntry(t *testing.T) {
	f := newChatFixture(t, "r1")
	a := f.connect(t)
	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))
	drain(a)

	require.NoError(t, a.Handle(frame(t, map[string]string{"type": "leave"})))

	assert.False(t, f.registry.HasRoom("r1"))
	assert.Equal(t, StateUnjoined, a.State())
	requireNoEvent(t, a)

	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")), "a session can join again after leaving")
	assert.Equal(t, StateJoined, a.State())
}

func TestMalformedEventsAreDiscarded(t *testing.T) {
	f := newChatFixture(t, "r1")
	a := f.connect(t)

	cases := map[string][]byte{
		"not json":         []byte("{"),
		"missing type":     []byte(`{"room":"r1","username":"A"}`),
		"unknown type":     []byte(`{"type":"dance"}`),
		"room wrong type":  []byte(`{"type":"join","room":5,"username":"A"}`),
		"missing username": []byte(`{"type":"join","room":"r1"}`),
		"blank room":       []byte(`{"type":"join","room":"  ","username":"A"}`),
		"room too long":    joinFrame(t, strings.Repeat("r", domain.MaxRoomNameLength+1), "A"),
		"empty text":       []byte(`{"type":"message","room":"r1","username":"A","message":""}`),
		"text wrong type":  []byte(`{"type":"message","room":"r1","username":"A","message":{}}`),
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			err := a.Handle(raw)
			assert.ErrorIs(t, err, ErrMalformedEvent)
			assert.Equal(t, StateUnjoined, a.State())
			requireNoEvent(t, a)
		})
	}

	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")), "connection stays usable")
}

func TestEventsInvalidForState(t *testing.T) {
	f := newChatFixture(t, "r1")
	a := f.connect(t)

	assert.ErrorIs(t, a.Handle(messageFrame(t, "r1", "A", "early")), ErrInvalidState)
	assert.ErrorIs(t, a.Handle(frame(t, map[string]string{"type": "leave"})), ErrInvalidState)
	requireNoEvent(t, a)

	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))
	drain(a)

	assert.ErrorIs(t, a.Handle(joinFrame(t, "r1", "A")), ErrInvalidState)
	assert.ErrorIs(t, a.Handle(messageFrame(t, "other", "A", "wrong room")), ErrMalformedEvent)
	assert.Equal(t, []string{"A"}, f.registry.ActiveUsers("r1"))
	requireNoEvent(t, a)

	a.Close()
	assert.ErrorIs(t, a.Handle(messageFrame(t, "r1", "A", "late")), ErrSessionClosed)
}

func TestMessageRoundTripsThroughHistory(t *testing.T) {
	f := newChatFixture(t, "r1")
	ctx := context.Background()
	a := f.connect(t)
	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))

	before, err := f.roomRepo.GetByName(ctx, "r1")
	require.NoError(t, err)

	require.NoError(t, a.Handle(messageFrame(t, "r1", "A", "hello there")))

	history, err := f.rooms.History(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "A", history[0].Username)
	assert.Equal(t, "hello there", history[0].Text)
	assert.False(t, history[0].Timestamp.Before(before.LastActivity))

	after, err := f.roomRepo.GetByName(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, after.LastActivity.Before(before.LastActivity))
}

func TestUserListMatchesJoinedSessions(t *testing.T) {
	f := newChatFixture(t, "r1")

	const clients = 40
	sessions := make([]*Session, clients)
	for i := range sessions {
		sessions[i] = f.connect(t)
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			_ = s.Handle(joinFrame(t, "r1", fmt.Sprintf("user%d", i%10)))
			if i%3 == 0 {
				s.Close()
			}
		}(i, s)
	}
	wg.Wait()

	want := []string{}
	for i, s := range sessions {
		if s.State() == StateJoined {
			want = append(want, fmt.Sprintf("user%d", i%10))
		}
	}
	got := f.registry.ActiveUsers("r1")
	sort.Strings(want)
	sort.Strings(got)
	assert.Equal(t, want, got)
}

func TestAppendFailureAbortsBroadcast(t *testing.T) {
	ctrl := gomock.NewController(t)
	rooms := mocks.NewMockRoomRepository(ctrl)
	messages := mocks.NewMockMessageRepository(ctrl)
	log := slogdiscard.NewDiscardLogger()
	registry := NewRegistry(log)
	chat := NewChatService(rooms, messages, registry, ChatOptions{StoreTimeout: time.Second}, log)

	rooms.EXPECT().GetByName(gomock.Any(), "r1").Return(domain.NewRoom("r1", "alice"), nil).Times(2)
	rooms.EXPECT().TouchActivity(gomock.Any(), "r1", gomock.Any()).Return(errors.New("db down")).AnyTimes()
	messages.EXPECT().Recent(gomock.Any(), "r1", 100).Return(nil, nil).Times(2)
	messages.EXPECT().Append(gomock.Any(), "r1", "A", "hi").Return(nil, errors.New("db down"))

	a := chat.Connect(context.Background(), domain.NewConnection("a", 16))
	b := chat.Connect(context.Background(), domain.NewConnection("b", 16))
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")), "touch failures are swallowed")
	require.NoError(t, b.Handle(joinFrame(t, "r1", "B")))
	drain(a)
	drain(b)

	err := a.Handle(messageFrame(t, "r1", "A", "hi"))
	require.Error(t, err)

	requireNoEvent(t, a)
	requireNoEvent(t, b)
	assert.Equal(t, StateJoined, a.State(), "storage failure does not close the connection")
}

func TestJoinLookupFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	rooms := mocks.NewMockRoomRepository(ctrl)
	messages := mocks.NewMockMessageRepository(ctrl)
	log := slogdiscard.NewDiscardLogger()
	registry := NewRegistry(log)
	chat := NewChatService(rooms, messages, registry, ChatOptions{}, log)

	rooms.EXPECT().GetByName(gomock.Any(), "r1").Return(nil, errors.New("connection refused"))

	a := chat.Connect(context.Background(), domain.NewConnection("a", 4))
	defer a.Close()

	err := a.Handle(joinFrame(t, "r1", "A"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRoomNotFound)

	event := nextEvent(t, a)
	assert.Equal(t, domain.EventError, event.Type)
	assert.Equal(t, "Failed to join room", event.Message)
	assert.Equal(t, StateUnjoined, a.State())
	assert.False(t, registry.HasRoom("r1"))
}

func TestCloseDuringJoinDoesNotRegister(t *testing.T) {
	ctrl := gomock.NewController(t)
	rooms := mocks.NewMockRoomRepository(ctrl)
	messages := mocks.NewMockMessageRepository(ctrl)
	log := slogdiscard.NewDiscardLogger()
	registry := NewRegistry(log)
	chat := NewChatService(rooms, messages, registry, ChatOptions{StoreTimeout: time.Second}, log)

	started := make(chan struct{})
	release := make(chan struct{})
	rooms.EXPECT().GetByName(gomock.Any(), "r1").DoAndReturn(func(ctx context.Context, name string) (*domain.Room, error) {
		close(started)
		<-release
		return domain.NewRoom(name, "alice"), nil
	})
	rooms.EXPECT().TouchActivity(gomock.Any(), "r1", gomock.Any()).Return(context.Canceled).AnyTimes()

	a := chat.Connect(context.Background(), domain.NewConnection("a", 4))

	errCh := make(chan error, 1)
	go func() { errCh <- a.Handle(joinFrame(t, "r1", "A")) }()

	<-started
	a.Close()
	close(release)

	assert.ErrorIs(t, <-errCh, ErrSessionClosed)
	assert.False(t, registry.HasRoom("r1"))
	assert.Equal(t, StateClosed, a.State())
}

func TestCloseCancelsInFlightLookup(t *testing.T) {
	ctrl := gomock.NewController(t)
	rooms := mocks.NewMockRoomRepository(ctrl)
	messages := mocks.NewMockMessageRepository(ctrl)
	log := slogdiscard.NewDiscardLogger()
	chat := NewChatService(rooms, messages, NewRegistry(log), ChatOptions{StoreTimeout: time.Minute}, log)

	started := make(chan struct{})
	rooms.EXPECT().GetByName(gomock.Any(), "r1").DoAndReturn(func(ctx context.Context, name string) (*domain.Room, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	a := chat.Connect(context.Background(), domain.NewConnection("a", 4))

	errCh := make(chan error, 1)
	go func() { errCh <- a.Handle(joinFrame(t, "r1", "A")) }()

	<-started
	a.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("join did not observe cancellation")
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	f := newChatFixture(t, "r1")
	a := f.connect(t)
	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))

	assert.Equal(t, 1, f.chat.Shutdown())
	assert.False(t, a.Connection().IsOpen())
	assert.Equal(t, 0, f.registry.ActiveRoomCount())

	a.Close()
	assert.Equal(t, StateClosed, a.State())
}

func TestWaitDrainsInFlightHandle(t *testing.T) {
	ctrl := gomock.NewController(t)
	rooms := mocks.NewMockRoomRepository(ctrl)
	messages := mocks.NewMockMessageRepository(ctrl)
	log := slogdiscard.NewDiscardLogger()
	registry := NewRegistry(log)
	chat := NewChatService(rooms, messages, registry, ChatOptions{StoreTimeout: time.Minute}, log)

	started := make(chan struct{})
	release := make(chan struct{})
	rooms.EXPECT().GetByName(gomock.Any(), "r1").DoAndReturn(func(ctx context.Context, name string) (*domain.Room, error) {
		close(started)
		<-release
		return domain.NewRoom(name, "alice"), nil
	})
	rooms.EXPECT().TouchActivity(gomock.Any(), "r1", gomock.Any()).Return(context.Canceled).AnyTimes()

	a := chat.Connect(context.Background(), domain.NewConnection("a", 4))

	errCh := make(chan error, 1)
	go func() { errCh <- a.Handle(joinFrame(t, "r1", "A")) }()

	<-started
	a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, chat.Wait(ctx), context.DeadlineExceeded, "a frame is still being handled")

	close(release)
	assert.ErrorIs(t, <-errCh, ErrSessionClosed)

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, chat.Wait(ctx))
	assert.False(t, registry.HasRoom("r1"))
}

func TestWaitReturnsOnceSessionsClose(t *testing.T) {
	f := newChatFixture(t, "r1")
	a := f.connect(t)
	require.NoError(t, a.Handle(joinFrame(t, "r1", "A")))

	done := make(chan error, 1)
	go func() { done <- f.chat.Wait(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("wait returned with an open session: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	a.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the session closed")
	}

	late := f.connect(t)
	assert.Equal(t, StateClosed, late.State(), "sessions opened while draining start closed")
	assert.False(t, late.Connection().IsOpen())
	assert.ErrorIs(t, late.Handle(joinFrame(t, "r1", "B")), ErrSessionClosed)
	assert.False(t, f.registry.HasRoom("r1"))
}
