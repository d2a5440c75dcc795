package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/chatrelay/internal/config"
	"github.com/immxrtalbeast/chatrelay/internal/service"
	"github.com/immxrtalbeast/chatrelay/lib/logger/sl"
)

// socket pumps frames between one websocket and its session. The reader
// closes the session as soon as the websocket fails, even while the
// dispatcher is still handling a frame. The writer owns the websocket.
type socket struct {
	ws      *websocket.Conn
	session *service.Session
	opts    config.ChatConfig
	log     *slog.Logger
}

// serve runs the three pumps and returns once all of them have stopped.
func (s *socket) serve(ctx context.Context) {
	frames := make(chan []byte, max(s.opts.SendBuffer, 1))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(ctx)
	}()
	go func() {
		defer wg.Done()
		s.dispatch(frames)
	}()

	s.readPump(frames)
	wg.Wait()
}

func (s *socket) readPump(frames chan<- []byte) {
	const op = "http.socket.readPump"
	log := s.log.With(slog.String("op", op))

	defer func() {
		s.session.Close()
		close(frames)
	}()

	s.ws.SetReadLimit(s.opts.MaxMessageSize)
	if err := s.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait)); err != nil {
		log.Warn("failed to set read deadline", sl.Err(err))
		return
	}
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		msgType, raw, err := s.ws.ReadMessage()
		if err != nil {
			s.logReadError(log, err)
			return
		}
		if msgType != websocket.TextMessage {
			log.Debug("ignoring non-text frame", slog.Int("frame_type", msgType))
			continue
		}

		select {
		case frames <- raw:
		default:
			log.Warn("dropping frame, client is sending faster than it is handled")
		}
	}
}

// dispatch hands frames to the session one at a time, in arrival order.
func (s *socket) dispatch(frames <-chan []byte) {
	for raw := range frames {
		if s.session.State() == service.StateClosed {
			continue
		}
		// Handle has already logged anything worth logging.
		_ = s.session.Handle(raw)
	}
}

func (s *socket) logReadError(log *slog.Logger, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn("frame exceeded read limit", slog.Int64("limit", s.opts.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		log.Debug("client disconnected", sl.Err(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Debug("connection closed", sl.Err(err))
	default:
		log.Warn("websocket read failed", sl.Err(err))
	}
}

func (s *socket) writePump(ctx context.Context) {
	const op = "http.socket.writePump"
	log := s.log.With(slog.String("op", op))

	ticker := time.NewTicker(s.opts.PingPeriod())
	defer func() {
		ticker.Stop()
		if err := s.ws.Close(); err != nil && !isExpectedCloseError(err) {
			log.Warn("failed to close websocket", sl.Err(err))
		}
	}()

	outbound := s.session.Connection().Outbound()
	for {
		select {
		case payload, ok := <-outbound:
			if err := s.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait)); err != nil {
				return
			}
			if !ok {
				s.writeClose(log, websocket.CloseNormalClosure)
				return
			}
			if err := s.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					log.Warn("failed to write frame", sl.Err(err))
				}
				return
			}
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				if !isExpectedCloseError(err) {
					log.Debug("failed to write ping", sl.Err(err))
				}
				return
			}
		case <-ctx.Done():
			s.writeClose(log, websocket.CloseGoingAway)
			return
		}
	}
}

func (s *socket) writeClose(log *slog.Logger, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	if err := s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteWait)); err != nil {
		if !isExpectedCloseError(err) {
			log.Debug("failed to write close frame", sl.Err(err))
		}
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
