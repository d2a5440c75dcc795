package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/chatrelay/internal/api/http/converter"
	"github.com/immxrtalbeast/chatrelay/internal/config"
	"github.com/immxrtalbeast/chatrelay/internal/domain"
	"github.com/immxrtalbeast/chatrelay/internal/service"
	"github.com/immxrtalbeast/chatrelay/lib/logger/sl"
)

const healthTimeout = 3 * time.Second

type RoomController struct {
	rooms    service.RoomInteractor
	chat     service.ChatInteractor
	opts     config.ChatConfig
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewRoomController(
	rooms service.RoomInteractor,
	chat service.ChatInteractor,
	opts config.ChatConfig,
	allowedOrigins []string,
	log *slog.Logger,
) *RoomController {
	origins := newOriginPolicy(allowedOrigins)
	return &RoomController{
		rooms: rooms,
		chat:  chat,
		opts:  opts,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Allow,
		},
	}
}

func (c *RoomController) ListRooms(ctx *gin.Context) {
	const op = "http.room.ListRooms"

	rooms, err := c.rooms.ListRooms(ctx.Request.Context())
	if err != nil {
		c.log.Error("failed to list rooms", slog.String("op", op), sl.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rooms"})
		return
	}
	ctx.JSON(http.StatusOK, converter.RoomsToApi(rooms))
}

func (c *RoomController) CreateRoom(ctx *gin.Context) {
	const op = "http.room.CreateRoom"

	type CreateRoomRequest struct {
		Name     string `json:"name" binding:"required"`
		Username string `json:"username" binding:"required"`
	}
	var req CreateRoomRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	room, err := c.rooms.CreateRoom(ctx.Request.Context(), req.Name, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRoomExists):
			ctx.JSON(http.StatusConflict, gin.H{"error": "Room with this name already exists"})
		case errors.Is(err, service.ErrInvalidRoom):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		default:
			c.log.Error("failed to create room", slog.String("op", op), sl.Err(err))
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		}
		return
	}
	ctx.JSON(http.StatusCreated, converter.RoomToApi(room))
}

func (c *RoomController) GetMessages(ctx *gin.Context) {
	const op = "http.room.GetMessages"

	messages, err := c.rooms.History(ctx.Request.Context(), ctx.Param("roomName"))
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.log.Error("failed to fetch messages", slog.String("op", op), sl.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}
	ctx.JSON(http.StatusOK, converter.MessagesToApi(messages))
}

// Root reports server status, or serves the chat socket for upgrade requests.
func (c *RoomController) Root(ctx *gin.Context) {
	if websocket.IsWebSocketUpgrade(ctx.Request) {
		c.ServeChat(ctx)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":     "WebSocket Chat Server",
		"status":      "running",
		"activeRooms": c.rooms.ActiveRoomCount(),
	})
}

func (c *RoomController) Healthz(ctx *gin.Context) {
	const op = "http.room.Healthz"

	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), healthTimeout)
	defer cancel()

	if err := c.rooms.Ping(pingCtx); err != nil {
		c.log.Warn("storage ping failed", slog.String("op", op), sl.Err(err))
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ServeChat upgrades the request and runs the connection until either side
// closes it. The request context ends the session when the server stops.
func (c *RoomController) ServeChat(ctx *gin.Context) {
	const op = "http.room.ServeChat"

	ws, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		c.log.Warn("websocket upgrade failed", slog.String("op", op), sl.Err(err))
		return
	}

	reqCtx := ctx.Request.Context()
	conn := domain.NewConnection(ctx.ClientIP(), c.opts.SendBuffer)
	session := c.chat.Connect(reqCtx, conn)

	s := &socket{
		ws:      ws,
		session: session,
		opts:    c.opts,
		log:     c.log.With(slog.String("conn_id", conn.ID)),
	}
	c.log.Info("connection opened",
		slog.String("op", op),
		slog.String("conn_id", conn.ID),
		slog.String("remote_addr", conn.RemoteAddr),
	)

	s.serve(reqCtx)
}
