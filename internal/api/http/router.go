package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(roomController *RoomController, allowedOrigins []string) *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(corsConfig(allowedOrigins)))

	if roomController == nil {
		return router
	}

	router.GET("/", roomController.Root)
	router.GET("/ws", roomController.ServeChat)
	router.GET("/healthz", roomController.Healthz)

	api := router.Group("/api")
	rooms := api.Group("/rooms")
	rooms.GET("", roomController.ListRooms)
	rooms.POST("", roomController.CreateRoom)
	rooms.GET("/:roomName/messages", roomController.GetMessages)

	return router
}

func corsConfig(allowedOrigins []string) cors.Config {
	config := cors.DefaultConfig()
	config.AllowHeaders = []string{
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}

	policy := newOriginPolicy(allowedOrigins)
	if policy.allowAll {
		config.AllowAllOrigins = true
		return config
	}

	if len(policy.allowed) == 0 {
		config.AllowOriginFunc = func(string) bool { return false }
		return config
	}

	config.AllowOrigins = make([]string, 0, len(policy.allowed))
	for origin := range policy.allowed {
		config.AllowOrigins = append(config.AllowOrigins, origin)
	}
	config.AllowCredentials = true
	return config
}
