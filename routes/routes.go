package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quizparty/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the game is origin-agnostic, see middleware.CORS
	},
}

func SetupRoutes(router *gin.Engine, hub *services.Hub, staticDir string) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Everything game-related rides one websocket per client.
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("ip", c.ClientIP()).Msg("websocket upgrade failed")
			return
		}
		hub.RegisterClient(conn)
	})

	if staticDir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(staticDir))))
	}
}
