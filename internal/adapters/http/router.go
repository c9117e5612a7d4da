package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lanparty/server/internal/adapters/ws"
	"github.com/lanparty/server/internal/config"
	"github.com/lanparty/server/internal/relay"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a stable token cookie. The
// relay identifies sockets by its own per-connection id; the token only ties
// HTTP requests from the same client together.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, rly *relay.Relay) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("LANPartySessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := &ws.Controller{
		Relay:      rly,
		ReadLimit:  cfg.ReadLimit,
		SendBuffer: cfg.SendBuffer,
	}

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		rooms, err := rly.RoomList(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	})

	r.GET("/ws", func(c *gin.Context) {
		ctrl.Handle(ctx, c)
	})

	return r
}
