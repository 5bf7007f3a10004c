// Package httpapi wires the HTTP surface: auth-gated WebSocket upgrade,
// observability REST endpoints and the ICE configuration handed to
// clients.
package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vizioway/meet/internal/adapters/signalws"
	"github.com/vizioway/meet/internal/app"
	"github.com/vizioway/meet/internal/auth"
	"github.com/vizioway/meet/internal/config"
	"github.com/vizioway/meet/internal/domain"
)

const identityKey = "identity"

// AuthMiddleware verifies the bearer token before the upgrade. Browsers
// cannot set headers on WebSocket dials, so a token query parameter is
// accepted as the equivalent.
func AuthMiddleware(gate auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if h := c.GetHeader("Authorization"); token == "" && strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		user, err := gate.GetIdentity(token)
		if err != nil {
			log.Warn().Err(err).Str("module", "httpapi").Msg("rejected connection, bad token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, user)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, relay *app.Relay, gate auth.Gate) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ice := auth.StaticICEConfig(cfg.ICEServers())

	api := r.Group("/api")
	api.GET("/ice-config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": ice.ICEServers()})
	})
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": relay.Store().Rooms()})
	})
	api.GET("/rooms/:id/participants", func(c *gin.Context) {
		views := relay.Store().Members(domain.RoomID(c.Param("id")))
		out := make([]gin.H, 0, len(views))
		for _, v := range views {
			out = append(out, gin.H{"id": v.User.ID, "name": v.User.Name,
				"video": v.Media.Video, "audio": v.Media.Audio})
		}
		c.JSON(http.StatusOK, out)
	})

	ctl := signalws.NewController(relay, cfg)
	r.GET("/ws/signal", AuthMiddleware(gate), func(c *gin.Context) {
		user := c.MustGet(identityKey).(domain.User)
		ctl.HandleSignal(ctx, c, user)
	})

	return r
}
