package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Conference/internal/adapters/rtc"
	"github.com/dkeye/Conference/internal/adapters/signal"
	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionName = "ConferenceSessions"
	tokenKey    = "client_token"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware identifies the caller. A "peer" query parameter wins
// (headless clients); otherwise the token lives in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if peer := c.Query("peer"); peer != "" && len(peer) <= domain.MaxUserIDLen {
			c.Set(tokenKey, peer)
			c.Next()
			return
		}
		session := sessions.Default(c)
		token, _ := session.Get(tokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(tokenKey, token)
			if err := session.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(tokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	opts := signal.Options{
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
		ICE:         rtc.Configuration(cfg.ICEServers),
		JoinLimiter: signal.NewRoomRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow),
	}
	if cfg.ICELoopback {
		opts.API = rtc.LoopbackAPI()
	}
	ctrl := signal.NewSignalWSController(o, opts)

	api := r.Group("/api")

	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	})

	api.GET("/rooms/:mode/:name/members", func(c *gin.Context) {
		key, ok := roomKey(c)
		if !ok {
			return
		}
		room, ok := o.Rooms.Get(key)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, room.MembersSnapshot())
	})

	api.DELETE("/rooms/:mode/:name", func(c *gin.Context) {
		key, ok := roomKey(c)
		if !ok {
			return
		}
		if !o.EvictRoom(key) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("room", string(key)).Msg("room evicted over REST")
		c.Status(http.StatusNoContent)
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString(tokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}

// roomKey builds the key from the path or answers 400.
func roomKey(c *gin.Context) (domain.RoomKey, bool) {
	mode, err := domain.ParseRoomMode(c.Param("mode"))
	if err == nil {
		var key domain.RoomKey
		key, err = domain.NewRoomKey(mode, domain.RoomName(c.Param("name")))
		if err == nil {
			return key, true
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	return "", false
}
