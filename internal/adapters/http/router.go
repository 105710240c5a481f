package http

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Ring/internal/app/call"
	"github.com/dkeye/Ring/internal/config"
	"github.com/dkeye/Ring/internal/domain"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

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

// SetupRouter exposes the call engine's action interface. Actions are
// fire-and-forget: they answer 202 and state is observed via /api/call/state.
func SetupRouter(cfg *config.Config, engine *call.Engine) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RingSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/call/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.Snapshot())
	})

	api.POST("/call/start", func(c *gin.Context) {
		var p struct {
			Peer domain.PeerIdentity `json:"peer"`
			Kind domain.MediaKind    `json:"kind"`
		}
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		if p.Kind == "" {
			p.Kind = domain.MediaAudio
		}
		respond(c, engine.StartCall(p.Peer, p.Kind))
	})

	api.POST("/call/answer", func(c *gin.Context) {
		respond(c, engine.Answer())
	})

	api.POST("/call/deny", func(c *gin.Context) {
		respond(c, engine.Deny())
	})

	api.POST("/call/hangup", func(c *gin.Context) {
		respond(c, engine.HangUp())
	})

	api.POST("/call/toggle/mute", func(c *gin.Context) {
		respondToggle(c, engine.ToggleMute())
	})

	api.POST("/call/toggle/camera", func(c *gin.Context) {
		respondToggle(c, engine.ToggleCamera())
	})

	return r
}

// respondToggle accepts toggle requests even when no matching track
// exists: that failure lands in the snapshot's last_error, not here.
func respondToggle(c *gin.Context, err error) {
	if err == call.ErrNoCall {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

// respond maps engine rejections onto HTTP statuses. Anything accepted is
// 202: the resulting transitions show up in the state snapshot, not here.
func respond(c *gin.Context, err error) {
	switch err {
	case nil:
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	case call.ErrBusy:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case call.ErrNoCall, call.ErrBadPhase, call.ErrBadKind:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
