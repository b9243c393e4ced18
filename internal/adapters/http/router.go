package http

import (
	"context"
	"net/http"
	"time"

	"github.com/danpat592/Yeettalk/internal/adapters/rtc"
	"github.com/danpat592/Yeettalk/internal/adapters/signal"
	"github.com/danpat592/Yeettalk/internal/app/orch"
	"github.com/danpat592/Yeettalk/internal/config"
	"github.com/danpat592/Yeettalk/internal/core"
	transport "github.com/danpat592/Yeettalk/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	clientCookie  = "ct"
	sessionCookie = "YeettalkSession"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable device token.
func ClientTokenMiddleware(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientCookie)
		if token == "" {
			token = genClientToken()
			c.SetCookie(clientCookie, token, 3600*24*7, "/", "", secure, true)
		}
		c.Set(signal.ClientTokenKey, token)
		c.Next()
	}
}

// SignalOptions maps the transport settings of cfg onto the socket
// controller options. Unset values keep their defaults.
func SignalOptions(cfg *config.Config) signal.Options {
	opts := signal.DefaultOptions()
	opts.SendBuffer = positive(cfg.SendBuffer, opts.SendBuffer)
	opts.ReadLimit = positive(cfg.ReadLimit, opts.ReadLimit)
	opts.WriteWait = positive(cfg.WriteWait, opts.WriteWait)
	opts.PongWait = positive(cfg.PongWait, opts.PongWait)
	opts.PingPeriod = positive(cfg.PingPeriod, opts.PingPeriod)
	opts.AuthTimeout = positive(cfg.AuthTimeout, opts.AuthTimeout)
	opts.RateEvents = cfg.RateLimit.Events
	opts.RateInterval = positive(cfg.RateLimit.Interval, opts.RateInterval)
	return opts
}

func positive[T int | int64 | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, verifier core.IdentityVerifier, oracle core.MembershipOracle) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secure := cfg.Mode == "release"
	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   3600 * 24 * 7,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionCookie, store))
	r.Use(ClientTokenMiddleware(secure))

	h := &transport.Handlers{
		Registry: o.Registry,
		Typing:   o.Typing,
		Verifier: verifier,
		Oracle:   oracle,
		RTC:      rtc.ConfigFromServers(cfg.ICEServers),
	}
	ctrl := signal.NewSignalWSController(o, SignalOptions(cfg))

	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("device", c.GetString(signal.ClientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})
	api.POST("/session", h.CreateSession)
	api.DELETE("/session", h.DeleteSession)
	api.GET("/rtc/config", h.RTCConfig)

	presence := api.Group("/presence", h.RequireUser())
	presence.GET("/rooms", h.Rooms)
	presence.GET("/rooms/:id", h.Room)
	presence.GET("/users/:id", h.User)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
