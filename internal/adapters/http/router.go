package http

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/ucsaes/MSH-mock/internal/adapters/gpu"
	"github.com/ucsaes/MSH-mock/internal/adapters/signal"
	"github.com/ucsaes/MSH-mock/internal/app/orch"
	"github.com/ucsaes/MSH-mock/internal/config"
	"github.com/ucsaes/MSH-mock/internal/domain"
)

const (
	sessionName    = "HubSessions"
	clientTokenKey = "ct"
	weekSeconds    = 3600 * 24 * 7
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a stable token kept in the
// cookie session. It is informational only.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func newEngine(cfg *config.Config) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	return r
}

// SetupRouter builds the client-facing engine: signaling WebSocket, session
// REST API, health, metrics and the optional static UI.
func SetupRouter(
	ctx context.Context,
	cfg *config.Config,
	o *orch.Orchestrator,
	ctrl *signal.SignalWSController,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	r := newEngine(cfg)

	secret := cfg.Secret
	if secret == "" {
		// tokens then only survive until restart
		secret = uuid.NewString()
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: weekSeconds, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	if index := filepath.Join(cfg.StaticPath, "index.html"); fileExists(index) {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(index)
		})
		log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("serving static UI")
	}

	r.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("browser", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": o.Store.Len()})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")

	// GET /api/sessions: live sessions
	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": o.Store.Snapshot()})
	})

	// DELETE /api/sessions/:id: close one session
	api.DELETE("/sessions/:id", func(c *gin.Context) {
		id, err := domain.ParseClientID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !o.Close(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("sid", string(id)).Msg("session closed via api")
		c.Status(http.StatusNoContent)
	})

	return r
}

// SetupGpuRouter builds the engine for the GPU listener.
func SetupGpuRouter(cfg *config.Config, in *gpu.Inbound) *gin.Engine {
	r := newEngine(cfg)
	r.GET("/", gin.WrapH(in))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gpu_conns": in.Conns()})
	})
	return r
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
