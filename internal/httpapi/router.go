// Package httpapi exposes the game service over REST and the live channel
// over websockets.
package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
	"github.com/cory-johannsen/tabletop-hub/internal/game"
	"github.com/cory-johannsen/tabletop-hub/internal/live"
)

// Config carries the router's collaborators.
type Config struct {
	Service  *game.Service
	Live     *live.Registry
	HTTP     config.HTTPConfig
	Stream   config.LiveConfig
	Logger   *zap.Logger
	Gatherer prometheus.Gatherer
	// LogLevel, when set, is served at /debug/log-level (GET reads, PUT changes).
	LogLevel http.Handler
}

type api struct {
	svc      *game.Service
	live     *live.Registry
	stream   config.LiveConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewRouter builds the gin engine serving every route.
//
// Precondition: c.Service, c.Live and c.Logger must be non-nil.
// Postcondition: Returns an engine with recovery, CORS and request logging
// installed. /metrics and /debug/log-level are served only when configured.
func NewRouter(c Config) *gin.Engine {
	a := &api{
		svc:    c.Service,
		live:   c.Live,
		stream: c.Stream,
		logger: c.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(c.HTTP.AllowedOrigins),
		},
	}

	e := gin.New()
	e.Use(gin.Recovery(), requestLogger(c.Logger), allowAllOrigins())
	if c.Gatherer != nil {
		e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.Gatherer, promhttp.HandlerOpts{})))
	}
	if c.LogLevel != nil {
		e.GET("/debug/log-level", gin.WrapH(c.LogLevel))
		e.PUT("/debug/log-level", gin.WrapH(c.LogLevel))
	}
	pprof.Register(e, "/debug/pprof")

	e.GET("/api/join/:link", a.join)

	g := e.Group("/api/game/:game")
	g.GET("/map", a.getMap)
	g.POST("/map", a.updateMap)
	g.GET("/items", a.items)
	g.POST("/item/:item", a.moveItem)
	g.GET("/characters", a.characters)
	g.GET("/character/:character", a.character)
	g.POST("/character/:character", a.moveCharacter)
	g.POST("/dice/started", a.diceStarted)
	g.POST("/dice/changed", a.diceChanged)
	g.POST("/dice/resulted", a.diceResulted)
	g.POST("/fog-erace-point", a.addFogPoint)
	g.GET("/fog-erace-points", a.fogPoints)
	g.GET("/audio-files", a.audioFiles)
	g.GET("/video-files", a.videoFiles)
	g.POST("/audio/play", a.playAudio)
	g.POST("/audio/stop", a.stopAudio)
	g.POST("/video/play", a.playVideo)
	g.POST("/video/stop", a.stopVideo)

	e.GET("/ws/game/:game/get", a.liveStream)
	return e
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// allowAllOrigins answers CORS preflights and marks every response shareable.
func allowAllOrigins() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Info("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
