package relayserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"walkroom/native/internal/domain"
)

// Options configures the relay HTTP surface.
type Options struct {
	// ICEServers is served from /ice so clients carry no embedded endpoints.
	ICEServers []domain.ICEServer
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the relay routes on top of hub.
func NewRouter(hub *Hub, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relayserver")

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Origins are checked by OriginFilter.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	if len(opts.AllowedOrigins) > 0 {
		router.Use(OriginFilter(opts.AllowedOrigins))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		rooms, clients := hub.Stats()
		c.JSON(http.StatusOK, gin.H{"rooms": rooms, "clients": clients})
	})

	ice := opts.ICEServers
	if ice == nil {
		ice = []domain.ICEServer{}
	}
	router.GET("/ice", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": ice})
	})

	router.GET("/ws/:room", func(c *gin.Context) {
		room := c.Param("room")
		if room == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room is required"})
			return
		}
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("upgrade error", "error", err)
			return
		}
		NewConn(uuid.New().String(), room, ws, hub, logger).Start()
	})

	return router
}

// OriginFilter rejects requests whose Origin is not in allowed. Requests
// without an Origin header pass.
func OriginFilter(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if _, ok := set[origin]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Origin not allowed"})
			return
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
