package gateway

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/hub"
)

// NewRouter serves the health check, metrics and the websocket upgrade from one engine.
// Any path carrying an upgrade request is upgraded, not only /ws.
func NewRouter(h *hub.Hub, logger *zap.Logger, opts Options, now func() time.Time) *gin.Engine {
	r := gin.New()
	r.Use(
		cors.Default(),
		Recover(logger),
	)

	upgrade := upgradeHandler(h, logger, opts)

	r.GET("/healthcheck", func(c *gin.Context) {
		c.String(http.StatusOK, "Check OK on %s", now().UTC().Format(time.RFC1123))
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", upgrade)

	r.NoRoute(func(c *gin.Context) {
		if isUpgrade(c.Request) {
			upgrade(c)
			return
		}
		c.String(http.StatusNotFound, "404 page not found")
	})
	return r
}

func upgradeHandler(h *hub.Hub, logger *zap.Logger, opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
		if err != nil {
			logger.Debug("Upgrade failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			return
		}

		client := NewClient(conn, h, logger, opts)
		if err := client.Start(); err != nil {
			logger.Warn("Connection refused", zap.Error(err))
		}
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// Recover logs handler panics and answers 500.
func Recover(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("http panic",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", err),
					zap.ByteString("stack", debug.Stack()),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
