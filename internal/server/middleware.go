package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// corsConfig allows the configured origins; "*" allows any origin. Entries
// without an http(s) scheme are skipped since gin-contrib/cors rejects them.
func corsConfig(origins []string, log *slog.Logger) cors.Config {
	cc := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		switch {
		case o == "*":
			cc.AllowAllOrigins = true
			cc.AllowOrigins = nil
			return cc
		case strings.HasPrefix(o, "http://") || strings.HasPrefix(o, "https://"):
			cc.AllowOrigins = append(cc.AllowOrigins, o)
		default:
			log.Warn("ignoring CORS origin without http(s) scheme", "origin", o)
		}
	}
	if len(cc.AllowOrigins) == 0 {
		cc.AllowOriginFunc = func(string) bool { return false }
	}
	return cc
}

func requestLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond))
	}
}
