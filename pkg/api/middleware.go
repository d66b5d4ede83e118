package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kru5ty7/browser-agent-project/pkg/logger"
)

// authMiddleware enforces API key authentication via the X-API-Key header.
// If no key is configured, every request is allowed (dev mode).
func authMiddleware(requiredKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if requiredKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != requiredKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}
		c.Next()
	}
}

// enableCORS adds permissive CORS headers and answers preflight requests.
// It runs before authentication so OPTIONS requests never need a key.
func enableCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// requestLogger logs one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

// recovery turns a handler panic into a 500.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Log.Error().Interface("panic", err).Str("path", c.Request.URL.Path).Msg("Panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal server error"))
			}
		}()
		c.Next()
	}
}

func errorBody(msg string) gin.H {
	return gin.H{"error": msg}
}
