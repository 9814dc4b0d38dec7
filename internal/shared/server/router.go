package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docmanager-backend/internal/documents"
	"docmanager-backend/internal/shared/config"
	"docmanager-backend/internal/shared/metrics"
	"docmanager-backend/internal/shared/server/middleware"
)

// RouterDeps carries everything the router needs to wire routes.
type RouterDeps struct {
	Config           config.Config
	DocumentsHandler *documents.Handler
}

// NewRouter builds the gin engine with the full middleware chain.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(deps.Config.CORSAllowOrigin))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(middleware.Auth([]byte(deps.Config.JWTSecret)))
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		// Only OCR endpoints are throttled; extraction is the expensive path.
		Rules: map[string]middleware.RateLimitRule{
			"OCR": {Rate: 1, Burst: 10},
		},
		GroupFor: func(c *gin.Context) string {
			if strings.Contains(c.FullPath(), "/ocr") {
				return "OCR"
			}
			return ""
		},
	}))

	if deps.DocumentsHandler != nil {
		deps.DocumentsHandler.RegisterRoutes(api)
		deps.DocumentsHandler.RegisterOcrRoutes(api)
	}

	return r
}

// Addr returns the listen address for the configured port.
func Addr(cfg config.Config) string {
	port := strings.TrimSpace(cfg.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}
