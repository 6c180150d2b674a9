package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"farmassist-backend/internal/detections"
	"farmassist-backend/internal/services/health"
	"farmassist-backend/internal/shared/config"
	"farmassist-backend/internal/shared/metrics"
	"farmassist-backend/internal/shared/server/middleware"
	"farmassist-backend/internal/shared/server/respond"
	"farmassist-backend/internal/shared/storage/object"
	"farmassist-backend/internal/shared/telemetry"
)

// RouterDeps carries the handlers and services the router wires up.
type RouterDeps struct {
	Config           config.Config
	DetectionHandler *detections.Handler
	Health           *health.Service
	Store            object.ObjectStore
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Identity(),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				"ANALYZE": {Rate: 0.2, Burst: 3},
				"DEFAULT": {Rate: 5, Burst: 20},
			},
			GroupFor: analyzeGroup,
		}),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, healthSvc.Status())
	})
	if deps.DetectionHandler != nil {
		deps.DetectionHandler.RegisterRoutes(api)
	}

	r.GET("/metrics", metrics.Handler())

	// Uploaded images are streamed back through the object store so the
	// analysis providers can fetch them by public URL regardless of backend.
	if deps.Store != nil {
		r.GET("/uploads/*key", serveUpload(deps.Store))
	}

	return r
}

func serveUpload(store object.ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("key"), "/")
		if key == "" || strings.Contains(key, "..") {
			respond.Error(c, http.StatusNotFound, "NOT_FOUND", "Object not found", nil)
			return
		}

		rc, err := store.Open(c.Request.Context(), key)
		if err != nil {
			respond.Error(c, http.StatusNotFound, "NOT_FOUND", "Object not found", nil)
			return
		}
		defer rc.Close()

		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, rc); err != nil {
			telemetry.Warn("uploads.stream_failed", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
}

// analyzeGroup applies the stricter analysis rate limit to uploads only.
func analyzeGroup(c *gin.Context) string {
	if c.Request.Method == http.MethodPost && strings.HasSuffix(c.Request.URL.Path, "/detections") {
		return "ANALYZE"
	}
	return "DEFAULT"
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
