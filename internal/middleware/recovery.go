package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medipredict-backend/pkg/logger"
	"medipredict-backend/pkg/response"
)

// Recovery recovers from panics and returns 500 error
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.FromContext(c.Request.Context()).Error("Panic recovered",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()))

				response.InternalError(c, "Internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HealthChecker reports whether a dependency is usable
type HealthChecker func() (name string, healthy bool)

// HealthCheck serves /health with the state of each dependency. The service
// stays healthy while dependencies are degraded since signaling keeps working.
func HealthCheck(serviceName string, checks ...HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps := make(gin.H, len(checks))
		status := "healthy"
		for _, check := range checks {
			name, ok := check()
			if ok {
				deps[name] = "up"
				continue
			}
			deps[name] = "degraded"
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       status,
			"service":      serviceName,
			"dependencies": deps,
			"timestamp":    time.Now().UTC(),
		})
	}
}
