package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/infrastructure/telemetry"
)

// Profiling labels CPU samples of each request with its route, method and
// tenant so flame graphs can be filtered in Pyroscope. It runs after Auth.
func Profiling() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			c.Next()
			return
		}
		tenant := ""
		if scope, ok := shared.ScopeFromContext(c.Request.Context()); ok {
			tenant = scope.TenantID.String()
		}
		telemetry.WithLabels(c.Request.Context(), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		}, "route", route, "method", c.Request.Method, "tenant_id", tenant)
	}
}
