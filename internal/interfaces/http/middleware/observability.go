package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/infrastructure/telemetry"
)

// Tracing starts a server span per request. The span is named after the
// route pattern, e.g. "GET /api/v1/invoices/:id".
func Tracing(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// TraceAttributes adds the request id and caller scope to the request
// span. It must run after Tracing and Auth.
func TraceAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			attrs := []attribute.KeyValue{attribute.String("request_id", GetRequestID(c))}
			if scope, ok := shared.ScopeFromContext(c.Request.Context()); ok {
				attrs = append(attrs,
					attribute.String(telemetry.SpanAttrTenantID, scope.TenantID.String()),
					attribute.String("subject", scope.Subject),
				)
			}
			span.SetAttributes(attrs...)
		}
		c.Next()
	}
}

// Metrics records request count and latency per route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		telemetry.Metrics().HTTPRequest(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
