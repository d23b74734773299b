package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func corsRouter(origins ...string) *gin.Engine {
	router := gin.New()
	router.Use(CORS(DefaultCORSConfig(origins)))
	router.GET("/api/v1/invoices", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func request(router http.Handler, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/invoices", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	t.Run("allowed origin", func(t *testing.T) {
		w := request(corsRouter("https://console.example"), http.MethodGet, "https://console.example")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://console.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), RequestIDHeader)
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		w := request(corsRouter("https://console.example"), http.MethodGet, "https://evil.example")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("empty list rejects all", func(t *testing.T) {
		w := request(corsRouter(), http.MethodGet, "https://console.example")
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard never sends credentials", func(t *testing.T) {
		w := request(corsRouter("*"), http.MethodGet, "https://any.example")
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		w := request(corsRouter("https://console.example"), http.MethodOptions, "https://console.example")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
		assert.Equal(t, "43200", w.Header().Get("Access-Control-Max-Age"))
	})
}

func TestSecure(t *testing.T) {
	build := func(cfg SecurityConfig) *gin.Engine {
		router := gin.New()
		router.Use(Secure(cfg))
		router.GET("/api/v1/invoices", func(c *gin.Context) { c.Status(http.StatusOK) })
		return router
	}

	w := request(build(SecurityConfig{}), http.MethodGet, "")
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = request(build(SecurityConfig{HSTSEnabled: true}), http.MethodGet, "")
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}
