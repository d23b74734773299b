package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/interfaces/http/dto"
	"github.com/xammer/billops/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

var testTenant = uuid.MustParse("6f1c1c7e-9a55-4d37-8d7a-0a4f3c2b1e01")

func adminScope() shared.Scope {
	return shared.Scope{TenantID: testTenant, Subject: "ops", Admin: true}
}

func accountScope(accounts ...string) shared.Scope {
	return shared.Scope{TenantID: testTenant, Subject: "client", AccountIDs: accounts}
}

// newRouter mounts registrars under /api/v1 for a caller with the given scope.
func newRouter(scope shared.Scope, registrars ...interface{ RegisterRoutes(*gin.RouterGroup) }) *gin.Engine {
	router := gin.New()
	api := router.Group("/api/v1", middleware.RequestID(), func(c *gin.Context) {
		c.Request = c.Request.WithContext(shared.WithScope(c.Request.Context(), scope))
		c.Next()
	})
	for _, r := range registrars {
		r.RegisterRoutes(api)
	}
	return router
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// decode unmarshals the envelope; data is decoded into out when non-nil.
func decode(t *testing.T, w *httptest.ResponseRecorder, out any) dto.Response {
	t.Helper()
	var raw struct {
		dto.Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(raw.Data, out))
	}
	return raw.Response
}
