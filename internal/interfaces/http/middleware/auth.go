package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/interfaces/http/dto"
)

const (
	authHeaderKey = "Authorization"
	bearerPrefix  = "Bearer "

	// AnonymousSubject is the caller when authentication is disabled.
	AnonymousSubject = "anonymous"
)

var (
	errMissingToken  = errors.New("missing bearer token")
	errInvalidTenant = errors.New("invalid tenant claim")
)

// Claims are the bearer token claims the billing API reads. Tokens are
// issued by the identity service; this service only verifies them.
type Claims struct {
	jwt.RegisteredClaims
	TenantID   string   `json:"tenant_id,omitempty"`
	AccountIDs []string `json:"account_ids,omitempty"`
	Admin      bool     `json:"admin,omitempty"`
}

// AuthConfig holds configuration for the auth middleware
type AuthConfig struct {
	// Secret verifies HMAC-signed tokens. Empty disables verification and
	// every request runs as an admin of the default tenant.
	Secret string
	// Issuer, when set, must match the iss claim.
	Issuer string
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	Logger    *zap.Logger
}

// Auth verifies the bearer token and stores the caller's scope in the
// request context.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	parser := jwt.NewParser(parserOptions(cfg)...)

	return func(c *gin.Context) {
		for _, p := range cfg.SkipPaths {
			if c.Request.URL.Path == p {
				c.Next()
				return
			}
		}

		if cfg.Secret == "" {
			setScope(c, shared.Scope{Subject: AnonymousSubject, Admin: true})
			c.Next()
			return
		}

		scope, err := authenticate(c, parser, cfg.Secret)
		if err != nil {
			log.Warn("Authentication failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", GetRequestID(c)),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(
				dto.ErrCodeUnauthorized, "Authentication required", GetRequestID(c)))
			return
		}

		setScope(c, scope)
		c.Next()
	}
}

// RequireAdmin rejects callers whose scope is not administrative.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if scope, ok := shared.ScopeFromContext(c.Request.Context()); !ok || !scope.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponse(
				dto.ErrCodeForbidden, "Administrator access required", GetRequestID(c)))
			return
		}
		c.Next()
	}
}

func parserOptions(cfg AuthConfig) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return opts
}

func authenticate(c *gin.Context, parser *jwt.Parser, secret string) (shared.Scope, error) {
	header := c.GetHeader(authHeaderKey)
	if !strings.HasPrefix(header, bearerPrefix) {
		return shared.Scope{}, errMissingToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if raw == "" {
		return shared.Scope{}, errMissingToken
	}

	var claims Claims
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return shared.Scope{}, err
	}

	scope := shared.Scope{
		AccountIDs: claims.AccountIDs,
		Subject:    claims.Subject,
		Admin:      claims.Admin,
	}
	if claims.TenantID != "" {
		id, err := uuid.Parse(claims.TenantID)
		if err != nil {
			return shared.Scope{}, errInvalidTenant
		}
		scope.TenantID = id
	}
	return scope, nil
}

func setScope(c *gin.Context, scope shared.Scope) {
	c.Request = c.Request.WithContext(shared.WithScope(c.Request.Context(), scope))
}

// AccountAccess hides accounts outside the caller's scope. The account id
// is read from the named path parameter.
func AccountAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := shared.ScopeFromContext(c.Request.Context())
		if ok && !scope.CanAccess(c.Param(param)) {
			c.AbortWithStatusJSON(http.StatusNotFound, dto.NewErrorResponse(
				shared.CodeNotFound, "Account not found", GetRequestID(c)))
			return
		}
		c.Next()
	}
}
