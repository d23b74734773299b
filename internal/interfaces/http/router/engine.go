package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/infrastructure/logger"
	"github.com/xammer/billops/internal/interfaces/http/dto"
	"github.com/xammer/billops/internal/interfaces/http/middleware"
)

// EngineConfig configures the HTTP middleware chain.
type EngineConfig struct {
	Env            string
	ServiceName    string
	Tracing        bool
	Profiling      bool
	MaxBodySize    int64
	TrustedProxies []string
	CORSOrigins    []string
	HSTS           bool
	RateLimit      int // per caller per RateWindow, 0 disables
	RateWindow     time.Duration
	Auth           middleware.AuthConfig
}

// NewEngine builds the gin engine with the shared middleware chain and
// mounts every registrar under APIPrefix behind authentication and the
// per-caller rate limit.
func NewEngine(cfg EngineConfig, log *zap.Logger, registrars ...RouteRegistrar) (*gin.Engine, error) {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
	}

	engine.Use(middleware.RequestID())
	if cfg.Tracing {
		engine.Use(middleware.Tracing(cfg.ServiceName))
	}
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Metrics())
	engine.Use(middleware.Secure(middleware.SecurityConfig{HSTSEnabled: cfg.HSTS}))
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(shared.CodeNotFound, "Route not found", middleware.GetRequestID(c)))
	})

	auth := cfg.Auth
	if auth.Logger == nil {
		auth.Logger = log
	}
	auth.SkipPaths = append(auth.SkipPaths, APIPrefix+"/health")

	api := []gin.HandlerFunc{middleware.Auth(auth), middleware.TraceAttributes()}
	if cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		api = append(api, middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimit, window)))
	}
	if cfg.Profiling {
		api = append(api, middleware.Profiling())
	}

	Mount(engine, api, registrars...)
	return engine, nil
}
