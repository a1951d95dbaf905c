package router // package router defines how HTTP routes are registered for the gateway

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/piewallah/pw-gateway/internal/config"
	"github.com/piewallah/pw-gateway/internal/handler"
	"github.com/piewallah/pw-gateway/internal/middleware"
	"github.com/piewallah/pw-gateway/internal/proxy"
)

// Deps bundles what the routes need. Redis may be nil, in which case the
// shared cache and the rate limiter are skipped.
type Deps struct {
	Forwarder *proxy.Forwarder
	Endpoints []proxy.Endpoint
	Auth      *handler.AuthHandler
	Schedule  *handler.ScheduleHandler
	Health    *handler.HealthHandler
	Sessions  *handler.SessionHandler // nil without an audit database
	Redis     *redis.Client
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
	Log       logrus.FieldLogger
}

// Use installs the global middleware: panic recovery, request logging and
// CORS on every answer, 404s included.
func Use(e *echo.Echo, log logrus.FieldLogger) {
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))
	e.Use(middleware.CORS())
}

// RegisterRoutes registers the health check, the aggregated schedule, the
// auth exchange and every proxy endpoint.
func RegisterRoutes(e *echo.Echo, d Deps) {
	// Liveness for load balancers. Never rate limited.
	e.GET("/healthz", d.Health.Health)

	api := e.Group("/api")
	api.Use(middleware.Identity())
	if d.Redis != nil {
		rl := middleware.NewRateLimiter(d.RateLimit, d.Redis, RateLimits(d.RateLimit, d.Endpoints), d.Log)
		api.Use(rl.Middleware())
	}

	// Auth exchange. Bodies carry secrets, so nothing here is cached.
	a := api.Group("/auth")
	a.POST("/otp", d.Auth.SendOTP)
	a.POST("/token", d.Auth.Token)
	a.POST("/refresh", d.Auth.Refresh)
	a.POST("/logout", d.Auth.Logout)

	// Read-only routes share the Redis response cache, keyed per caller.
	reads := api.Group("")
	if d.Redis != nil {
		reads.Use(middleware.NewRedisCache(d.Cache, d.Redis, d.Log))
	}
	reads.GET("/schedule/today", d.Schedule.Today)
	if d.Sessions != nil {
		api.GET("/session/events", d.Sessions.History)
		api.GET("/session/events/last", d.Sessions.Last)
	}
	d.Forwarder.Mount(reads, d.Endpoints)
}

// authRoutes are the POST exchanges under /api/auth.
var authRoutes = []string{"otp", "token", "refresh", "logout"}

// RateLimits maps every mounted route pattern to its rate-limit family. The
// auth exchanges share one small bucket; proxy families use their Burst.
func RateLimits(cfg config.RateLimitConfig, eps []proxy.Endpoint) map[string]middleware.Limit {
	out := make(map[string]middleware.Limit, len(eps)+len(authRoutes)+1)
	for _, r := range authRoutes {
		out["/api/auth/"+r] = middleware.Limit{Family: "auth", Capacity: cfg.AuthCapacity}
	}
	out["/api/schedule/today"] = middleware.Limit{Family: "schedule-today"}
	for _, ep := range eps {
		out["/api"+ep.Route] = middleware.Limit{Family: ep.Name, Capacity: ep.Burst}
	}
	return out
}
