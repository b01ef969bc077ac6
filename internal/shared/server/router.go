package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"menu-analysis-backend/internal/analyses"
	"menu-analysis-backend/internal/services/health"
	"menu-analysis-backend/internal/shared/config"
	"menu-analysis-backend/internal/shared/metrics"
	"menu-analysis-backend/internal/shared/server/middleware"
	"menu-analysis-backend/internal/shared/server/respond"
)

// Default per-client HTTP limits. They sit in front of the orchestrator's own
// admission checks and only guard the API process.
var defaultRateLimits = map[string]middleware.RateLimitRule{
	"DEFAULT":                       {Rate: 10, Burst: 40},
	middleware.SubmitRateLimitGroup: {Rate: 1, Burst: 5},
}

// NewRouter constructs the Gin engine with middleware and routes registered.
// A nil gatherer disables /metrics.
func NewRouter(cfg config.Config, svc *analyses.Service, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler(gatherer))

	api := r.Group("/api/v1")
	healthSvc := health.NewService(svc)
	api.GET("/health", func(c *gin.Context) {
		status := healthSvc.Status()
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})

	limited := api.Group("")
	limited.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Rules:    defaultRateLimits,
		GroupFor: middleware.AnalysisGroup,
	}))
	analyses.NewHandler(svc).RegisterRoutes(limited)

	return r
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
