package app

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nexaauth.io/provisioner/internal/api/handlers"
	"nexaauth.io/provisioner/internal/api/middleware"
	"nexaauth.io/provisioner/internal/config"
	"nexaauth.io/provisioner/internal/pkg/logger"
)

func newRouter(cfg *config.Config, server *handlers.Server, registry *prometheus.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())
	if registry != nil {
		router.Use(middleware.Instrument(middleware.NewHTTPMetrics(registry)))
	}
	router.Use(cors.New(buildCORSConfig(cfg)))
	router.Use(middleware.MustOpenAPIValidator(middleware.ValidatorOptions{
		ValidateResponses: cfg.Server.ValidateResponses,
	}))
	// Inside the validator so rendered errors are part of the validated response.
	router.Use(middleware.ErrorHandler())

	server.RegisterRoutes(router)

	if cfg.Metrics.Enabled && registry != nil {
		router.GET(metricsPath(cfg), gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	router.Any("/log/level", gin.WrapH(logger.LevelHandler()))
	return router
}

func metricsPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Metrics.Path); p != "" {
		return p
	}
	return "/metrics"
}

// buildCORSConfig allows every origin unless an allowlist is configured.
// Credentials are never combined with a wildcard origin.
func buildCORSConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	wildcard := false
	for _, origin := range cfg.Server.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			wildcard = true
		default:
			origins = append(origins, origin)
		}
	}

	if wildcard || len(origins) == 0 {
		corsCfg.AllowAllOrigins = true
		return corsCfg
	}
	corsCfg.AllowOrigins = origins
	corsCfg.AllowCredentials = cfg.Server.AllowCredentials
	return corsCfg
}
