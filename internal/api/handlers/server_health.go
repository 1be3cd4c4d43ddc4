package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/pkg/logger"
)

const readinessTimeout = 5 * time.Second

// GetHealth handles GET /health.
func (s *Server) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// GetReadiness handles GET /health/ready.
func (s *Server) GetReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	allHealthy := true

	for _, hc := range s.checks {
		if err := hc.Check(ctx); err != nil {
			logger.FromContext(ctx).Warn("Readiness check failed", zap.String("check", hc.Name), zap.Error(err))
			checks[hc.Name] = "error"
			allHealthy = false
			continue
		}
		checks[hc.Name] = "ok"
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status": status,
		"checks": checks,
	})
}
