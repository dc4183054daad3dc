package handler

import (
	"net/http"

	"github.com/cuongbtq/timestamp-worker/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	status := http.StatusOK
	resp := dto.HealthResponse{
		Status:  "healthy",
		Service: h.service,
		Checks:  make(map[string]string, len(h.checks)),
	}

	for name, checker := range h.checks {
		if err := checker.HealthCheck(c.Request.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	c.JSON(status, resp)
}
