package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type healthResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	SandboxAvailable bool   `json:"sandbox_available"`
	QueuedExecutions int64  `json:"queued_executions"`
}

func (h *Handler) handleHealth(c *gin.Context) {
	pending, err := h.queue.PendingCount(c.Request.Context())
	if err != nil {
		h.logger.Warn("health check failed to read queue depth", zap.Error(err))
		pending = -1
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(h.startedAt).Seconds()),
		SandboxAvailable: h.sandboxUp(),
		QueuedExecutions: pending,
	})
}
