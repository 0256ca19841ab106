package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voyago/voyago/internal/common"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// Healthz verifies the database and, when a prober is wired, that a
// generation token can still be acquired.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		common.Fail(c, http.StatusServiceUnavailable, 50302, "database unreachable")
		return
	}

	if h.Prober != nil {
		if _, err := h.Prober.AcquireToken(ctx); err != nil {
			common.Fail(c, http.StatusServiceUnavailable, 50301, "generation backend unreachable")
			return
		}
	}

	common.OK(c, gin.H{"status": "ok"})
}
