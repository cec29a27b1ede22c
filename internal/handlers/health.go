package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"prototype-versions-backend/internal/models"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler returns ok, or 503 when the database does not answer a
// ping. A nil pinger skips the database check.
func HealthHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusOK, models.HealthResponse{Status: "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, models.HealthResponse{Status: "degraded", Database: "unreachable"})
			return
		}
		c.JSON(http.StatusOK, models.HealthResponse{Status: "ok", Database: "ok"})
	}
}
