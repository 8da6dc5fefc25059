package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/tweetscope/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Runtime reports the merged scheduler and run-slot state.
type Runtime interface {
	Status() models.RuntimeStatus
}

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when the store is unreachable or acquisition is
// disabled; the endpoint itself always answers 200.
func Health(ps Posts, rt Runtime, acquisitionEnabled bool, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		storeReady := false
		if ps != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			storeReady = ps.Ping(ctx) == nil
			cancel()
		}

		status := "healthy"
		if !storeReady || !acquisitionEnabled {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:             status,
			Uptime:             time.Since(startTime).Round(time.Second).String(),
			AcquisitionEnabled: acquisitionEnabled,
			StoreReady:         storeReady,
			Runtime:            runtimeOf(rt),
			Version:            Version,
		})
	}
}

// RuntimeStatus returns a handler for GET /api/v1/status.
func RuntimeStatus(rt Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, runtimeOf(rt))
	}
}

// Stats returns a handler for GET /api/v1/stats.
func Stats(ps Posts, rt Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ps == nil {
			respondCode(c, models.ErrCodeStore, "post store is not configured")
			return
		}
		stats, err := ps.Stats(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.StatsResponse{
			Stats:   stats,
			Runtime: runtimeOf(rt),
		})
	}
}

func runtimeOf(rt Runtime) models.RuntimeStatus {
	if rt == nil {
		return models.RuntimeStatus{}
	}
	return rt.Status()
}
