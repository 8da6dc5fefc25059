package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/task"
)

// Acquisitions is the task manager surface used by the API.
type Acquisitions interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*models.Task, error)
	Get(id string) (models.TaskView, bool)
	List() []models.TaskView
}

// PostAcquisition returns a handler for POST /api/v1/acquisitions.
//
// The run starts in the background; the caller gets 202 with the task id
// and learns the outcome from the channel's subscribers or by polling.
func PostAcquisition(acq Acquisitions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if acq == nil {
			respondCode(c, models.ErrCodeDisabled, "acquisition is disabled: no platform session token configured")
			return
		}

		var req models.AcquisitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondCode(c, models.ErrCodeInvalidInput, err.Error())
			return
		}
		req.Defaults()

		t, err := acq.Submit(c.Request.Context(), task.SubmitRequest{
			Queries:   req.Queries,
			ChannelID: req.ChannelID,
			Origin:    models.OriginAPI,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, models.AcquisitionResponse{
			TaskID:  t.ID,
			Queries: t.Queries,
			Status:  string(t.Status()),
		})
	}
}

// ListAcquisitions returns a handler for GET /api/v1/acquisitions.
func ListAcquisitions(acq Acquisitions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if acq == nil {
			c.JSON(http.StatusOK, gin.H{"tasks": []models.TaskView{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": acq.List()})
	}
}

// GetAcquisition returns a handler for GET /api/v1/acquisitions/:id.
func GetAcquisition(acq Acquisitions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if acq == nil {
			respondCode(c, models.ErrCodeNotFound, "task not found")
			return
		}
		view, ok := acq.Get(c.Param("id"))
		if !ok {
			respondCode(c, models.ErrCodeNotFound, "task not found")
			return
		}
		c.JSON(http.StatusOK, view)
	}
}
