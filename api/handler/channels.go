package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/tweetscope/config"
	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/notify"
	"github.com/use-agent/tweetscope/webhook"
)

// ChannelEvents returns a handler for GET /api/v1/channels/:channel/events.
//
// The client is subscribed for as long as the connection stays open and
// unsubscribed when it closes. Events are written as SSE frames named
// after the event type; a comment line keeps idle connections alive.
func ChannelEvents(hub *notify.Hub, cfg config.NotifyConfig) gin.HandlerFunc {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}

	return func(c *gin.Context) {
		channel := c.Param("channel")
		sink := notify.NewStreamSink(cfg.StreamBuffer)
		hub.Subscribe(channel, sink)
		defer hub.Unsubscribe(channel, sink.ID())

		slog.Info("stream subscribed", "channel", channel, "sink_id", sink.ID())

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		fmt.Fprintf(c.Writer, ": subscribed %s\n\n", sink.ID())
		c.Writer.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		ctx := c.Request.Context()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case ev, ok := <-sink.Events():
				if !ok {
					return false
				}
				c.SSEvent(ev.Type, ev)
				return true
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				return true
			}
		})

		slog.Info("stream closed", "channel", channel, "sink_id", sink.ID())
	}
}

// PostWebhook returns a handler for POST /api/v1/channels/:channel/webhooks.
func PostWebhook(hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.WebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondCode(c, models.ErrCodeInvalidInput, err.Error())
			return
		}

		channel := c.Param("channel")
		sink := webhook.NewSink(req.URL, req.Secret)
		hub.Subscribe(channel, sink)

		slog.Info("webhook subscribed", "channel", channel, "sink_id", sink.ID(), "url", req.URL)
		c.JSON(http.StatusCreated, models.SinkResponse{
			SinkID:    sink.ID(),
			ChannelID: channel,
		})
	}
}

// DeleteSink returns a handler for DELETE /api/v1/channels/:channel/sinks/:sink.
func DeleteSink(hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !hub.Unsubscribe(c.Param("channel"), c.Param("sink")) {
			respondCode(c, models.ErrCodeNotFound, "sink not found")
			return
		}
		c.Status(http.StatusNoContent)
	}
}
