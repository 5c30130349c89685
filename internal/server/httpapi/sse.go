package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fateworks/pik/internal/shared"
)

const heartbeatInterval = 30 * time.Second

// writeSSEEvent emits one named server-sent event frame.
func writeSSEEvent(w io.Writer, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// writeSSEComment emits a comment frame, used for heartbeats.
func writeSSEComment(w io.Writer, comment string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", comment)
	return err
}

// handleEventStream subscribes the client to the event bus and forwards
// ledger projections as SSE frames until the connection closes. A slow
// client only loses its own events; the bus drops rather than blocks.
func (s *Server) handleEventStream(c *gin.Context) {
	ch, unsubscribe, err := s.bus.Subscribe()
	if err != nil {
		s.respondError(c, fmt.Errorf("%w: too many stream subscribers", shared.ErrTooManyRequests))
		return
	}
	defer unsubscribe()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	connected, _ := json.Marshal(gin.H{
		"clients":   s.bus.SubscriberCount(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err := writeSSEEvent(c.Writer, "connected", connected); err != nil {
		return
	}
	c.Writer.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error(ctx, "event marshal failed", "event_id", ev.EventID, "error", err)
				continue
			}
			if err := writeSSEEvent(c.Writer, ev.EventType, data); err != nil {
				return
			}
			c.Writer.Flush()
		case <-ticker.C:
			if err := writeSSEComment(c.Writer, "heartbeat "+time.Now().UTC().Format(time.RFC3339)); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
