package viewer

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleSSE streams a view's updates. The first event after "connected" is
// a full state snapshot; a client that falls behind can reload it from
// GET /api/views/:id.
func (h *handlers) handleSSE(c *gin.Context) {
	sess, release, ok := h.reg.Attach(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "view not found"})
		return
	}
	defer release()

	updates, cancel := sess.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"id": sess.ID()})
	writeSSE(c.Writer, "state", sess.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case u, ok := <-updates:
			if !ok {
				writeSSE(c.Writer, "closed", map[string]string{"id": sess.ID()})
				c.Writer.Flush()
				return
			}
			writeSSE(c.Writer, u.Event, u.Data)
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
