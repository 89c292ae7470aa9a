package viewer

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/gptreplay/internal/playback"
)

const wsWriteWait = 10 * time.Second

// wsMessage is one server-to-client frame.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsIntent is one client-to-server request.
type wsIntent struct {
	Type    string   `json:"type"` // play, pause, speed, seek, state
	Speed   *float64 `json:"speed,omitempty"`
	Percent *float64 `json:"percent,omitempty"`
	Event   *int     `json:"event,omitempty"`
}

// handleWS serves a view over a websocket. Updates flow out as wsMessage
// frames; intents flow in and are applied to the session. Only this
// goroutine writes to the connection.
func (h *handlers) handleWS(c *gin.Context) {
	sess, release, ok := h.reg.Attach(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "view not found"})
		return
	}
	defer release()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("viewer: ws upgrade for %s: %v", sess.ID(), err)
		return
	}
	defer conn.Close()

	updates, cancel := sess.Subscribe()
	defer cancel()

	// Replies to intents are queued for the writer; dropped when full.
	replies := make(chan wsMessage, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var in wsIntent
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			reply := applyIntent(sess, in)
			select {
			case replies <- reply:
			default:
			}
		}
	}()

	send := func(m wsMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m) == nil
	}

	if !send(wsMessage{Type: "state", Data: sess.Snapshot()}) {
		return
	}
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case m := <-replies:
			if !send(m) {
				return
			}
		case u, ok := <-updates:
			if !ok {
				send(wsMessage{Type: "closed"})
				return
			}
			if !send(wsMessage{Type: u.Event, Data: u.Data}) {
				return
			}
		}
	}
}

// applyIntent runs one client request against the session and returns the
// frame to send back.
func applyIntent(sess *playback.Session, in wsIntent) wsMessage {
	var err error
	switch in.Type {
	case "play":
		err = sess.Play()
	case "pause":
		err = sess.Pause()
	case "speed":
		if in.Speed == nil {
			err = playback.ErrInvalidSpeed
		} else {
			err = sess.SetSpeed(*in.Speed)
		}
	case "seek":
		err = applySeek(sess, in.Percent, in.Event)
	case "state":
	default:
		return wsMessage{Type: "error", Data: map[string]string{"error": "unknown intent " + in.Type}}
	}
	if err != nil {
		return wsMessage{Type: "error", Data: map[string]string{"error": err.Error()}}
	}
	return wsMessage{Type: "state", Data: sess.Snapshot()}
}
