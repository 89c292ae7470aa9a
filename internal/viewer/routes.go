package viewer

import (
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/gptreplay/internal/db"
	"github.com/zulandar/gptreplay/internal/editor"
	"github.com/zulandar/gptreplay/internal/ingest"
	"github.com/zulandar/gptreplay/internal/playback"
	"github.com/zulandar/gptreplay/internal/timeline"
	"gorm.io/gorm"
)

type handlers struct {
	db        *gorm.DB
	reg       *Registry
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// participantInfo is one entry of the participant picker.
type participantInfo struct {
	Key         string  `json:"key"`
	Label       string  `json:"label"`
	EssayNum    int     `json:"essay_num"`
	DurationSec float64 `json:"duration_sec"`
	Events      int     `json:"events"`
	Ops         int     `json:"ops"`
}

// viewInfo is returned when a view is opened.
type viewInfo struct {
	ID          string            `json:"id"`
	Participant string            `json:"participant"`
	Label       string            `json:"label"`
	DurationSec float64           `json:"duration_sec"`
	Total       string            `json:"total"`
	Markers     []timeline.Marker `json:"markers"`
	Speeds      []float64         `json:"speeds"`
	State       playback.State    `json:"state"`
}

type createViewRequest struct {
	Participant string `json:"participant"`
}

type speedRequest struct {
	Speed *float64 `json:"speed"`
}

// seekRequest names either a percent or an event index.
type seekRequest struct {
	Percent *float64 `json:"percent"`
	Event   *int     `json:"event"`
}

// registerRoutes sets up all viewer routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))

	// Pages.
	router.GET("/", h.handleIndex)
	router.GET("/replay", h.handleReplay)

	api := router.Group("/api")
	api.GET("/participants", h.handleParticipants)
	api.GET("/runs", h.handleRuns)
	api.POST("/views", h.handleCreateView)
	api.GET("/views/:id", h.handleViewState)
	api.DELETE("/views/:id", h.handleDeleteView)
	api.POST("/views/:id/play", h.handleTransport(true))
	api.POST("/views/:id/pause", h.handleTransport(false))
	api.POST("/views/:id/speed", h.handleSpeed)
	api.POST("/views/:id/seek", h.handleSeek)
	api.GET("/views/:id/events", h.handleSSE)
	api.GET("/views/:id/ws", h.handleWS)
}

func (h *handlers) participants() ([]participantInfo, error) {
	rows, err := db.ListParticipants(h.db)
	if err != nil {
		return nil, err
	}
	out := make([]participantInfo, 0, len(rows))
	for _, p := range rows {
		out = append(out, participantInfo{
			Key:         p.Key,
			Label:       p.Label,
			EssayNum:    p.EssayNum,
			DurationSec: float64(p.DurationMs) / 1000,
			Events:      p.EventCount,
			Ops:         p.OpCount,
		})
	}
	return out, nil
}

func (h *handlers) handleIndex(c *gin.Context) {
	list, err := h.participants()
	if err != nil {
		c.HTML(http.StatusInternalServerError, "layout.html", gin.H{
			"page":  "index",
			"error": err.Error(),
		})
		return
	}
	c.HTML(http.StatusOK, "layout.html", gin.H{
		"page":         "index",
		"participants": list,
	})
}

func (h *handlers) handleReplay(c *gin.Context) {
	key, essay, err := ingest.ParseParticipant(c.Query("participant"))
	if err != nil {
		c.HTML(http.StatusBadRequest, "layout.html", gin.H{
			"page":  "index",
			"error": err.Error(),
		})
		return
	}
	c.HTML(http.StatusOK, "layout.html", gin.H{
		"page":        "replay",
		"participant": key,
		"label":       ingest.ParticipantLabel(essay),
	})
}

func (h *handlers) handleParticipants(c *gin.Context) {
	list, err := h.participants()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) handleRuns(c *gin.Context) {
	runs, err := db.ListIngestRuns(h.db, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *handlers) handleCreateView(c *gin.Context) {
	var req createViewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Participant == "" {
		req.Participant = c.Query("participant")
	}

	sess, err := h.reg.Create(req.Participant)
	if err != nil {
		writeError(c, err)
		return
	}
	state := sess.Snapshot()
	_, essay, _ := ingest.ParseParticipant(sess.Participant())
	c.JSON(http.StatusCreated, viewInfo{
		ID:          sess.ID(),
		Participant: sess.Participant(),
		Label:       ingest.ParticipantLabel(essay),
		DurationSec: state.DurationSec,
		Total:       state.Total,
		Markers:     sess.Markers(),
		Speeds:      sess.Speeds(),
		State:       state,
	})
}

// lookup resolves the :id param or writes a 404.
func (h *handlers) lookup(c *gin.Context) (*playback.Session, bool) {
	sess, ok := h.reg.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "view not found"})
		return nil, false
	}
	return sess, true
}

func (h *handlers) handleViewState(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h *handlers) handleDeleteView(c *gin.Context) {
	if !h.reg.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "view not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) handleTransport(play bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := h.lookup(c)
		if !ok {
			return
		}
		var err error
		if play {
			err = sess.Play()
		} else {
			err = sess.Pause()
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess.Snapshot())
	}
}

func (h *handlers) handleSpeed(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	var req speedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Speed == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "speed is required"})
		return
	}
	if err := sess.SetSpeed(*req.Speed); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h *handlers) handleSeek(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := applySeek(sess, req.Percent, req.Event); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess.Snapshot())
}

// applySeek starts a seek by percent or by event index. Completion is
// reported through the session's seek updates.
func applySeek(sess *playback.Session, percent *float64, event *int) error {
	var err error
	switch {
	case event != nil:
		_, err = sess.SeekToEvent(*event)
	case percent != nil:
		_, err = sess.Seek(*percent)
	default:
		err = errSeekTarget
	}
	return err
}

var errSeekTarget = errors.New("percent or event is required")

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrLogFetch):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrLogStructure),
		errors.Is(err, editor.ErrMalformedLog),
		errors.Is(err, playback.ErrNoDuration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadParticipant),
		errors.Is(err, errSeekTarget),
		errors.Is(err, playback.ErrInvalidPercent),
		errors.Is(err, playback.ErrInvalidSpeed),
		errors.Is(err, playback.ErrNoEvent):
		return http.StatusBadRequest
	case errors.Is(err, playback.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
