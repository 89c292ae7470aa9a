// Package viewer serves the replay UI: a participant picker, the replay
// page, and a JSON API whose views are playback sessions streamed to the
// browser over SSE or a websocket.
package viewer

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/gptreplay/internal/config"
	"github.com/zulandar/gptreplay/internal/db"
	"github.com/zulandar/gptreplay/internal/ingest"
	"github.com/zulandar/gptreplay/internal/playback"
	"github.com/zulandar/gptreplay/internal/timeline"
	"gorm.io/gorm"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed assets/*
var assetsFS embed.FS

const defaultHeartbeat = 15 * time.Second

// StartOpts holds configuration for the viewer server.
type StartOpts struct {
	DB     *gorm.DB
	Config *config.Config
	Out    io.Writer

	// Heartbeat is the SSE keep-alive interval. Zero means 15s.
	Heartbeat time.Duration
}

// Start launches the viewer HTTP server together with the idle-view reaper,
// the scheduled re-import and the CSV watcher when configured. It blocks
// until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("viewer: db is required")
	}
	if opts.Config == nil {
		cfg, err := config.Parse(nil)
		if err != nil {
			return fmt.Errorf("viewer: %w", err)
		}
		opts.Config = cfg
	}

	gin.SetMode(gin.ReleaseMode)
	router, reg, err := NewRouter(opts)
	if err != nil {
		return err
	}
	defer reg.CloseAll()

	sched, err := newScheduler(opts, reg)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	if opts.Config.Ingest.Watch {
		csv := opts.Config.Data.CSV
		go func() {
			err := ingest.Watch(ctx, csv, ingest.DefaultWatchDebounce, func() {
				reimport(opts.DB, csv, "watch")
			})
			if err != nil {
				log.Printf("viewer: watch %s: %v", csv, err)
			}
		}()
	}

	addr := fmt.Sprintf(":%d", opts.Config.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Replay viewer running at http://localhost:%d\n", opts.Config.Server.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("viewer: %w", err)
	}
	return nil
}

// NewRouter builds the gin router and the view registry behind it.
func NewRouter(opts StartOpts) (*gin.Engine, *Registry, error) {
	if opts.DB == nil {
		return nil, nil, fmt.Errorf("viewer: db is required")
	}
	if opts.Config == nil {
		cfg, err := config.Parse(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("viewer: %w", err)
		}
		opts.Config = cfg
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, nil, fmt.Errorf("viewer: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	gormDB := opts.DB
	reg := NewRegistry(func(key string) (*ingest.Session, error) {
		return db.LoadSession(gormDB, key)
	}, SessionOptions(opts.Config))

	h := &handlers{
		db:        gormDB,
		reg:       reg,
		heartbeat: opts.Heartbeat,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	registerRoutes(router, h)
	return router, reg, nil
}

// SessionOptions maps the playback and seek sections of cfg onto session
// options.
func SessionOptions(cfg *config.Config) playback.Options {
	return playback.Options{
		FrameInterval:   cfg.Playback.FrameInterval,
		ProgressEpsilon: cfg.Playback.ProgressEpsilon,
		DefaultSpeed:    cfg.Playback.DefaultSpeed,
		Speeds:          cfg.Playback.Speeds,
		Seek: playback.SeekOpts{
			PollInterval: cfg.Seek.PollInterval,
			Tolerance:    cfg.Seek.Tolerance,
			MaxAttempts:  cfg.Seek.MaxAttempts,
		},
	}
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"clock": timeline.FormatClock,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

func reimport(gormDB *gorm.DB, path, trigger string) {
	run, err := db.ImportFile(gormDB, path, trigger)
	if err != nil {
		log.Printf("viewer: %s import of %s failed: %v", trigger, path, err)
		return
	}
	log.Printf("viewer: %s import %s: %s, %d participants, %d rows skipped",
		trigger, run.RunID, run.Status, run.Participants, run.Skipped)
}
