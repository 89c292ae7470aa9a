package viewer

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom,
// month, dow) plus descriptors such as @every.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const reapSchedule = "@every 1m"

// newScheduler registers the idle-view reaper and, when configured, the
// periodic re-import of the CSV.
func newScheduler(opts StartOpts, reg *Registry) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(cronParser))

	idle := opts.Config.Viewer.IdleTimeout
	if _, err := c.AddFunc(reapSchedule, func() { reg.ReapIdle(time.Now(), idle) }); err != nil {
		return nil, fmt.Errorf("viewer: schedule reaper: %w", err)
	}

	if expr := opts.Config.Ingest.Schedule; expr != "" {
		csv := opts.Config.Data.CSV
		if _, err := c.AddFunc(expr, func() { reimport(opts.DB, csv, "schedule") }); err != nil {
			return nil, fmt.Errorf("viewer: schedule ingest %q: %w", expr, err)
		}
	}
	return c, nil
}
