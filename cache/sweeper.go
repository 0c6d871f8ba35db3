package cache

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// StartSweeper schedules periodic budget enforcement, e.g. schedule "@every 5m".
func (d *DiskCache) StartSweeper(schedule string) error {
	d.cronMu.Lock()
	defer d.cronMu.Unlock()
	if d.sweeper != nil {
		return nil
	}

	c := cron.New()
	var sweepJob cron.Job
	sweepJob = cron.FuncJob(func() {
		if _, err := d.EvictIfOverBudget(); err != nil {
			Logger.Error("Disk cache sweep failed", "error", err)
		}
	})
	sweepJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(sweepJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(schedule, sweepJob); err != nil {
		return fmt.Errorf("invalid disk cache sweep schedule %q: %w", schedule, err)
	}
	Logger.Info("Adding disk cache sweep scheduler", "schedule", schedule)
	c.Start()
	d.sweeper = c
	return nil
}

// StopSweeper stops the periodic sweep and waits for a running one to finish
func (d *DiskCache) StopSweeper() {
	d.cronMu.Lock()
	defer d.cronMu.Unlock()
	if d.sweeper == nil {
		return
	}
	<-d.sweeper.Stop().Done()
	d.sweeper = nil
}
