package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"NewsDigest/internal/ports"
)

// CronScheduler fires the job on a standard five-field cron expression in a timezone.
type CronScheduler struct {
	spec       string
	location   *time.Location
	runOnStart bool
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	wg   sync.WaitGroup
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler configured via cron expression string.
func NewCronScheduler(spec string, loc *time.Location, runOnStart bool, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{spec: spec, location: loc, runOnStart: runOnStart, logger: logger}
}

// Start registers job and starts the cron loop. Overlapping triggers are skipped while
// a previous run is still in progress.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	scheduler := cron.New(
		cron.WithLocation(c.location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	run := func() {
		if ctx.Err() != nil {
			return
		}
		c.wg.Add(1)
		defer c.wg.Done()
		trigger := time.Now().In(c.location)
		c.logger.Info("cron triggered", "at", trigger)
		job(trigger)
	}
	if _, err := scheduler.AddFunc(c.spec, run); err != nil {
		return fmt.Errorf("schedule %q: %w", c.spec, err)
	}

	scheduler.Start()
	c.cron = scheduler
	c.logger.Info("scheduled pipeline", "cron", c.spec, "timezone", c.location.String())

	if c.runOnStart {
		go run()
	}
	return nil
}

// Stop halts the cron loop and waits for a running job or ctx, whichever comes first.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	scheduler := c.cron
	c.cron = nil
	c.mu.Unlock()

	if scheduler == nil {
		return nil
	}
	<-scheduler.Stop().Done()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
