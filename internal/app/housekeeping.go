package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"notifyengine/pkg/logger"
	"notifyengine/pkg/trace"
)

// Job is a periodic task reporting how many items it handled.
type Job func(ctx context.Context) (int, error)

// Housekeeper runs the worker's periodic jobs on cron schedules. A job
// still running when its next tick fires is skipped.
type Housekeeper struct {
	cron       *cron.Cron
	logger     *zap.Logger
	jobTimeout time.Duration
}

func NewHousekeeper(loc *time.Location, logger *zap.Logger) *Housekeeper {
	return &Housekeeper{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:     logger,
		jobTimeout: 5 * time.Minute,
	}
}

// Add schedules job under spec, e.g. "@every 1m" or "0 10 * * *".
func (h *Housekeeper) Add(name, spec string, job Job) error {
	if _, err := h.cron.AddFunc(spec, func() { h.run(name, job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	h.logger.Info("Scheduled housekeeping job", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (h *Housekeeper) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(trace.Ensure(context.Background()), h.jobTimeout)
	defer cancel()
	log := logger.WithTrace(ctx, h.logger).With(zap.String("job", name))

	start := time.Now()
	n, err := job(ctx)
	if err != nil {
		log.Error("Housekeeping job failed", zap.Int("handled", n), zap.Error(err))
		return
	}
	log.Debug("Housekeeping job finished",
		zap.Int("handled", n),
		zap.Duration("took", time.Since(start)),
	)
}

func (h *Housekeeper) Start() {
	h.cron.Start()
}

// Stop waits for running jobs to return.
func (h *Housekeeper) Stop() {
	<-h.cron.Stop().Done()
}

// Housekeeping registers sweep, dedup cleanup and, when enabled, the
// inactivity scan against the dispatcher's sweep.
func (c *Components) Housekeeping(sweep Job) (*Housekeeper, error) {
	h := NewHousekeeper(c.Config.Location(), c.Logger)
	cfg := c.Config.Housekeeping

	if err := h.Add("sweep", cfg.SweepSchedule, sweep); err != nil {
		return nil, err
	}
	if err := h.Add("dedup_cleanup", cfg.DedupCleanupSchedule, c.Dedup.CleanupExpired); err != nil {
		return nil, err
	}
	if c.Config.Inactivity.Enabled {
		if err := h.Add("inactivity_scan", c.Config.Inactivity.Schedule, c.InactivityScanner().Scan); err != nil {
			return nil, err
		}
	}
	return h, nil
}
