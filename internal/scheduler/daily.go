package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Daily runs Job once a day at HourUTC:00.
type Daily struct {
	Name         string
	HourUTC      int
	RunAtStartup bool
	Job          func(ctx context.Context) error
	Logger       *zap.Logger

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// NextRun returns the first HourUTC:00 strictly after now.
func NextRun(now time.Time, hourUTC int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// Start runs the schedule in a goroutine until ctx is cancelled.
func (d *Daily) Start(ctx context.Context) {
	go d.Run(ctx)
}

// Run blocks until ctx is cancelled.
func (d *Daily) Run(ctx context.Context) {
	now, after := d.now, d.after
	if now == nil {
		now = time.Now
	}
	if after == nil {
		after = time.After
	}

	if d.RunAtStartup {
		d.runOnce(ctx)
	}

	for {
		next := NextRun(now(), d.HourUTC)
		d.Logger.Debug("next scheduled run", zap.String("job", d.Name), zap.Time("at", next))

		select {
		case <-ctx.Done():
			return
		case <-after(next.Sub(now())):
			d.runOnce(ctx)
		}
	}
}

func (d *Daily) runOnce(ctx context.Context) {
	start := time.Now()
	if err := d.Job(ctx); err != nil {
		d.Logger.Error("scheduled job failed", zap.String("job", d.Name), zap.Error(err))
		return
	}
	d.Logger.Info("scheduled job finished", zap.String("job", d.Name), zap.Duration("took", time.Since(start)))
}
