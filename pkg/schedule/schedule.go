// Package schedule runs a job on a cron expression until its context ends.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harrisonrobin/clockwatch/pkg/logger"
)

// Job is one scheduled unit of work. Its error is logged, never fatal.
type Job func(ctx context.Context) error

// Validate checks a standard five-field expression or a descriptor such as
// "@hourly".
func Validate(expr string) error {
	if expr == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("cron expression is invalid: %w", err)
	}
	return nil
}

// cronLogger adapts Logger to cron's logging interface.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}

// Run starts job on expr in loc and blocks until ctx is done. A run still in
// progress when the next tick fires makes that tick a no-op. On shutdown Run
// waits for the running job, which sees a cancelled context.
func Run(ctx context.Context, expr string, loc *time.Location, job Job) error {
	if err := Validate(expr); err != nil {
		return err
	}
	if loc == nil {
		loc = time.Local
	}
	log := logger.FromContext(ctx)
	cl := cronLogger{log: log}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	id, err := c.AddFunc(expr, func() {
		if err := job(ctx); err != nil {
			log.Error("scheduled run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %q: %w", expr, err)
	}

	c.Start()
	log.Info("scheduler started", "schedule", expr, "timezone", loc.String(), "next", c.Entry(id).Next)

	<-ctx.Done()
	log.Info("scheduler stopping")
	<-c.Stop().Done()
	return nil
}
