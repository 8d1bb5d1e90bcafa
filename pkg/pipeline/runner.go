// Package pipeline runs one audit: walk the workspace, enrich and classify
// tasks, then notify the people responsible.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/clockwatch/pkg/compliance"
	"github.com/harrisonrobin/clockwatch/pkg/config"
	"github.com/harrisonrobin/clockwatch/pkg/enrich"
	"github.com/harrisonrobin/clockwatch/pkg/identity"
	"github.com/harrisonrobin/clockwatch/pkg/logger"
	"github.com/harrisonrobin/clockwatch/pkg/notify"
	"github.com/harrisonrobin/clockwatch/pkg/walker"
)

// Source is everything a run reads from the task tracker.
type Source interface {
	walker.Source
	enrich.CommentSource
}

// Report summarizes a run.
type Report struct {
	RunID          string
	Tasks          int
	Enriched       int
	Skipped        int
	Issues         int
	ReviewerAlerts int
	Compliant      int
	Ignored        int
	Notify         notify.Report
	// Partial is set when the run deadline cut task collection short.
	Partial  bool
	Duration time.Duration
}

type Runner struct {
	teamID     string
	runTimeout time.Duration
	now        func() time.Time

	walker   *walker.Walker
	enricher *enrich.Enricher
	filter   *compliance.Filter
	router   *notify.Router
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock fixes the reference time used by every stage.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New wires the stages of a run from cfg. cfg is expected to be validated.
func New(cfg *config.Config, src Source, sink notify.Sink, opts ...Option) (*Runner, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	ids, err := identity.New(cfg.Identities, cfg.Managers)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	activity, err := enrich.NewActivitySource(cfg.ActivitySource, src, cfg.StatusUpdateField)
	if err != nil {
		return nil, err
	}

	return &Runner{
		teamID:     cfg.TeamID,
		runTimeout: cfg.RunTimeout,
		now:        o.now,
		walker: walker.New(src, cfg.TrackedSpaces,
			walker.WithConcurrency(cfg.MaxConcurrency),
			walker.WithClock(o.now),
		),
		enricher: enrich.New(activity,
			enrich.WithRules(enrich.DefaultRules(cfg.ReviewStatuses, cfg.DeployStatuses)),
			enrich.WithConcurrency(cfg.MaxConcurrency),
		),
		filter: compliance.New(cfg.RelevantStatuses,
			compliance.WithClock(o.now),
			compliance.WithLocation(loc),
		),
		router: notify.NewRouter(ids, sink, notify.WithConcurrency(cfg.MaxConcurrency)),
	}, nil
}

// Run performs one audit. Only a failure to list the workspace's spaces is
// returned as an error; everything else is logged and reflected in Report.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	started := r.now()
	report := Report{RunID: uuid.NewString()}
	log := logger.FromContext(ctx).With("run_id", report.RunID)
	ctx = logger.ContextWithLogger(ctx, log)

	log.Info("run started", "team", r.teamID)

	collectCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.runTimeout > 0 {
		collectCtx, cancel = context.WithTimeout(ctx, r.runTimeout)
	}
	defer cancel()

	raws, err := r.walker.CollectActiveTasks(collectCtx, r.teamID)
	if err != nil {
		log.Error("run aborted", "error", err)
		return report, fmt.Errorf("run %s: %w", report.RunID, err)
	}
	report.Tasks = len(raws)

	tasks := r.enricher.EnrichAll(collectCtx, raws)
	report.Enriched = len(tasks)
	report.Skipped = report.Tasks - report.Enriched

	if errors.Is(collectCtx.Err(), context.DeadlineExceeded) {
		report.Partial = true
		log.Warn("run deadline exceeded, results are partial", "timeout", r.runTimeout)
	}

	result := r.filter.Partition(tasks)
	report.Issues = len(result.Issues)
	report.ReviewerAlerts = len(result.ReviewerAlerts)
	report.Compliant = result.Compliant
	report.Ignored = result.Ignored

	report.Notify = r.router.Dispatch(ctx, result)
	report.Duration = r.now().Sub(started)

	log.Info("run finished",
		"tasks", report.Tasks,
		"skipped", report.Skipped,
		"issues", report.Issues,
		"reviewer_alerts", report.ReviewerAlerts,
		"compliant", report.Compliant,
		"ignored", report.Ignored,
		"sent", report.Notify.Sent,
		"failed", report.Notify.Failed,
		"partial", report.Partial,
	)
	return report, nil
}
