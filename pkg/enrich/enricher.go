// Package enrich turns raw tracker tasks into normalized model.Task values:
// who is responsible for the current status, how much time they logged and
// when they last posted an update.
package enrich

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/harrisonrobin/clockwatch/pkg/logger"
	"github.com/harrisonrobin/clockwatch/pkg/model"
	"github.com/harrisonrobin/clockwatch/pkg/walker"
)

const DefaultConcurrency = 5

type Enricher struct {
	rules       []StatusRule
	activity    ActivitySource
	concurrency int
}

type Option func(*Enricher)

func WithRules(rules []StatusRule) Option {
	return func(e *Enricher) {
		if len(rules) > 0 {
			e.rules = rules
		}
	}
}

// WithConcurrency bounds how many tasks of one list are enriched at once.
func WithConcurrency(n int) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func New(activity ActivitySource, opts ...Option) *Enricher {
	e := &Enricher{
		rules:       DefaultRules(nil, nil),
		activity:    activity,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich normalizes one raw task. It returns false for tasks without a status
// and for tasks that could not be fully enriched before ctx ended.
func (e *Enricher) Enrich(ctx context.Context, raw walker.RawTask) (model.Task, bool) {
	t := raw.Task
	if ctx.Err() != nil {
		return model.Task{}, false
	}
	if t.Status == nil || strings.TrimSpace(t.Status.Status) == "" {
		logger.FromContext(ctx).Info("skipping task without status", "task", t.ID, "name", t.Name)
		return model.Task{}, false
	}
	status := strings.ToLower(strings.TrimSpace(t.Status.Status))
	rule := MatchRule(e.rules, status)
	responsible := ResolveResponsible(t, rule)

	task := model.Task{
		ID:                      t.ID,
		Name:                    t.Name,
		URL:                     t.URL,
		SpaceName:               raw.SpaceName,
		Status:                  status,
		TimeSpent:               ResolveTimeSpent(t, rule),
		Responsible:             responsible,
		Assignees:               assigneeNames(t),
		NeedsReviewerAssignment: rule.Kind == KindReview && len(responsible) == 0,
	}
	if e.activity != nil {
		at, err := e.activity.LastActivity(ctx, t, responsible)
		if err != nil {
			logger.FromContext(ctx).Warn("skipping task, activity unknown", "task", t.ID, "error", err)
			return model.Task{}, false
		}
		task.LastActivityAt = at
	}
	return task, true
}

// EnrichAll enriches raw tasks list by list. Tasks of the same list run
// concurrently up to the configured limit; lists are handled one after the
// other. The result keeps the input order minus skipped tasks. Once ctx ends
// the remaining tasks are dropped.
func (e *Enricher) EnrichAll(ctx context.Context, raws []walker.RawTask) []model.Task {
	results := make([]model.Task, len(raws))
	kept := make([]bool, len(raws))

	for start := 0; start < len(raws); {
		if ctx.Err() != nil {
			logger.FromContext(ctx).Warn("enrichment abandoned", "remaining", len(raws)-start, "error", ctx.Err())
			break
		}
		end := start + 1
		for end < len(raws) && raws[end].ListID == raws[start].ListID {
			end++
		}

		g := new(errgroup.Group)
		g.SetLimit(e.concurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i], kept[i] = e.Enrich(ctx, raws[i])
				return nil
			})
		}
		_ = g.Wait()
		start = end
	}

	out := make([]model.Task, 0, len(raws))
	for i, ok := range kept {
		if ok {
			out = append(out, results[i])
		}
	}
	return out
}
