// Package compliance decides which tasks are missing tracked time or a
// same-day update, and which need a reviewer assigned.
package compliance

import (
	"strings"
	"time"

	"github.com/harrisonrobin/clockwatch/pkg/model"
)

var DefaultRelevantStatuses = []string{"in progress", "code review", "testing", "ready to prod"}

type Outcome int

const (
	// Ignored tasks are not in a relevant status.
	Ignored Outcome = iota
	Compliant
	NonCompliant
	NeedsReviewer
)

func (o Outcome) String() string {
	switch o {
	case Compliant:
		return "compliant"
	case NonCompliant:
		return "non-compliant"
	case NeedsReviewer:
		return "needs-reviewer"
	default:
		return "ignored"
	}
}

// Verdict is the classification of one task. Issue is set only for
// NonCompliant verdicts.
type Verdict struct {
	Outcome Outcome
	Issue   model.Issue
}

type Filter struct {
	relevant []string
	now      func() time.Time
	loc      *time.Location
}

type Option func(*Filter)

// WithClock sets the reference time of the run.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) {
		if now != nil {
			f.now = now
		}
	}
}

// WithLocation sets the time zone in which calendar dates are compared.
func WithLocation(loc *time.Location) Option {
	return func(f *Filter) {
		if loc != nil {
			f.loc = loc
		}
	}
}

// New creates a Filter. relevantStatuses are matched as lower-case substrings
// of the task status; nil selects DefaultRelevantStatuses.
func New(relevantStatuses []string, opts ...Option) *Filter {
	if relevantStatuses == nil {
		relevantStatuses = DefaultRelevantStatuses
	}
	f := &Filter{now: time.Now, loc: time.Local}
	for _, s := range relevantStatuses {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			f.relevant = append(f.relevant, s)
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsRelevant reports whether status contains one of the relevant statuses.
func (f *Filter) IsRelevant(status string) bool {
	status = strings.ToLower(status)
	for _, s := range f.relevant {
		if strings.Contains(status, s) {
			return true
		}
	}
	return false
}

// Classify evaluates one task against the reference time of the filter.
func (f *Filter) Classify(task model.Task) Verdict {
	return f.classifyAt(task, f.now())
}

func (f *Filter) classifyAt(task model.Task, now time.Time) Verdict {
	if !f.IsRelevant(task.Status) {
		return Verdict{Outcome: Ignored}
	}
	if task.NeedsReviewerAssignment {
		return Verdict{Outcome: NeedsReviewer}
	}

	var kinds []model.IssueKind
	if task.TimeSpent == 0 {
		kinds = append(kinds, model.TimeNotTracked)
	}
	if task.LastActivityAt == nil || !sameDay(*task.LastActivityAt, now, f.loc) {
		kinds = append(kinds, model.StaleUpdate)
	}
	if len(kinds) == 0 {
		return Verdict{Outcome: Compliant}
	}
	return Verdict{Outcome: NonCompliant, Issue: model.Issue{Task: task, Kinds: kinds}}
}

// Result is the classification of a whole run, in upstream order.
type Result struct {
	Issues         []model.Issue
	ReviewerAlerts []model.Task
	Compliant      int
	Ignored        int
}

// Partition classifies every task against a single reference time.
func (f *Filter) Partition(tasks []model.Task) Result {
	now := f.now()
	var r Result
	for _, t := range tasks {
		v := f.classifyAt(t, now)
		switch v.Outcome {
		case NonCompliant:
			r.Issues = append(r.Issues, v.Issue)
		case NeedsReviewer:
			r.ReviewerAlerts = append(r.ReviewerAlerts, t)
		case Compliant:
			r.Compliant++
		default:
			r.Ignored++
		}
	}
	return r
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
